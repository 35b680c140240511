// Package github implements store.ObjectStore against a GitHub-hosted
// repository using google/go-github, grounded on
// other_examples/manifests/2lambda123-aquasecurity-trivy's use of the same
// client library.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/nocturnelabs/photomanifest/config"
	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/model"
)

// Store is the GitHub-hosted ObjectStore adapter.
type Store struct {
	client    *gogithub.Client
	owner     string
	repo      string
	branch    string
	path      string
	useRawURL bool
}

// New builds a Store from the GitHub section of config.Config.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var client *gogithub.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client = gogithub.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = gogithub.NewClient(nil)
	}

	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}

	return &Store{
		client:    client,
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		branch:    branch,
		path:      strings.Trim(cfg.Path, "/"),
		useRawURL: cfg.UseRawURL,
	}, nil
}

// List walks the repository tree under prefix via the Git Trees API
// (recursive) so a single call covers arbitrarily nested directories, and
// returns up to maxKeys entries.
func (s *Store) List(ctx context.Context, prefix string, maxKeys int) ([]model.StorageObject, error) {
	tree, _, err := s.client.Git.GetTree(ctx, s.owner, s.repo, s.branch, true)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackendUnreachable, "github.tree", err)
	}

	root := s.path
	fullPrefix := joinGithubPath(root, prefix)

	var out []model.StorageObject
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		key := entry.GetPath()
		if root != "" {
			if !strings.HasPrefix(key, root+"/") {
				continue
			}
			key = strings.TrimPrefix(key, root+"/")
		}
		if fullPrefix != "" && !strings.HasPrefix(entry.GetPath(), fullPrefix) {
			continue
		}
		if maxKeys > 0 && len(out) >= maxKeys {
			break
		}
		out = append(out, model.StorageObject{
			Key:  key,
			Size: entry.GetSize(),
			ETag: entry.GetSHA(),
		})
	}
	return out, nil
}

// Get fetches the full blob content for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath := joinGithubPath(s.path, key)
	fileContent, _, _, err := s.client.Repositories.GetContents(
		ctx, s.owner, s.repo, fullPath,
		&gogithub.RepositoryContentGetOptions{Ref: s.branch},
	)
	if err != nil {
		if resp, ok := err.(*gogithub.ErrorResponse); ok && resp.Response != nil && resp.Response.StatusCode == 404 {
			return nil, apperrors.New(apperrors.CategoryNotFound, "github.get", err)
		}
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "github.get", err)
	}
	if fileContent == nil {
		return nil, apperrors.New(apperrors.CategoryNotFound, "github.get", fmt.Errorf("%s is not a file", fullPath))
	}

	if fileContent.GetEncoding() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fileContent.GetContent(), "\n", ""))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryBackendUnreachable, "github.get.decode", err)
		}
		return decoded, nil
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "github.get.content", err)
	}
	return []byte(content), nil
}

// PublicURL returns either a raw.githubusercontent.com URL (useRawURL) or
// the standard github.com blob viewer URL.
func (s *Store) PublicURL(key string) string {
	fullPath := joinGithubPath(s.path, key)
	if s.useRawURL {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", s.owner, s.repo, s.branch, fullPath)
	}
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", s.owner, s.repo, s.branch, fullPath)
}

func joinGithubPath(root, rest string) string {
	root = strings.Trim(root, "/")
	rest = strings.Trim(rest, "/")
	switch {
	case root == "":
		return rest
	case rest == "":
		return root
	default:
		return root + "/" + rest
	}
}
