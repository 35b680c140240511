// Package s3 implements store.ObjectStore against an S3-compatible backend
// using aws-sdk-go-v2, grounded on the aws-sdk-go-v2/service/s3 usage in
// other_examples/manifests/sashko-guz-mage and
// other_examples/manifests/CodeTease-quirm (both image-pipeline repos
// wiring the S3 client directly rather than through an injected interface).
package s3

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nocturnelabs/photomanifest/config"
	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/utils"
)

// Store is the S3-compatible ObjectStore adapter.
type Store struct {
	client       *s3.Client
	bucket       string
	region       string
	endpoint     string
	prefix       string
	customDomain string
}

// New builds a Store from the S3 section of config.Config. ctx is used only
// for the initial credential/config resolution, not held past New.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackendUnreachable, "s3.config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:       client,
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     cfg.Endpoint,
		prefix:       cfg.Prefix,
		customDomain: cfg.CustomDomain,
	}, nil
}

// List returns up to maxKeys objects under prefix (spec.md §4.1).
func (s *Store) List(ctx context.Context, prefix string, maxKeys int) ([]model.StorageObject, error) {
	var out []model.StorageObject
	var continuationToken *string

	for {
		remaining := maxKeys - len(out)
		if maxKeys > 0 && remaining <= 0 {
			break
		}
		pageSize := int32(1000)
		if maxKeys > 0 && int32(remaining) < pageSize {
			pageSize = int32(remaining)
		}

		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			MaxKeys:           &pageSize,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryBackendUnreachable, "s3.list", err)
		}

		for _, obj := range resp.Contents {
			if obj.Key == nil {
				continue
			}
			so := model.StorageObject{Key: *obj.Key}
			if obj.Size != nil {
				so.Size = *obj.Size
			}
			if obj.LastModified != nil {
				so.LastModified = *obj.LastModified
			}
			if obj.ETag != nil {
				so.ETag = strings.Trim(*obj.ETag, `"`)
			}
			out = append(out, so)
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		continuationToken = resp.NextContinuationToken
	}
	return out, nil
}

// Get fetches the full object body for key (spec.md §4.1).
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, apperrors.New(apperrors.CategoryNotFound, "s3.get", err)
		}
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "s3.get", err)
	}
	defer resp.Body.Close()

	buf, err := utils.DrainReader(ctx, resp.Body, 256*1024)
	if err != nil {
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "s3.get.read", err)
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	return data, nil
}

// PublicURL computes the URL for key per the §6 rules: custom domain,
// AWS-standard, or generic endpoint form.
func (s *Store) PublicURL(key string) string {
	if s.customDomain != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.customDomain, "/"), s.bucket, key)
	}
	if strings.Contains(s.endpoint, "amazonaws.com") {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s/%s", s.bucket, s.region, s.bucket, key)
	}
	if s.endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s/%s", s.bucket, s.region, s.bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
