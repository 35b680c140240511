// Package store defines the ObjectStore contract (spec.md §4.1): a uniform
// read-only view over whatever backend holds the original image files.
package store

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/nocturnelabs/photomanifest/config"
	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/store/github"
	"github.com/nocturnelabs/photomanifest/store/s3"
)

// ObjectStore is the uniform read-only view of a backend holding photo
// originals. Implementations live in store/s3 and store/github.
type ObjectStore interface {
	// List returns up to maxKeys objects under prefix, in backend-defined
	// order. Fails with a CategoryBackendUnreachable error on transport
	// failure.
	List(ctx context.Context, prefix string, maxKeys int) ([]model.StorageObject, error)

	// Get fetches the full object body for key. Fails with
	// CategoryNotFound or CategoryBackendUnreachable.
	Get(ctx context.Context, key string) ([]byte, error)

	// PublicURL computes the externally reachable URL for key per the
	// backend's URL selection rules (spec.md §6).
	PublicURL(key string) string
}

// DetectLivePhotos pairs photo objects with motion objects sharing a
// common stem: same directory, same basename without extension, and a
// video extension in videoExts (spec.md §4.1). It is backend-agnostic, so
// it operates purely on the StorageObject listing rather than being part
// of each ObjectStore implementation.
func DetectLivePhotos(objects []model.StorageObject, photoExts, videoExts map[string]bool) map[string]model.StorageObject {
	videosByStem := make(map[string]model.StorageObject)
	for _, obj := range objects {
		ext := strings.ToLower(path.Ext(obj.Key))
		if videoExts[ext] {
			videosByStem[stem(obj.Key)] = obj
		}
	}

	pairs := make(map[string]model.StorageObject)
	for _, obj := range objects {
		ext := strings.ToLower(path.Ext(obj.Key))
		if !photoExts[ext] {
			continue
		}
		if video, ok := videosByStem[stem(obj.Key)]; ok {
			pairs[obj.Key] = video
		}
	}
	return pairs
}

// Open constructs the ObjectStore configured by cfg.Storage.Provider. Both
// the coordinator and its spawned workers call this so the provider switch
// lives in one place. The returned store retries its fetch step on
// transient errors per cfg.Performance.MaxRetries/RetryDelay.
func Open(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	var (
		s   ObjectStore
		err error
	)
	switch cfg.Storage.Provider {
	case config.ProviderGitHub:
		s, err = github.New(ctx, cfg.Storage)
	case config.ProviderS3:
		s, err = s3.New(ctx, cfg.Storage)
	default:
		return nil, fmt.Errorf("store: unknown storage provider %q", cfg.Storage.Provider)
	}
	if err != nil {
		return nil, err
	}
	return withRetry(s, cfg.Performance.MaxRetries, cfg.Performance.RetryDelay), nil
}

// retryStore wraps an ObjectStore's Get with the teacher's retry idiom
// (core/processor.go's runWithRetry, pipeline.go's runStep): bounded
// retries with a fixed delay, gated on apperrors.IsRetryable. Applied only
// to the fetch step, per spec.md §7's "transient network errors" scope —
// List failures abort the whole build rather than retrying.
type retryStore struct {
	ObjectStore
	maxRetries int
	delay      time.Duration
}

// withRetry wraps s so its Get calls retry transient failures.
func withRetry(s ObjectStore, maxRetries int, delay time.Duration) ObjectStore {
	return retryStore{ObjectStore: s, maxRetries: maxRetries, delay: delay}
}

func (r retryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	for i := 0; i <= r.maxRetries; i++ {
		data, err = r.ObjectStore.Get(ctx, key)
		if err == nil || !apperrors.IsRetryable(err) {
			return data, err
		}
		if i < r.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return data, err
}

// stem returns dir/basename-without-extension, used as the pairing key.
func stem(key string) string {
	dir := path.Dir(key)
	base := path.Base(key)
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	if dir == "." {
		return base
	}
	return dir + "/" + base
}
