// Package memtest provides an in-memory ObjectStore fake for processor,
// cluster, and build-driver tests, mirroring the teacher's pattern of
// injecting a storage interface (adapters/storage/s3.go's S3Client) rather
// than hitting a real backend in tests.
package memtest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/model"
)

// Object is a single fake backend entry.
type Object struct {
	model.StorageObject
	Body []byte
}

// Store is an in-memory store.ObjectStore implementation.
type Store struct {
	objects map[string]Object
	// Unreachable, when true, makes List/Get fail as if the backend were
	// down, for exercising CategoryBackendUnreachable propagation and
	// retryable-error handling (the returned error is apperrors.Transient).
	Unreachable bool
	// FlakyFailures, when positive, makes Get fail that many times with a
	// transient error before succeeding, independent of Unreachable, for
	// exercising retry-then-recover.
	FlakyFailures int
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Put adds or replaces an object.
func (s *Store) Put(obj Object) {
	s.objects[obj.Key] = obj
}

// Remove deletes an object, simulating a backend-side deletion.
func (s *Store) Remove(key string) {
	delete(s.objects, key)
}

func (s *Store) List(_ context.Context, prefix string, maxKeys int) ([]model.StorageObject, error) {
	if s.Unreachable {
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "memtest.list", fmt.Errorf("backend down"))
	}
	var out []model.StorageObject
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, obj.StorageObject)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if maxKeys > 0 && len(out) > maxKeys {
		out = out[:maxKeys]
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.FlakyFailures > 0 {
		s.FlakyFailures--
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "memtest.get", fmt.Errorf("backend down"))
	}
	if s.Unreachable {
		return nil, apperrors.Transient(apperrors.CategoryBackendUnreachable, "memtest.get", fmt.Errorf("backend down"))
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryNotFound, "memtest.get", fmt.Errorf("key not found: %s", key))
	}
	return obj.Body, nil
}

func (s *Store) PublicURL(key string) string {
	return "https://example-bucket.s3.test.amazonaws.com/test-bucket/" + key
}
