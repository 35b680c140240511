// Package manifest loads, saves, and reconciles the single JSON catalog
// document (spec.md §3, §4.7 step 9). Atomic writes follow spec.md §9's
// "<manifest>.tmp then rename" directive directly — see DESIGN.md for why
// this is not inherited from the teacher's adapters/storage/local.go
// (which writes in place, not atomically).
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/model"
)

// Load reads the manifest at path. A missing file is not an error — it
// returns an empty manifest, matching a fresh-run start state.
func Load(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Manifest{}, nil
		}
		return nil, apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.load", err)
	}

	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.load.unmarshal", err)
	}
	return m, nil
}

// ExistingMap builds key → PhotoRecord from a loaded manifest, the
// existingMap of spec.md §4.7 step 2.
func ExistingMap(m model.Manifest) map[string]model.PhotoRecord {
	out := make(map[string]model.PhotoRecord, len(m))
	for _, rec := range m {
		out[rec.S3Key] = rec
	}
	return out
}

// SortByDateTakenDesc sorts m by dateTaken descending, ties broken by id
// ascending (spec.md §3, §8's sort-order invariant).
func SortByDateTakenDesc(m model.Manifest) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].DateTaken != m[j].DateTaken {
			return m[i].DateTaken > m[j].DateTaken
		}
		return m[i].ID < m[j].ID
	})
}

// Save writes m to path atomically: write to "<path>.tmp" then rename,
// creating parent directories as needed (spec.md §4.7 step 9, §9).
func Save(path string, m model.Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.mkdir", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.marshal", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.open", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.sync", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.close", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.CategoryManifestWrite, "manifest.save.rename", err)
	}
	return nil
}

// ReconcileDeletions implements spec.md §4.7 step 7: for every record in
// the old manifest whose key is absent from liveKeys, remove its
// thumbnail file (best-effort) and count it as a deletion. Returns the
// deletion count.
func ReconcileDeletions(old model.Manifest, liveKeys map[string]bool, thumbnailDir string) int {
	deleted := 0
	for _, rec := range old {
		if liveKeys[rec.S3Key] {
			continue
		}
		deleted++
		_ = os.Remove(filepath.Join(thumbnailDir, rec.ID+".webp"))
	}
	return deleted
}
