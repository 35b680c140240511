// Package build implements the top-level ingestion algorithm (spec.md
// §4.7): list, pair, diff, dispatch across the worker cluster, reconcile
// deletions, sort, and atomically persist the manifest.
package build

import (
	"context"
	"path"
	"strings"

	"github.com/nocturnelabs/photomanifest/cluster"
	"github.com/nocturnelabs/photomanifest/config"
	apperrors "github.com/nocturnelabs/photomanifest/errors"
	"github.com/nocturnelabs/photomanifest/hooks"
	"github.com/nocturnelabs/photomanifest/manifest"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/processor"
	"github.com/nocturnelabs/photomanifest/store"
)

// Options carries the CLI-level force flags that modulate a single Run
// (spec.md §6's coordinator-mode flags). The worker count override is
// applied to the TaskRunner by the caller, not carried here.
type Options struct {
	ForceAll        bool
	ForceManifest   bool
	ForceThumbnails bool
}

// Summary is the final per-run tally spec.md §7 requires the build to
// print: counts by outcome plus the manifest path written.
type Summary struct {
	New          int
	Processed    int
	Skipped      int
	Failed       int
	Deleted      int
	ManifestPath string
}

// Logger is the narrow structured-logging surface Run needs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// TaskRunner dispatches a batch of tasks and returns one outcome per task,
// indexed by TaskIndex. *cluster.Coordinator satisfies this directly; tests
// substitute an in-process fake instead of spawning a real worker cluster.
type TaskRunner interface {
	Run(ctx context.Context, tasks []cluster.Task) ([]cluster.TaskOutcome, error)
}

// Run executes spec.md §4.7 steps 1-9 against the given store and
// configuration, returning the final outcome summary.
func Run(ctx context.Context, cfg config.Config, s store.ObjectStore, runner TaskRunner, opts Options, logger Logger, metrics *hooks.InMemoryMetrics) (Summary, error) {
	// Step 1: load the existing manifest (empty when ForceAll or
	// ForceManifest wipes the prior state the build would otherwise diff
	// against; ForceThumbnails still loads it).
	var oldManifest model.Manifest
	var err error
	if opts.ForceAll || opts.ForceManifest {
		oldManifest = model.Manifest{}
	} else {
		oldManifest, err = manifest.Load(cfg.ManifestPath)
		if err != nil {
			return Summary{}, err
		}
	}

	// Step 2.
	existingMap := manifest.ExistingMap(oldManifest)

	// Step 3: list, filter by supported extension, pair Live Photos.
	objects, err := s.List(ctx, cfg.Storage.Prefix, cfg.Options.MaxPhotos)
	if err != nil {
		return Summary{}, apperrors.Wrap(apperrors.CategoryBackendUnreachable, "build.list", err)
	}
	photoObjects := filterSupported(objects, cfg.Options.SupportedFormats)

	var livePhotoMap map[string]model.StorageObject
	if cfg.Options.EnableLivePhotoDetection {
		livePhotoMap = store.DetectLivePhotos(objects, cfg.Options.SupportedFormats, config.LivePhotoVideoExtensions)
	}

	// Step 4: s3KeySet for deletion detection.
	liveKeys := make(map[string]bool, len(photoObjects))
	for _, obj := range photoObjects {
		liveKeys[obj.Key] = true
	}

	// Step 5: build tasks and launch the worker pool.
	tasks := make([]cluster.Task, len(photoObjects))
	for i, obj := range photoObjects {
		t := cluster.Task{TaskIndex: i, Object: obj}
		if rec, ok := existingMap[obj.Key]; ok {
			recCopy := rec
			t.ExistingRecord = &recCopy
		}
		if video, ok := livePhotoMap[obj.Key]; ok {
			videoCopy := video
			t.LivePhotoVideo = &videoCopy
		}
		tasks[i] = t
	}

	outcomes, err := runner.Run(ctx, tasks)
	if err != nil {
		return Summary{}, err
	}

	// Step 6: assemble the new manifest from non-failed outcomes.
	newManifest := make(model.Manifest, 0, len(outcomes))
	summary := Summary{ManifestPath: cfg.ManifestPath}
	for i, o := range outcomes {
		switch o.Outcome {
		case string(processor.OutcomeNew):
			summary.New++
		case string(processor.OutcomeProcessed):
			summary.Processed++
		case string(processor.OutcomeSkipped):
			summary.Skipped++
		case string(processor.OutcomeFailed):
			summary.Failed++
			if logger != nil {
				logger.Error("photo.process.failed", "key", tasks[i].Object.Key)
			}
			continue
		default:
			summary.Failed++
			continue
		}
		if o.Record != nil {
			newManifest = append(newManifest, *o.Record)
		}
	}
	if metrics != nil {
		for _, o := range outcomes {
			metrics.RecordOutcome(o.Outcome, 0)
			// A skipped photo never reaches the store; every other outcome
			// with a record means at least one successful Store.Get of
			// roughly Size bytes (spec.md §8's "exactly one fetch per
			// non-skipped photo" reuse property).
			if o.Outcome != string(processor.OutcomeSkipped) && o.Record != nil {
				metrics.RecordBytesFetched(o.Record.Size)
			}
		}
	}

	if err := checkUniqueIDs(newManifest); err != nil {
		return Summary{}, err
	}

	// Step 7: reconcile deletions, unless a force flag bypassed diffing
	// entirely (there is then no meaningful "missing from listing" set).
	if !opts.ForceAll && !opts.ForceManifest {
		summary.Deleted = manifest.ReconcileDeletions(oldManifest, liveKeys, cfg.ThumbnailDir)
		if metrics != nil {
			metrics.RecordDeletions(summary.Deleted)
		}
	}

	// Step 8.
	manifest.SortByDateTakenDesc(newManifest)

	// Step 9.
	if err := manifest.Save(cfg.ManifestPath, newManifest); err != nil {
		return Summary{}, err
	}

	if logger != nil {
		logger.Info("build.summary",
			"new", summary.New, "processed", summary.Processed, "skipped", summary.Skipped,
			"deleted", summary.Deleted, "failed", summary.Failed, "manifest", cfg.ManifestPath)
	}
	return summary, nil
}

// filterSupported keeps only objects whose extension is in formats
// (spec.md §4.7 step 3).
func filterSupported(objects []model.StorageObject, formats map[string]bool) []model.StorageObject {
	out := make([]model.StorageObject, 0, len(objects))
	for _, obj := range objects {
		ext := strings.ToLower(path.Ext(obj.Key))
		if formats[ext] {
			out = append(out, obj)
		}
	}
	return out
}

// checkUniqueIDs enforces spec.md §3's hard invariant: two distinct keys
// producing the same basename is a build failure, not a silent collision.
func checkUniqueIDs(m model.Manifest) error {
	seen := make(map[string]string, len(m))
	for _, rec := range m {
		if prevKey, ok := seen[rec.ID]; ok && prevKey != rec.S3Key {
			return apperrors.New(apperrors.CategoryConfig, "build.checkUniqueIDs",
				apperrors.ErrDuplicateID)
		}
		seen[rec.ID] = rec.S3Key
	}
	return nil
}
