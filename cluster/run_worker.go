package cluster

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/nocturnelabs/photomanifest/codec"
	"github.com/nocturnelabs/photomanifest/config"
	"github.com/nocturnelabs/photomanifest/hooks"
	"github.com/nocturnelabs/photomanifest/processor"
	"github.com/nocturnelabs/photomanifest/store"
)

// RunWorker is the worker-mode entrypoint spec.md §6 names: it reads the
// environment a coordinator-spawned child is started with, opens the
// configured store, and runs the framed protocol loop over stdin/stdout
// until shutdown. The caller (cmd/photomanifest) selects worker mode via
// CLUSTER_WORKER=true or --cluster-worker.
func RunWorker(ctx context.Context, cfg config.Config) error {
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "worker-0"
	}
	concurrency := cfg.Performance.Worker.Concurrency
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	// libvips must be initialized before any codec.Backend call in this
	// process (mirrors the teacher's NewBackend(cfg), which calls
	// govips.Startup inline in its constructor).
	codec.Startup(cfg.Performance.Worker.Concurrency)
	defer codec.Shutdown()

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}

	// Logging must never touch stdout: that's the framed protocol channel
	// back to the coordinator. Every worker log line goes to stderr instead.
	logger := hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	p := processor.New(s, codec.NewBackend())
	w := &Worker{
		ID:          workerID,
		Concurrency: concurrency,
		Processor:   p,
		Hook:        hooks.NewPhotoHook(logger),
		Options: processor.Options{
			ForceAll:              os.Getenv("FORCE_MODE") == "true",
			ForceManifest:         os.Getenv("FORCE_MANIFEST") == "true",
			ForceThumbnails:       os.Getenv("FORCE_THUMBNAILS") == "true",
			ThumbnailDir:          cfg.ThumbnailDir,
			ThumbnailURLBase:      "/thumbnails",
			ThumbnailCustomDomain: cfg.Storage.CustomDomain,
			StoragePrefix:         cfg.Storage.Prefix,
		},
		In:  os.Stdin,
		Out: os.Stdout,
	}
	return w.Run(ctx)
}
