// Command photomanifest is the incremental photo-ingestion build driver
// (spec.md §6): coordinator mode lists a backend, dispatches a worker
// cluster, and writes the manifest; worker mode is entered by a
// coordinator-spawned child process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nocturnelabs/photomanifest/build"
	"github.com/nocturnelabs/photomanifest/cluster"
	"github.com/nocturnelabs/photomanifest/config"
	"github.com/nocturnelabs/photomanifest/hooks"
	"github.com/nocturnelabs/photomanifest/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	forceAll        bool
	forceManifest   bool
	forceThumbnails bool
	workerCount     int
	printConfig     bool
	clusterWorker   bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "photomanifest",
		Short: "Maintain the derived photo catalog manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().BoolVar(&f.forceAll, "force", false, "regenerate everything: manifest, EXIF, and thumbnails")
	cmd.Flags().BoolVar(&f.forceManifest, "force-manifest", false, "recompute manifest metadata, keep thumbnails where possible")
	cmd.Flags().BoolVar(&f.forceThumbnails, "force-thumbnails", false, "regenerate thumbnails, keep manifest metadata where possible")
	cmd.Flags().IntVar(&f.workerCount, "worker", 0, "worker count override (0 uses the configured default)")
	cmd.Flags().BoolVar(&f.printConfig, "config", false, "print the effective configuration as JSON and exit")
	cmd.Flags().BoolVar(&f.clusterWorker, "cluster-worker", false, "run in worker mode, reading WORKER_ID/WORKER_CONCURRENCY from the environment")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	cfg := loadConfig()

	if f.printConfig {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	if isWorkerMode(f) {
		return cluster.RunWorker(ctx, cfg)
	}

	return runCoordinator(ctx, cfg, f)
}

// isWorkerMode matches spec.md §6's worker-mode selection: the
// CLUSTER_WORKER env var, the --cluster-worker flag, or (for a coordinator
// re-executing itself) both being absent means coordinator mode.
func isWorkerMode(f *flags) bool {
	return f.clusterWorker || os.Getenv("CLUSTER_WORKER") == "true"
}

func runCoordinator(ctx context.Context, cfg config.Config, f *flags) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	setForceEnv(f)

	logger := hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	metrics := hooks.NewInMemoryMetrics()

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}

	maxWorkers := cfg.Performance.Worker.MaxWorkers
	if f.workerCount > 0 {
		maxWorkers = f.workerCount
	}
	coordinator := cluster.NewCoordinator(cfg.Performance.Worker.Concurrency, maxWorkers, cfg.Performance.Worker.StartupTimeout, logger)

	opts := build.Options{
		ForceAll:        f.forceAll,
		ForceManifest:   f.forceManifest,
		ForceThumbnails: f.forceThumbnails,
	}
	summary, err := build.Run(ctx, cfg, s, coordinator, opts, logger, metrics)
	if err != nil {
		return err
	}

	fmt.Printf("new=%d processed=%d skipped=%d deleted=%d failed=%d manifest=%s\n",
		summary.New, summary.Processed, summary.Skipped, summary.Deleted, summary.Failed, summary.ManifestPath)
	return nil
}

// setForceEnv mirrors the coordinator's force flags into the environment
// a spawned worker child inherits (spec.md §6: workers read FORCE_MODE,
// FORCE_MANIFEST, FORCE_THUMBNAILS).
func setForceEnv(f *flags) {
	if f.forceAll {
		os.Setenv("FORCE_MODE", "true")
	}
	if f.forceManifest {
		os.Setenv("FORCE_MANIFEST", "true")
	}
	if f.forceThumbnails {
		os.Setenv("FORCE_THUMBNAILS", "true")
	}
}

func loadConfig() config.Config {
	return config.Default()
}
