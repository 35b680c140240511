// Package config defines the pipeline's configuration surface (spec.md §6).
// Loading it from a file or flags is the caller's responsibility; this
// package only describes and validates the resulting struct.
package config

import (
	"errors"
	"runtime"
	"time"
)

// StorageProvider selects the ObjectStore backend.
type StorageProvider string

const (
	ProviderS3     StorageProvider = "s3"
	ProviderGitHub StorageProvider = "github"
)

// Config is the top-level configuration struct. Default() populates every
// field with the documented default so callers only need to override what
// they care about.
type Config struct {
	Storage     StorageConfig
	Options     OptionsConfig
	Performance PerformanceConfig
	Logging     LoggingConfig

	// ManifestPath and ThumbnailDir are resolved filesystem locations
	// (spec.md §6): "<root>/src/data/photos-manifest.json" and
	// "<root>/public/thumbnails" by default.
	ManifestPath string
	ThumbnailDir string
}

// StorageConfig carries both S3 and GitHub connection parameters; only the
// fields relevant to Storage.Provider are consulted.
type StorageConfig struct {
	Provider StorageProvider

	// S3.
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	CustomDomain    string

	// GitHub.
	Owner      string
	Repo       string
	Branch     string
	Token      string
	Path       string
	UseRawURL  bool
}

// OptionsConfig controls ingestion-wide behavior.
type OptionsConfig struct {
	DefaultConcurrency       int
	MaxPhotos                int
	EnableLivePhotoDetection bool
	ShowProgress             bool
	ShowDetailedStats        bool
	SupportedFormats         map[string]bool
}

// PerformanceConfig controls the worker pool.
type PerformanceConfig struct {
	Worker        WorkerConfig
	MemoryLimitMB int
	EnableCache   bool

	// MaxRetries and RetryDelay bound the retry applied to the storage fetch
	// step for transient network errors (spec.md §7): up to MaxRetries
	// further attempts, each after the same fixed RetryDelay.
	MaxRetries int
	RetryDelay time.Duration
}

// WorkerConfig sizes and times the coordinator/worker cluster (spec.md §4.6).
type WorkerConfig struct {
	MaxWorkers       int
	Concurrency      int // K: intra-worker task concurrency, default 5
	TimeoutMS        int
	UseClusterMode   bool
	StartupTimeout   time.Duration
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	Verbose      bool
	Level        string // "info", "warn", "error", "debug"
	OutputToFile bool
	LogFilePath  string
}

// HEICExtensions is the set of extensions that must be transcoded before
// decoding (spec.md §6).
var HEICExtensions = map[string]bool{".heic": true, ".heif": true, ".hif": true}

// LivePhotoVideoExtensions is the set of motion-file extensions paired with
// a photo during Live Photo detection (spec.md §6).
var LivePhotoVideoExtensions = map[string]bool{".mov": true, ".mp4": true}

func defaultSupportedFormats() map[string]bool {
	return map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
		".gif": true, ".bmp": true, ".tiff": true,
		".heic": true, ".heif": true, ".hif": true,
	}
}

// Default returns a Config populated with the defaults documented in
// spec.md §6.
func Default() Config {
	maxWorkers := runtime.NumCPU() / 2
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return Config{
		Storage: StorageConfig{
			Provider: ProviderS3,
			Branch:   "main",
		},
		Options: OptionsConfig{
			DefaultConcurrency:       10,
			MaxPhotos:                10000,
			EnableLivePhotoDetection: true,
			ShowProgress:             true,
			ShowDetailedStats:        true,
			SupportedFormats:         defaultSupportedFormats(),
		},
		Performance: PerformanceConfig{
			Worker: WorkerConfig{
				MaxWorkers:     maxWorkers,
				Concurrency:    5,
				TimeoutMS:      30000,
				UseClusterMode: true,
				StartupTimeout: 10 * time.Second,
			},
			EnableCache: true,
			MaxRetries:  3,
			RetryDelay:  200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		ManifestPath: "src/data/photos-manifest.json",
		ThumbnailDir: "public/thumbnails",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.Storage.Provider != ProviderS3 && c.Storage.Provider != ProviderGitHub {
		return errors.New("config: storage.provider must be \"s3\" or \"github\"")
	}
	if c.Storage.Provider == ProviderS3 && c.Storage.Bucket == "" {
		return errors.New("config: storage.bucket is required for the s3 provider")
	}
	if c.Storage.Provider == ProviderGitHub && (c.Storage.Owner == "" || c.Storage.Repo == "") {
		return errors.New("config: storage.owner and storage.repo are required for the github provider")
	}
	if c.Options.DefaultConcurrency <= 0 {
		return errors.New("config: options.defaultConcurrency must be positive")
	}
	if c.Options.MaxPhotos <= 0 {
		return errors.New("config: options.maxPhotos must be positive")
	}
	if len(c.Options.SupportedFormats) == 0 {
		return errors.New("config: options.supportedFormats must not be empty")
	}
	if c.Performance.Worker.MaxWorkers <= 0 {
		return errors.New("config: performance.worker.maxWorkers must be positive")
	}
	if c.Performance.Worker.Concurrency <= 0 {
		return errors.New("config: performance.worker.concurrency (K) must be positive")
	}
	if c.Performance.MaxRetries < 0 {
		return errors.New("config: performance.maxRetries must not be negative")
	}
	switch c.Logging.Level {
	case "info", "warn", "error", "debug":
	default:
		return errors.New("config: logging.level must be one of info|warn|error|debug")
	}
	return nil
}
