package build

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocturnelabs/photomanifest/cluster"
	"github.com/nocturnelabs/photomanifest/codec"
	"github.com/nocturnelabs/photomanifest/config"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/processor"
	"github.com/nocturnelabs/photomanifest/store/memtest"
	"github.com/nocturnelabs/photomanifest/thumbnail"
)

// fakeRunner processes tasks in-process through a real processor.Processor,
// standing in for the multi-process cluster so tests never spawn a real
// worker or depend on libvips.
type fakeRunner struct {
	p    *processor.Processor
	opts processor.Options
}

func (r *fakeRunner) Run(ctx context.Context, tasks []cluster.Task) ([]cluster.TaskOutcome, error) {
	out := make([]cluster.TaskOutcome, len(tasks))
	for i, t := range tasks {
		existingMap := map[string]model.PhotoRecord{}
		if t.ExistingRecord != nil {
			existingMap[t.Object.Key] = *t.ExistingRecord
		}
		liveMap := map[string]model.StorageObject{}
		if t.LivePhotoVideo != nil {
			liveMap[t.Object.Key] = *t.LivePhotoVideo
		}
		rec, outcome := r.p.Process(ctx, t.Object, existingMap, liveMap, r.opts)
		out[i] = cluster.TaskOutcome{Record: rec, Outcome: string(outcome)}
	}
	return out, nil
}

// passthroughCodec stands in for codec.Backend so tests never decode a
// real image through libvips.
type passthroughCodec struct{}

func (passthroughCodec) Preprocess(data []byte, key string) ([]byte, error) { return data, nil }
func (passthroughCodec) Metadata(data []byte) (codec.Metadata, error) {
	return codec.Metadata{Width: 10, Height: 10, Orientation: 1}, nil
}

func newTestConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ManifestPath = filepath.Join(dir, "manifest.json")
	cfg.ThumbnailDir = filepath.Join(dir, "thumbnails")
	require.NoError(t, os.MkdirAll(cfg.ThumbnailDir, 0o755))
	return cfg
}

func newFakeRunner(s *memtest.Store) *fakeRunner {
	p := processor.New(s, nil)
	p.Codec = passthroughCodec{}
	p.Thumbnail = func(data []byte, id, dir, urlPrefix string, force bool) (thumbnail.Result, error) {
		return thumbnail.Result{ThumbnailURL: urlPrefix + "/" + id + ".webp", Blurhash: "hash"}, nil
	}
	return &fakeRunner{p: p, opts: processor.Options{StoragePrefix: "photos/"}}
}

func TestRun_FreshBuildProducesNewRecordsSortedByDateDesc(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir)

	s := memtest.New()
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/2024-01-15_dusk_1250views.jpg", LastModified: time.Now()}, Body: []byte("a")})
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/2023-12-31.png", LastModified: time.Now()}, Body: []byte("b")})

	runner := newFakeRunner(s)
	summary, err := Run(context.Background(), cfg, s, runner, Options{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.New)
	assert.Equal(t, 0, summary.Failed)

	m, err := os.ReadFile(cfg.ManifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(m), "2024-01-15")

	var written model.Manifest
	require.NoError(t, json.Unmarshal(m, &written))
	require.Len(t, written, 2)
	assert.Equal(t, "2024-01-15_dusk_1250views", written[0].ID)
	assert.Equal(t, "2024-01-15T00:00:00.000Z", written[0].DateTaken)
	assert.Equal(t, "2023-12-31", written[1].ID)
	assert.Equal(t, "2023-12-31T00:00:00.000Z", written[1].DateTaken)
}

func TestRun_ReconcilesDeletions(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir)

	s := memtest.New()
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/a.jpg", LastModified: time.Now()}, Body: []byte("a")})
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/b.jpg", LastModified: time.Now()}, Body: []byte("b")})

	runner := newFakeRunner(s)
	_, err := Run(context.Background(), cfg, s, runner, Options{}, nil, nil)
	require.NoError(t, err)

	s.Remove("photos/b.jpg")
	summary, err := Run(context.Background(), cfg, s, runner, Options{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
}

func TestRun_ForceAllSkipsDeletionReconciliation(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir)

	s := memtest.New()
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/a.jpg", LastModified: time.Now()}, Body: []byte("a")})
	runner := newFakeRunner(s)

	summary, err := Run(context.Background(), cfg, s, runner, Options{ForceAll: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
}

func TestRun_DuplicateBasenamesAreAHardFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir)

	s := memtest.New()
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/a/img.jpg", LastModified: time.Now()}, Body: []byte("a")})
	s.Put(memtest.Object{StorageObject: model.StorageObject{Key: "photos/b/img.jpg", LastModified: time.Now()}, Body: []byte("b")})
	runner := newFakeRunner(s)

	_, err := Run(context.Background(), cfg, s, runner, Options{}, nil, nil)
	require.Error(t, err)
}

func TestRun_BackendUnreachableFailsTheWholeBuild(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(t, dir)

	s := memtest.New()
	s.Unreachable = true
	runner := newFakeRunner(s)

	_, err := Run(context.Background(), cfg, s, runner, Options{}, nil, nil)
	require.Error(t, err)
}
