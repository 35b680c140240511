package processor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocturnelabs/photomanifest/codec"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/processor"
	"github.com/nocturnelabs/photomanifest/store/memtest"
	"github.com/nocturnelabs/photomanifest/thumbnail"
)

// fakeCodec lets tests exercise Process without decoding real images.
type fakeCodec struct {
	meta        codec.Metadata
	preprocess  []byte
	metadataErr error
	preprocErr  error
}

func (f *fakeCodec) Preprocess(data []byte, key string) ([]byte, error) {
	if f.preprocErr != nil {
		return nil, f.preprocErr
	}
	if f.preprocess != nil {
		return f.preprocess, nil
	}
	return data, nil
}

func (f *fakeCodec) Metadata(data []byte) (codec.Metadata, error) {
	if f.metadataErr != nil {
		return codec.Metadata{}, f.metadataErr
	}
	return f.meta, nil
}

func newTestProcessor(t *testing.T, s *memtest.Store, c *fakeCodec) *processor.Processor {
	t.Helper()
	p := processor.New(s, nil)
	p.Codec = c
	p.Thumbnail = func(data []byte, id, dir, urlPrefix string, force bool) (thumbnail.Result, error) {
		return thumbnail.Result{ThumbnailURL: urlPrefix + "/" + id + ".webp", Blurhash: "LKO2?U%2Tw=w]~RBVZRi};RPxuwH"}, nil
	}
	return p
}

func testOpts(dir string) processor.Options {
	return processor.Options{
		ThumbnailDir:     dir,
		ThumbnailURLBase: "https://cdn.test/thumbnails",
		StoragePrefix:    "photos/",
	}
}

func TestProcess_NewPhoto(t *testing.T) {
	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/2024-01-15_dusk_1250views.jpg", Size: 100, LastModified: time.Now()},
		Body:          []byte("fake-jpeg-bytes"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 800, Height: 600, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	obj := firstObject(t, s)
	rec, outcome := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	require.Equal(t, processor.OutcomeNew, outcome)
	require.NotNil(t, rec)
	assert.Equal(t, "dusk", rec.Title)
	assert.Equal(t, 1250, rec.Views)
	assert.Equal(t, 800, rec.Width)
	assert.Equal(t, 600, rec.Height)
	assert.InDelta(t, 800.0/600.0, rec.AspectRatio, 1e-9)
	assert.Equal(t, "photos/2024-01-15_dusk_1250views.jpg", rec.S3Key)
	assert.NotEmpty(t, rec.ThumbnailURL)
	assert.NotEmpty(t, rec.Blurhash)
	assert.False(t, rec.IsLivePhoto)
}

func TestProcess_OrientationSwapsWidthHeight(t *testing.T) {
	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/rotated.jpg", LastModified: time.Now()},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 800, Height: 600, Orientation: 6}}
	p := newTestProcessor(t, s, c)

	obj := firstObject(t, s)
	rec, _ := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	require.NotNil(t, rec)
	assert.Equal(t, 600, rec.Width)
	assert.Equal(t, 800, rec.Height)
}

func TestProcess_SkipsEntirelyWhenUnchangedAndThumbnailPresent(t *testing.T) {
	thumbDir := t.TempDir()
	lastModified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, os.WriteFile(filepath.Join(thumbDir, "existing.webp"), []byte("cached"), 0o644))

	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/existing.jpg", LastModified: lastModified},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{metadataErr: assertNotCalledErr{}}
	p := newTestProcessor(t, s, c)

	existing := model.PhotoRecord{
		ID:           "existing",
		S3Key:        "photos/existing.jpg",
		LastModified: lastModified.UTC().Format(time.RFC3339Nano),
		Blurhash:     "already-has-one",
	}
	existingMap := map[string]model.PhotoRecord{"photos/existing.jpg": existing}

	obj := firstObject(t, s)
	rec, outcome := p.Process(context.Background(), obj, existingMap, map[string]model.StorageObject{}, testOpts(thumbDir))

	require.Equal(t, processor.OutcomeSkipped, outcome)
	require.NotNil(t, rec)
	assert.Equal(t, existing, *rec)
}

func TestProcess_DoesNotSkipWhenThumbnailMissing(t *testing.T) {
	lastModified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/existing.jpg", LastModified: lastModified},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 100, Height: 100, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	existing := model.PhotoRecord{
		ID:           "existing",
		S3Key:        "photos/existing.jpg",
		LastModified: lastModified.UTC().Format(time.RFC3339Nano),
		Blurhash:     "already-has-one",
	}
	existingMap := map[string]model.PhotoRecord{"photos/existing.jpg": existing}

	obj := firstObject(t, s)
	// thumbnail dir is empty, so the cached file does not exist
	rec, outcome := p.Process(context.Background(), obj, existingMap, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	require.Equal(t, processor.OutcomeProcessed, outcome)
	require.NotNil(t, rec)
}

func TestProcess_ForceAllNeverSkips(t *testing.T) {
	thumbDir := t.TempDir()
	lastModified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.WriteFile(filepath.Join(thumbDir, "existing.webp"), []byte("cached"), 0o644))

	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/existing.jpg", LastModified: lastModified},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	existing := model.PhotoRecord{
		ID:           "existing",
		S3Key:        "photos/existing.jpg",
		LastModified: lastModified.UTC().Format(time.RFC3339Nano),
		Blurhash:     "already-has-one",
	}
	existingMap := map[string]model.PhotoRecord{"photos/existing.jpg": existing}

	opts := testOpts(thumbDir)
	opts.ForceAll = true

	obj := firstObject(t, s)
	rec, outcome := p.Process(context.Background(), obj, existingMap, map[string]model.StorageObject{}, opts)

	require.Equal(t, processor.OutcomeProcessed, outcome)
	require.NotNil(t, rec)
}

func TestProcess_ReusesExifWhenNotForced(t *testing.T) {
	lastModified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/existing.jpg", LastModified: lastModified},
		Body:          []byte("bytes-with-no-exif-blob"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	cachedExif := model.ExifJSON{"image": map[string]interface{}{"Make": "Fujifilm"}}
	existing := model.PhotoRecord{
		ID:           "existing",
		S3Key:        "photos/existing.jpg",
		LastModified: lastModified.Add(-time.Hour).UTC().Format(time.RFC3339Nano),
		Blurhash:     "already-has-one",
		Exif:         &cachedExif,
	}
	existingMap := map[string]model.PhotoRecord{"photos/existing.jpg": existing}

	obj := firstObject(t, s)
	// Object's LastModified is after the cached record's, so this is not a
	// skip, but EXIF reuse should still apply since neither force flag is set.
	rec, outcome := p.Process(context.Background(), obj, existingMap, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	require.Equal(t, processor.OutcomeProcessed, outcome)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Exif)
	assert.Equal(t, cachedExif, *rec.Exif)
}

func TestProcess_ForceManifestRegeneratesExif(t *testing.T) {
	lastModified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/existing.jpg", LastModified: lastModified},
		Body:          []byte("bytes-with-no-exif-blob"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	cachedExif := model.ExifJSON{"image": map[string]interface{}{"Make": "Fujifilm"}}
	existing := model.PhotoRecord{
		ID:           "existing",
		S3Key:        "photos/existing.jpg",
		LastModified: lastModified.Add(-time.Hour).UTC().Format(time.RFC3339Nano),
		Blurhash:     "already-has-one",
		Exif:         &cachedExif,
	}
	existingMap := map[string]model.PhotoRecord{"photos/existing.jpg": existing}

	opts := testOpts(t.TempDir())
	opts.ForceManifest = true

	obj := firstObject(t, s)
	rec, outcome := p.Process(context.Background(), obj, existingMap, map[string]model.StorageObject{}, opts)

	require.Equal(t, processor.OutcomeProcessed, outcome)
	require.NotNil(t, rec)
	// No EXIF blob in the fake bytes, so a freshly extracted value is nil,
	// not the cached stand-in.
	assert.Nil(t, rec.Exif)
}

func TestProcess_FailsWhenObjectMissingFromStore(t *testing.T) {
	s := memtest.New()
	c := &fakeCodec{}
	p := newTestProcessor(t, s, c)

	obj := model.StorageObject{Key: "photos/missing.jpg", LastModified: time.Now()}
	rec, outcome := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	assert.Nil(t, rec)
	assert.Equal(t, processor.OutcomeFailed, outcome)
}

func TestProcess_FailsWhenMetadataErrors(t *testing.T) {
	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/bad.jpg", LastModified: time.Now()},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{metadataErr: assertNotCalledErr{}}
	p := newTestProcessor(t, s, c)

	obj := firstObject(t, s)
	rec, outcome := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	assert.Nil(t, rec)
	assert.Equal(t, processor.OutcomeFailed, outcome)
}

func TestProcess_PairsLivePhoto(t *testing.T) {
	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/trip/beach.jpg", LastModified: time.Now()},
		Body:          []byte("bytes"),
	})
	videoObj := model.StorageObject{Key: "photos/trip/beach.mov", LastModified: time.Now()}
	c := &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	livePhotoMap := map[string]model.StorageObject{"photos/trip/beach.jpg": videoObj}

	obj := firstObject(t, s)
	rec, _ := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, livePhotoMap, testOpts(t.TempDir()))

	require.NotNil(t, rec)
	assert.True(t, rec.IsLivePhoto)
	assert.Contains(t, rec.LivePhotoVideoURL, "beach.mov")
	assert.Equal(t, "photos/trip/beach.mov", rec.LivePhotoVideoS3Key)
}

func TestProcess_DerivesTagsFromPathPrefix(t *testing.T) {
	s := memtest.New()
	s.Put(memtest.Object{
		StorageObject: model.StorageObject{Key: "photos/trip/tagA/2023-12-31.png", LastModified: time.Now()},
		Body:          []byte("bytes"),
	})
	c := &fakeCodec{meta: codec.Metadata{Width: 10, Height: 10, Orientation: 1}}
	p := newTestProcessor(t, s, c)

	obj := firstObject(t, s)
	rec, _ := p.Process(context.Background(), obj, map[string]model.PhotoRecord{}, map[string]model.StorageObject{}, testOpts(t.TempDir()))

	require.NotNil(t, rec)
	assert.Equal(t, []string{"trip", "tagA"}, rec.Tags)
	assert.Equal(t, "2023-12-31T00:00:00.000Z", rec.DateTaken)
}

// firstObject fetches the single object a test put into s via List.
func firstObject(t *testing.T, s *memtest.Store) model.StorageObject {
	t.Helper()
	objs, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	return objs[0]
}

// assertNotCalledErr is the error a fakeCodec's Metadata returns. In the
// skip test it proves Metadata is not reached (returning it would turn the
// expected skip into a failed outcome); the metadata-error test uses it as
// the error that makes Process fail.
type assertNotCalledErr struct{}

func (assertNotCalledErr) Error() string { return "codec should not have been called" }
