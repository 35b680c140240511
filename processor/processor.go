// Package processor implements the per-photo orchestration contract
// (spec.md §4.5): cache-hit decision, fetch, decode, thumbnail, EXIF,
// record assembly. Narrows the teacher's generic core.Processor /
// pipeline.Pipeline Step-list abstraction into a fixed sequential chain,
// since the per-photo steps here are not dynamically composed — see
// DESIGN.md.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nocturnelabs/photomanifest/codec"
	"github.com/nocturnelabs/photomanifest/exif"
	"github.com/nocturnelabs/photomanifest/model"
	"github.com/nocturnelabs/photomanifest/store"
	"github.com/nocturnelabs/photomanifest/thumbnail"
)

// Outcome is one of the four per-photo results spec.md §4.5 names.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Options carries the force flags and filesystem/URL configuration a
// single photo's processing needs (spec.md §4.5, §6).
type Options struct {
	ForceAll         bool
	ForceManifest    bool
	ForceThumbnails  bool
	ThumbnailDir     string
	ThumbnailURLBase string
	// ThumbnailCustomDomain, when set, switches the thumbnail URL from the
	// local-disk form (ThumbnailURLBase + "/<id>.webp") to a custom-domain
	// URL carrying a width hint (spec.md §6: "Thumbnail URL with custom
	// domain appends ?width=316").
	ThumbnailCustomDomain string
	StoragePrefix         string
}

// codecBackend narrows *codec.Backend to what Process needs, so tests can
// inject a fake instead of decoding real images through libvips.
type codecBackend interface {
	Preprocess(data []byte, key string) ([]byte, error)
	Metadata(data []byte) (codec.Metadata, error)
}

// thumbnailGenerator matches thumbnail.Generate's signature, letting tests
// substitute a fake that skips the real libvips/blurhash path.
type thumbnailGenerator func(data []byte, id, dir, urlPrefix string, force bool) (thumbnail.Result, error)

// Processor orchestrates the per-photo sequence against an injected
// ObjectStore and codec backend, mirroring the teacher's pattern of
// injecting adapters rather than hardwiring them.
type Processor struct {
	Store     store.ObjectStore
	Codec     codecBackend
	Thumbnail thumbnailGenerator
}

// New returns a Processor.
func New(s store.ObjectStore, c *codec.Backend) *Processor {
	return &Processor{Store: s, Codec: c, Thumbnail: thumbnail.Generate}
}

// Process implements process(obj, index, existingMap, livePhotoMap, opts)
// → {record|nil, outcome} (spec.md §4.5).
func (p *Processor) Process(
	ctx context.Context,
	obj model.StorageObject,
	existingMap map[string]model.PhotoRecord,
	livePhotoMap map[string]model.StorageObject,
	opts Options,
) (*model.PhotoRecord, Outcome) {
	existing, hadExisting := existingMap[obj.Key]

	if canSkipEntirely(obj, existing, hadExisting, opts) {
		return &existing, OutcomeSkipped
	}

	data, err := p.Store.Get(ctx, obj.Key)
	if err != nil {
		return nil, OutcomeFailed
	}

	processed, err := p.Codec.Preprocess(data, obj.Key)
	if err != nil {
		return nil, OutcomeFailed
	}

	meta, err := p.Codec.Metadata(processed)
	if err != nil {
		return nil, OutcomeFailed
	}
	width, height := codec.ApplyOrientation(meta.Width, meta.Height, meta.Orientation)

	id := recordID(obj.Key)

	thumbForce := opts.ForceAll || opts.ForceThumbnails || !hadExisting || existing.Blurhash == ""
	thumbResult, thumbErr := p.Thumbnail(processed, id, opts.ThumbnailDir, opts.ThumbnailURLBase, thumbForce)
	if thumbErr != nil {
		thumbResult = thumbnail.Result{}
	} else {
		thumbResult.ThumbnailURL = thumbnailURL(id, opts)
	}

	ex := exif.Extract(processed, data)

	var exifJSON *model.ExifJSON
	reuseExif := !opts.ForceAll && !opts.ForceManifest && hadExisting && existing.Exif != nil
	if reuseExif {
		exifJSON = existing.Exif
	} else if ex != nil {
		exifJSON = exif.ToJSON(ex)
	}

	info := DeriveFilenameInfo(obj.Key, opts.StoragePrefix)
	dateTaken := deriveDateTaken(ex, info)

	rec := model.PhotoRecord{
		ID:           id,
		Title:        info.Title,
		Description:  "",
		DateTaken:    dateTaken,
		Views:        info.Views,
		Tags:         info.Tags,
		OriginalURL:  p.Store.PublicURL(obj.Key),
		ThumbnailURL: thumbResult.ThumbnailURL,
		Blurhash:     thumbResult.Blurhash,
		Width:        width,
		Height:       height,
		AspectRatio:  aspectRatio(width, height),
		S3Key:        obj.Key,
		LastModified: obj.LastModified.UTC().Format(time.RFC3339Nano),
		Size:         obj.Size,
		Exif:         exifJSON,
	}

	if video, ok := livePhotoMap[obj.Key]; ok {
		rec.IsLivePhoto = true
		rec.LivePhotoVideoURL = p.Store.PublicURL(video.Key)
		rec.LivePhotoVideoS3Key = video.Key
	}

	outcome := OutcomeProcessed
	if !hadExisting {
		outcome = OutcomeNew
	}
	return &rec, outcome
}

// canSkipEntirely implements the first row of spec.md §4.5's decision
// table: when nothing about the photo has changed and its thumbnail is
// already on disk, skip all work and reuse the existing record verbatim.
func canSkipEntirely(obj model.StorageObject, existing model.PhotoRecord, hadExisting bool, opts Options) bool {
	if opts.ForceAll || opts.ForceManifest || opts.ForceThumbnails || !hadExisting {
		return false
	}
	existingLastModified, err := time.Parse(time.RFC3339Nano, existing.LastModified)
	if err != nil {
		return false
	}
	if obj.LastModified.After(existingLastModified) {
		return false
	}
	thumbPath := filepath.Join(opts.ThumbnailDir, existing.ID+".webp")
	if _, err := os.Stat(thumbPath); err != nil {
		return false
	}
	return true
}

// deriveDateTaken implements spec.md §3's precedence: EXIF
// DateTimeOriginal (applying OffsetTimeOriginal) → filename YYYY-MM-DD →
// current wall-clock.
func deriveDateTaken(ex *model.Exif, info FilenameInfo) string {
	if raw, ok := exif.DateTimeOriginal(ex); ok {
		offset, _ := exif.OffsetTimeOriginal(ex)
		if t, ok := exif.ParseDateTimeOriginal(raw, offset); ok {
			return formatISO(t)
		}
	}
	if info.Date != nil {
		return formatISO(*info.Date)
	}
	return formatISO(time.Now().UTC())
}

func formatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func aspectRatio(w, h int) float64 {
	if h == 0 {
		return 0
	}
	return float64(w) / float64(h)
}

// thumbnailURL implements spec.md §6's URL-selection rule: a custom domain
// configured for the backend means thumbnails are served from that CDN with
// a width hint, rather than from local disk under ThumbnailURLBase.
func thumbnailURL(id string, opts Options) string {
	if opts.ThumbnailCustomDomain != "" {
		return fmt.Sprintf("%s/thumbnails/%s.webp?width=316", strings.TrimRight(opts.ThumbnailCustomDomain, "/"), id)
	}
	return opts.ThumbnailURLBase + "/" + id + ".webp"
}

// recordID is the basename of key without its extension, which must be
// unique across the manifest (spec.md §3).
func recordID(key string) string {
	base := filepath.Base(key)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
