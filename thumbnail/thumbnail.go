// Package thumbnail generates bounded-box WebP thumbnails and Blurhash
// perceptual-hash strings (spec.md §4.4), grounded on the teacher's
// adapters/vips/processor.go (govips.NewThumbnailFromBuffer, ExportWebp,
// AutoRotate) for the image half and buckket/go-blurhash for the hash half.
package thumbnail

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/buckket/go-blurhash"
	govips "github.com/davidbyttow/govips/v2/vips"

	apperrors "github.com/nocturnelabs/photomanifest/errors"
)

// MaxDimension is the 600x600 bounding box spec.md §4.4 specifies.
const MaxDimension = 600

// blurhashBase is B=64, the base size used to derive the small blurhash
// source image's dimensions (spec.md §4.4).
const blurhashBase = 64

// Result is the output of Generate.
type Result struct {
	ThumbnailURL   string
	ThumbnailBytes []byte
	Blurhash       string
}

// Generate implements generate(bytes, id, w, h, force) → {thumbnailUrl,
// thumbnailBytes, blurhash} (spec.md §4.4). dir is the thumbnail root
// directory (e.g. "<root>/public/thumbnails"); urlPrefix is prepended to
// "<id>.webp" to build ThumbnailURL.
func Generate(data []byte, id string, dir, urlPrefix string, force bool) (Result, error) {
	path := filepath.Join(dir, id+".webp")
	url := urlPrefix + "/" + id + ".webp"

	if !force {
		if existing, err := os.ReadFile(path); err == nil {
			hash, hashErr := computeBlurhash(existing)
			if hashErr != nil {
				hash = ""
			}
			return Result{ThumbnailURL: url, ThumbnailBytes: existing, Blurhash: hash}, nil
		}
	}

	thumbBytes, err := renderThumbnail(data)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CategoryThumbnailWrite, "thumbnail.render", err)
	}

	if err := atomicWrite(dir, path, thumbBytes); err != nil {
		return Result{}, apperrors.Wrap(apperrors.CategoryThumbnailWrite, "thumbnail.write", err)
	}

	hash, err := computeBlurhash(thumbBytes)
	if err != nil {
		// Blurhash failure is a per-photo partial (spec.md §7): the
		// thumbnail itself still succeeded.
		return Result{ThumbnailURL: url, ThumbnailBytes: thumbBytes}, nil
	}

	return Result{ThumbnailURL: url, ThumbnailBytes: thumbBytes, Blurhash: hash}, nil
}

// renderThumbnail resizes within a 600x600 bounding box without
// enlargement, bakes in EXIF rotation, and encodes as WebP quality 100.
func renderThumbnail(data []byte) ([]byte, error) {
	ref, err := govips.NewThumbnailFromBuffer(data, MaxDimension, MaxDimension, govips.InterestingNone)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, err
	}

	ep := govips.NewWebpExportParams()
	ep.Quality = 100
	buf, _, err := ref.ExportWebp(ep)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// computeBlurhash implements the §4.4 perceptual-hash algorithm: derive a
// small tw×th source from the thumbnail, pick component counts from its
// dimensions, and encode.
func computeBlurhash(thumbBytes []byte) (string, error) {
	ref, err := govips.NewImageFromBuffer(thumbBytes)
	if err != nil {
		return "", err
	}
	defer ref.Close()

	w, h := ref.Width(), ref.Height()
	tw, th := blurhashSourceSize(w, h)

	small, err := govips.NewThumbnailFromBuffer(thumbBytes, tw, th, govips.InterestingNone)
	if err != nil {
		return "", err
	}
	defer small.Close()

	if !small.HasAlpha() {
		if err := small.AddAlpha(); err != nil {
			return "", err
		}
	}

	img, err := toImage(small)
	if err != nil {
		return "", err
	}

	xc, yc := componentCounts(tw, th)
	hash, err := blurhash.Encode(xc, yc, img)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryBlurhash, "thumbnail.blurhash.encode", err)
	}
	return hash, nil
}

// blurhashSourceSize implements spec.md §4.4's tw/th derivation from base
// size B=64, clamped to >= 16.
func blurhashSourceSize(w, h int) (int, int) {
	const b = blurhashBase
	var tw, th int
	if w >= h {
		tw = b
		th = int(math.Round(float64(b) * float64(h) / float64(w)))
	} else {
		th = b
		tw = int(math.Round(float64(b) * float64(w) / float64(h)))
	}
	if tw < 16 {
		tw = 16
	}
	if th < 16 {
		th = 16
	}
	return tw, th
}

// componentCounts implements spec.md §4.4's xc/yc derivation: clamp(round(d/16), 3, 9).
func componentCounts(tw, th int) (int, int) {
	return clamp(int(math.Round(float64(tw)/16)), 3, 9), clamp(int(math.Round(float64(th)/16)), 3, 9)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toImage round-trips ref through an in-memory PNG export so it can be
// decoded into a stdlib image.Image, the shape blurhash.Encode requires.
func toImage(ref *govips.ImageRef) (image.Image, error) {
	buf, _, err := ref.ExportPng(govips.NewPngExportParams())
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// atomicWrite writes data to path via a temp file + rename (spec.md §4.4's
// "write atomically", §9's documented manifest-write idiom applied here to
// thumbnail files too).
func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
