// Package codec is the image codec layer (spec.md §4.2): HEIC/HEIF/HIF
// transcoding, header-level metadata, and orientation-aware dimension
// swapping. Grounded on the teacher's adapters/vips/processor.go, which
// already wraps govips.NewImageFromBuffer/ExportJpeg for decode+encode.
package codec

import (
	"path/filepath"
	"runtime"
	"strings"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/nocturnelabs/photomanifest/config"
	apperrors "github.com/nocturnelabs/photomanifest/errors"
)

// Metadata is header-level image metadata, read without fully decoding
// pixel data (spec.md §4.2).
type Metadata struct {
	Width       int
	Height      int
	Format      string
	Orientation int
}

// Backend wraps libvips for decode/transcode/metadata reads. Safe for
// concurrent use; call Startup once per process and Shutdown at exit,
// exactly as the teacher's vips.Backend does.
type Backend struct {
	quality int
}

// Startup initialises libvips. Call once at process start.
func Startup(maxWorkers int) {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: maxWorkers,
		CollectStats:     false,
	})
}

// Shutdown releases all libvips resources. Call once at process exit.
func Shutdown() {
	govips.Shutdown()
}

// NewBackend returns a Backend whose HEIC transcode quality is fixed at 95
// on libvips' 0-100 scale (0.95 in spec.md §4.2's 0-1 terms).
func NewBackend() *Backend {
	return &Backend{quality: 95}
}

// IsHEIC reports whether key's extension is in the HEIC set
// (.heic .heif .hif).
func IsHEIC(key string) bool {
	return config.HEICExtensions[strings.ToLower(filepath.Ext(key))]
}

// Preprocess transcodes HEIC/HEIF/HIF input to JPEG at quality 0.95;
// any other format passes through unchanged (spec.md §4.2).
func (b *Backend) Preprocess(data []byte, key string) ([]byte, error) {
	if !IsHEIC(key) {
		return data, nil
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "codec.preprocess.decode", err)
	}
	defer ref.Close()

	ep := govips.NewJpegExportParams()
	ep.Quality = int(b.quality)
	buf, _, err := ref.ExportJpeg(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "codec.preprocess.encode", err)
	}
	return buf, nil
}

// Metadata reads header-level metadata without decoding pixel data
// (spec.md §4.2). libvips' access is lazy enough that NewImageFromBuffer
// does not materialise the full pixel buffer until an operation requires
// it, matching the "without decoding pixels" requirement in practice.
func (b *Backend) Metadata(data []byte) (Metadata, error) {
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return Metadata{}, apperrors.Wrap(apperrors.CategoryMetadataMissing, "codec.metadata", err)
	}
	defer ref.Close()

	return Metadata{
		Width:       ref.Width(),
		Height:      ref.Height(),
		Format:      formatName(ref.Format()),
		Orientation: ref.Orientation(),
	}, nil
}

// ApplyOrientation swaps w/h for EXIF orientations 5-8 (spec.md §4.2).
func ApplyOrientation(w, h, orientation int) (int, int) {
	switch orientation {
	case 5, 6, 7, 8:
		return h, w
	default:
		return w, h
	}
}

func formatName(f govips.ImageType) string {
	switch f {
	case govips.ImageTypeJPEG:
		return "jpeg"
	case govips.ImageTypePNG:
		return "png"
	case govips.ImageTypeWEBP:
		return "webp"
	case govips.ImageTypeGIF:
		return "gif"
	case govips.ImageTypeHEIF:
		return "heif"
	case govips.ImageTypeTIFF:
		return "tiff"
	default:
		return "unknown"
	}
}
