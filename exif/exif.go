// Package exif extracts a tagged-tree metadata structure from JPEG/TIFF
// EXIF blobs (spec.md §4.3), grounded on the IFD-walking pattern used by
// other_examples/6e9f9b10_tgagor-frameo-miniatures and
// other_examples/cdd649a2_sagan-goaider (both dsoprea/go-exif/v3 +
// dsoprea/go-jpeg-image-structure/v2 consumers).
package exif

import (
	"bytes"
	"strings"
	"time"

	goexif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"

	"github.com/nocturnelabs/photomanifest/model"
)

// tiffMarkers are the byte sequences that can open a TIFF header: the
// little/big-endian magic bytes, or a literal "Exif" ASCII marker
// sometimes preceding them in non-JPEG containers (spec.md §4.3 step 2).
var tiffMarkers = [][]byte{[]byte("II"), []byte("MM"), []byte("Exif")}

// Extract implements extract(processedBytes, originalBytesMaybe) → Exif|nil
// (spec.md §4.3). It never returns an error to the caller for a parse
// failure — a nil *model.Exif means "no metadata", exactly as the contract
// specifies ("on any parse failure return null; never throw upward").
func Extract(processedBytes, originalBytesMaybe []byte) *model.Exif {
	raw, ok := findExifBlob(processedBytes)
	if !ok && len(originalBytesMaybe) > 0 {
		raw, ok = findExifBlob(originalBytesMaybe)
	}
	if !ok {
		return nil
	}

	ex, err := parse(raw)
	if err != nil {
		return nil
	}
	return ex
}

// findExifBlob locates raw EXIF bytes in data, first via go-exif's own
// JPEG/TIFF-aware search, falling back to a manual TIFF-header scan for
// containers it doesn't recognize directly.
func findExifBlob(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	if raw, err := goexif.SearchAndExtractExif(data); err == nil {
		return raw, true
	}
	if off, ok := scanForTIFFHeader(data); ok {
		return data[off:], true
	}
	return nil, false
}

// scanForTIFFHeader implements spec.md §4.3 step 2: scan for "II", "MM",
// or the literal "Exif" marker and begin parsing from that offset.
func scanForTIFFHeader(data []byte) (int, bool) {
	best := -1
	for _, marker := range tiffMarkers {
		if i := bytes.Index(data, marker); i >= 0 && (best == -1 || i < best) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	if bytes.HasPrefix(data[best:], []byte("Exif")) {
		// "Exif\0\0" precedes the real TIFF header.
		best += 6
		if best >= len(data) {
			return 0, false
		}
	}
	return best, true
}

// parse walks the flat tag list into the Image/Photo/GPSInfo tree (spec.md
// §4.3 step 3), handles the maker-note/Fuji recipe step, then sanitizes.
func parse(raw []byte) (*model.Exif, error) {
	entries, _, err := goexif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, err
	}

	image := model.NewGroup("Image")
	photo := model.NewGroup("Photo")
	gps := model.NewGroup("GPSInfo")

	var makerNote []byte

	for _, tag := range entries {
		v, ok := toValue(tag.Value)
		if !ok {
			// Some ASCII/date tags come back in a shape toValue doesn't
			// recognize; fall back to the library's own formatted string
			// (this is the same fallback the tgagor-frameo-miniatures
			// reference uses for DateTimeOriginal).
			if tag.FormattedFirst == "" {
				continue
			}
			v = model.NewStringValue(tag.FormattedFirst)
		} else if dateFieldNames[tag.TagName] && tag.FormattedFirst != "" {
			v = model.NewStringValue(tag.FormattedFirst)
		}

		switch {
		case isGPSIfd(tag.IfdPath):
			gps.Fields[tag.TagName] = v
		case tag.TagName == "MakerNote":
			if b, ok := tag.Value.([]byte); ok {
				makerNote = b
			}
			photo.Fields[tag.TagName] = v
		case isExifIfd(tag.IfdPath):
			photo.Fields[tag.TagName] = v
		default:
			image.Fields[tag.TagName] = v
		}
	}

	// Step 4: Fuji recipe decode + unconditional strip of the three
	// vendor/freeform blocks from both groups.
	if len(makerNote) > 0 {
		if recipe, ok := DecodeFujiRecipe(makerNote); ok {
			photo.Fields["FujiRecipe"] = model.NewGroupValue(recipe)
		}
	}
	for _, key := range []string{"MakerNote", "UserComment", "PrintImageMatching"} {
		delete(image.Fields, key)
		delete(photo.Fields, key)
	}

	// Step 6: GPS decimal-degree derivation from DMS triples.
	applyGPSDecimalDegrees(gps)

	ex := &model.Exif{Image: image, Photo: photo, GPSInfo: gps}
	sanitize(ex)
	return ex, nil
}

// isExifIfd and isGPSIfd classify a tag by its IFD path (e.g. "IFD0",
// "IFD/Exif", "IFD/GPS" — the hierarchy shape GetFlatExifData's IfdPath
// field reports, per other_examples/6e9f9b10_tgagor-frameo-miniatures).
func isExifIfd(ifdPath string) bool {
	return strings.Contains(ifdPath, "Exif")
}

func isGPSIfd(ifdPath string) bool {
	return strings.Contains(ifdPath, "GPS")
}

// toValue converts a dsoprea tag value (already decoded to a concrete Go
// type by GetFlatExifData) into the closed model.Value sum type.
func toValue(raw interface{}) (model.Value, bool) {
	switch v := raw.(type) {
	case string:
		return model.NewStringValue(v), true
	case []byte:
		return model.NewBytesValue(v), true
	case int8:
		return model.NewIntValue(int64(v)), true
	case int16:
		return model.NewIntValue(int64(v)), true
	case int32:
		return model.NewIntValue(int64(v)), true
	case int64:
		return model.NewIntValue(v), true
	case uint8:
		return model.NewIntValue(int64(v)), true
	case uint16:
		return model.NewIntValue(int64(v)), true
	case uint32:
		return model.NewIntValue(int64(v)), true
	case uint64:
		return model.NewIntValue(int64(v)), true
	case float32:
		return model.NewFloatValue(float64(v)), true
	case float64:
		return model.NewFloatValue(v), true
	case exifcommon.Rational:
		return model.NewRationalValue(model.Rational{
			Numerator:   int64(v.Numerator),
			Denominator: int64(v.Denominator),
		}), true
	case exifcommon.SignedRational:
		return model.NewRationalValue(model.Rational{
			Numerator:   int64(v.Numerator),
			Denominator: int64(v.Denominator),
		}), true
	case []exifcommon.Rational:
		list := make([]model.Value, 0, len(v))
		for _, r := range v {
			list = append(list, model.NewRationalValue(model.Rational{
				Numerator:   int64(r.Numerator),
				Denominator: int64(r.Denominator),
			}))
		}
		return model.NewListValue(list), true
	case []uint16:
		return intSliceValue(len(v), func(i int) int64 { return int64(v[i]) }), true
	case []int16:
		return intSliceValue(len(v), func(i int) int64 { return int64(v[i]) }), true
	case []int8:
		return intSliceValue(len(v), func(i int) int64 { return int64(v[i]) }), true
	case []uint32:
		return intSliceValue(len(v), func(i int) int64 { return int64(v[i]) }), true
	case []int32:
		return intSliceValue(len(v), func(i int) int64 { return int64(v[i]) }), true
	case []float32:
		list := make([]model.Value, 0, len(v))
		for _, n := range v {
			list = append(list, model.NewFloatValue(float64(n)))
		}
		return model.NewListValue(list), true
	case []float64:
		list := make([]model.Value, 0, len(v))
		for _, n := range v {
			list = append(list, model.NewFloatValue(n))
		}
		return model.NewListValue(list), true
	case []string:
		if len(v) == 1 {
			return model.NewStringValue(v[0]), true
		}
		list := make([]model.Value, 0, len(v))
		for _, s := range v {
			list = append(list, model.NewStringValue(s))
		}
		return model.NewListValue(list), true
	default:
		return model.Value{}, false
	}
}

// intSliceValue collapses a single-element integer slice to a scalar
// Value (e.g. Orientation as a 1-element []uint16), or keeps multi-element
// slices as a ValueList (e.g. a GPS DMS component list before conversion
// to rationals).
func intSliceValue(n int, at func(i int) int64) model.Value {
	if n == 1 {
		return model.NewIntValue(at(0))
	}
	list := make([]model.Value, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, model.NewIntValue(at(i)))
	}
	return model.NewListValue(list)
}

// DateTimeOriginal returns Photo.DateTimeOriginal as a raw EXIF date string
// ("2006:01:02 15:04:05"), unparsed, for the processor's precedence logic.
func DateTimeOriginal(ex *model.Exif) (string, bool) {
	if ex == nil || ex.Photo == nil {
		return "", false
	}
	v, ok := ex.Photo.Fields["DateTimeOriginal"]
	if !ok || v.Kind != model.ValueString {
		return "", false
	}
	return v.Str, true
}

// OffsetTimeOriginal returns Photo.OffsetTimeOriginal ("+08:00" form), if
// present.
func OffsetTimeOriginal(ex *model.Exif) (string, bool) {
	if ex == nil || ex.Photo == nil {
		return "", false
	}
	v, ok := ex.Photo.Fields["OffsetTimeOriginal"]
	if !ok || v.Kind != model.ValueString {
		return "", false
	}
	return v.Str, true
}

// ParseDateTimeOriginal applies spec.md §9's documented (and intentionally
// preserved) behavior: parse the EXIF date string as if it were local
// time, then *subtract* the OffsetTimeOriginal duration when present. This
// is bit-for-bit the open-question behavior called out in spec.md §9 and
// the regression scenario in §8 #2: DateTimeOriginal=2023:05:01 12:00:00,
// OffsetTimeOriginal=+08:00 must yield 2023-05-01T04:00:00.000Z.
func ParseDateTimeOriginal(raw, offset string) (time.Time, bool) {
	t, err := time.Parse("2006:01:02 15:04:05", raw)
	if err != nil {
		return time.Time{}, false
	}
	if offset == "" {
		return t.UTC(), true
	}
	d, ok := parseOffsetDuration(offset)
	if !ok {
		return t.UTC(), true
	}
	return t.Add(-d).UTC(), true
}

// parseOffsetDuration parses a "+HH:MM" / "-HH:MM" EXIF offset string into
// a signed duration.
func parseOffsetDuration(offset string) (time.Duration, bool) {
	if len(offset) != 6 || (offset[0] != '+' && offset[0] != '-') {
		return 0, false
	}
	sign := time.Duration(1)
	if offset[0] == '-' {
		sign = -1
	}
	t, err := time.Parse("15:04", offset[1:])
	if err != nil {
		return 0, false
	}
	d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	return sign * d, true
}
