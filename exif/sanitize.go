package exif

import (
	"strings"

	"github.com/nocturnelabs/photomanifest/model"
)

// dateFieldNames carries raw EXIF date/time strings that must not be
// trimmed (spec.md §4.3 step 5: "preserve raw strings for date fields").
var dateFieldNames = map[string]bool{
	"DateTime":            true,
	"DateTimeOriginal":    true,
	"DateTimeDigitized":   true,
	"GPSDateStamp":        true,
	"SubSecTime":          true,
	"SubSecTimeOriginal":  true,
	"SubSecTimeDigitized": true,
}

// sanitize applies spec.md §4.3 step 5 to every top-level group: strip NUL
// bytes from strings, trim non-date strings, drop keys whose value becomes
// empty, recurse into nested groups, drop groups that become empty.
func sanitize(ex *model.Exif) {
	sanitizeGroup(ex.Image)
	sanitizeGroup(ex.Photo)
	sanitizeGroup(ex.GPSInfo)
}

func sanitizeGroup(g *model.Group) {
	if g == nil {
		return
	}
	for key, v := range g.Fields {
		v, keep := sanitizeValue(key, v)
		if !keep {
			delete(g.Fields, key)
			continue
		}
		g.Fields[key] = v
	}
}

func sanitizeValue(key string, v model.Value) (model.Value, bool) {
	switch v.Kind {
	case model.ValueString:
		s := strings.ReplaceAll(v.Str, "\x00", "")
		if !dateFieldNames[key] {
			s = strings.TrimSpace(s)
		}
		if s == "" {
			return v, false
		}
		v.Str = s
		return v, true
	case model.ValueGroup:
		sanitizeGroup(v.Group)
		if v.Group.IsEmpty() {
			return v, false
		}
		return v, true
	case model.ValueBytes:
		if len(v.Bytes) == 0 {
			return v, false
		}
		return v, true
	case model.ValueList:
		if len(v.List) == 0 {
			return v, false
		}
		return v, true
	default:
		return v, true
	}
}
