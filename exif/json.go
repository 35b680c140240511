package exif

import "github.com/nocturnelabs/photomanifest/model"

// ToJSON projects an *model.Exif tree into the plain nested mapping
// spec.md §4.3 calls "language-neutral" output, for embedding in a
// PhotoRecord. Returns nil for a nil input.
func ToJSON(ex *model.Exif) *model.ExifJSON {
	if ex == nil {
		return nil
	}
	out := model.ExifJSON{}
	if m := groupToJSON(ex.Image); m != nil {
		out["Image"] = m
	}
	if m := groupToJSON(ex.Photo); m != nil {
		out["Photo"] = m
	}
	if m := groupToJSON(ex.GPSInfo); m != nil {
		out["GPSInfo"] = m
	}
	if len(out) == 0 {
		return nil
	}
	return &out
}

func groupToJSON(g *model.Group) map[string]interface{} {
	if g.IsEmpty() {
		return nil
	}
	out := make(map[string]interface{}, len(g.Fields))
	for key, v := range g.Fields {
		out[key] = valueToJSON(v)
	}
	return out
}

func valueToJSON(v model.Value) interface{} {
	switch v.Kind {
	case model.ValueInt:
		return v.Int
	case model.ValueFloat:
		return v.Float
	case model.ValueString:
		return v.Str
	case model.ValueBytes:
		return v.Bytes
	case model.ValueRational:
		if v.Rat.Denominator == 0 {
			return 0.0
		}
		return float64(v.Rat.Numerator) / float64(v.Rat.Denominator)
	case model.ValueDate:
		return v.Date
	case model.ValueList:
		out := make([]interface{}, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, valueToJSON(item))
		}
		return out
	case model.ValueGroup:
		return groupToJSON(v.Group)
	default:
		return nil
	}
}
