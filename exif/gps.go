package exif

import (
	"math"

	"github.com/nocturnelabs/photomanifest/model"
)

// applyGPSDecimalDegrees implements spec.md §4.3 step 6: when both
// GPSLatitude and GPSLongitude DMS triples are present, compute decimal
// degrees applying the Ref sign, and round GPSAltitude to an integer when
// present.
func applyGPSDecimalDegrees(gps *model.Group) {
	if gps == nil {
		return
	}

	lat, latOK := dmsToDecimal(gps.Fields["GPSLatitude"])
	lon, lonOK := dmsToDecimal(gps.Fields["GPSLongitude"])
	if latOK && lonOK {
		if ref, ok := gps.Fields["GPSLatitudeRef"]; ok && ref.Kind == model.ValueString && ref.Str == "S" {
			lat = -lat
		}
		if ref, ok := gps.Fields["GPSLongitudeRef"]; ok && ref.Kind == model.ValueString && ref.Str == "W" {
			lon = -lon
		}
		gps.Fields["Latitude"] = model.NewFloatValue(lat)
		gps.Fields["Longitude"] = model.NewFloatValue(lon)
	}

	if alt, ok := gps.Fields["GPSAltitude"]; ok && alt.Kind == model.ValueRational {
		rounded := math.Round(rationalToFloat(alt.Rat))
		if ref, ok := gps.Fields["GPSAltitudeRef"]; ok {
			below := (ref.Kind == model.ValueInt && ref.Int == 1) ||
				(ref.Kind == model.ValueBytes && len(ref.Bytes) == 1 && ref.Bytes[0] == 1)
			if below {
				rounded = -rounded
			}
		}
		gps.Fields["Altitude"] = model.NewIntValue(int64(rounded))
	}
}

// dmsToDecimal converts a GPS DMS triple (list of 3 rationals: degrees,
// minutes, seconds) into decimal degrees.
func dmsToDecimal(v model.Value) (float64, bool) {
	if v.Kind != model.ValueList || len(v.List) != 3 {
		return 0, false
	}
	deg, ok1 := rationalOf(v.List[0])
	min, ok2 := rationalOf(v.List[1])
	sec, ok3 := rationalOf(v.List[2])
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return deg + min/60 + sec/3600, true
}

func rationalOf(v model.Value) (float64, bool) {
	if v.Kind != model.ValueRational {
		return 0, false
	}
	return rationalToFloat(v.Rat), true
}

func rationalToFloat(r model.Rational) float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}
