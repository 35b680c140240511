package exif

import (
	"bytes"
	"encoding/binary"

	"github.com/nocturnelabs/photomanifest/model"
)

// fujiSignature opens every Fujifilm maker note: an 8-byte ASCII tag
// followed by a 4-byte little-endian offset (relative to the signature's
// start) to a standard-shaped IFD of 2-byte-tag / 2-byte-type /
// 4-byte-count / 4-byte-value entries.
var fujiSignature = []byte("FUJIFILM")

// fujiRecipeTags maps the subset of Fuji maker-note tag IDs that describe
// film-simulation recipe parameters (documented third-party maker-note
// references; no parsing library in the pack covers vendor maker notes, so
// this table is read directly against the documented binary layout).
var fujiRecipeTags = map[uint16]string{
	0x1401: "DynamicRange",
	0x1402: "FilmMode",
	0x1403: "DynamicRangeSetting",
	0x1404: "DevelopmentDynamicRange",
	0x1405: "MinFocalLength",
	0x140b: "WhiteBalanceFineTune",
	0x1421: "ColorChromeEffect",
	0x1422: "ColorChromeFXBlue",
	0x1423: "GrainEffectRoughness",
	0x1424: "GrainEffectSize",
	0x1431: "Saturation",
	0x1501: "Sharpness",
}

// DecodeFujiRecipe decodes a Fuji maker-note block into a FujiRecipe group
// (spec.md §4.3 step 4). Returns ok=false for anything that doesn't match
// the expected signature or is too short to contain a usable IFD.
func DecodeFujiRecipe(raw []byte) (*model.Group, bool) {
	if !bytes.HasPrefix(raw, fujiSignature) {
		return nil, false
	}
	if len(raw) < 12 {
		return nil, false
	}

	ifdOffset := binary.LittleEndian.Uint32(raw[8:12])
	if int(ifdOffset)+2 > len(raw) {
		return nil, false
	}

	entryCount := binary.LittleEndian.Uint16(raw[ifdOffset : ifdOffset+2])
	recipe := model.NewGroup("FujiRecipe")

	entriesStart := int(ifdOffset) + 2
	for i := 0; i < int(entryCount); i++ {
		off := entriesStart + i*12
		if off+12 > len(raw) {
			break
		}
		tagID := binary.LittleEndian.Uint16(raw[off : off+2])
		typ := binary.LittleEndian.Uint16(raw[off+2 : off+4])
		count := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		valueBytes := raw[off+8 : off+12]

		name, known := fujiRecipeTags[tagID]
		if !known {
			continue
		}

		v, ok := decodeFujiValue(typ, count, valueBytes, raw)
		if !ok {
			continue
		}
		recipe.Fields[name] = v
	}

	if recipe.IsEmpty() {
		return nil, false
	}
	return recipe, true
}

// Fuji IFD entry types follow the standard TIFF type enumeration for the
// scalar kinds this recipe table actually uses.
const (
	fujiTypeByte  = 1
	fujiTypeShort = 3
	fujiTypeLong  = 4
)

func decodeFujiValue(typ uint16, count uint32, inlineValue, fullBlock []byte) (model.Value, bool) {
	switch typ {
	case fujiTypeByte:
		if count == 0 {
			return model.Value{}, false
		}
		return model.NewIntValue(int64(inlineValue[0])), true
	case fujiTypeShort:
		if count == 0 {
			return model.Value{}, false
		}
		return model.NewIntValue(int64(binary.LittleEndian.Uint16(inlineValue[:2]))), true
	case fujiTypeLong:
		if count == 0 {
			return model.Value{}, false
		}
		return model.NewIntValue(int64(binary.LittleEndian.Uint32(inlineValue[:4]))), true
	default:
		return model.Value{}, false
	}
}
