// Package model defines the data shapes shared across the ingestion
// pipeline: the storage-level object, the derived photo record, the
// manifest document, and the EXIF tree (spec.md §3, §9).
package model

import "time"

// StorageObject is produced by an ObjectStore listing. Keys are opaque;
// equality is by key.
type StorageObject struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Value is a closed sum type for EXIF tree leaves (spec.md §9's design
// note: model EXIF as a tagged tree rather than an open dynamic object).
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueFloat
	ValueString
	ValueBytes
	ValueRational
	ValueDate
	ValueList
	ValueGroup
)

// Rational represents an EXIF rational number (numerator/denominator).
type Rational struct {
	Numerator   int64
	Denominator int64
}

// Value is a single EXIF field value. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	Rat   Rational
	Date  time.Time
	List  []Value
	Group *Group
}

func NewIntValue(v int64) Value        { return Value{Kind: ValueInt, Int: v} }
func NewFloatValue(v float64) Value    { return Value{Kind: ValueFloat, Float: v} }
func NewStringValue(v string) Value    { return Value{Kind: ValueString, Str: v} }
func NewBytesValue(v []byte) Value     { return Value{Kind: ValueBytes, Bytes: v} }
func NewRationalValue(r Rational) Value { return Value{Kind: ValueRational, Rat: r} }
func NewDateValue(t time.Time) Value   { return Value{Kind: ValueDate, Date: t} }
func NewListValue(v []Value) Value     { return Value{Kind: ValueList, List: v} }
func NewGroupValue(g *Group) Value     { return Value{Kind: ValueGroup, Group: g} }

// Group is a named collection of EXIF fields, possibly nesting further
// groups (spec.md §4.3: top-level groups Image, Photo, GPSInfo; Photo may
// carry a nested FujiRecipe group).
type Group struct {
	Name   string
	Fields map[string]Value
}

// NewGroup returns an empty, initialised Group.
func NewGroup(name string) *Group {
	return &Group{Name: name, Fields: make(map[string]Value)}
}

// IsEmpty reports whether the group has no fields.
func (g *Group) IsEmpty() bool { return g == nil || len(g.Fields) == 0 }

// Exif is the top-level extracted metadata structure (spec.md §4.3).
type Exif struct {
	Image   *Group
	Photo   *Group
	GPSInfo *Group
}

// PhotoRecord is one entry in the manifest (spec.md §3).
type PhotoRecord struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DateTaken   string  `json:"dateTaken"` // ISO-8601 UTC instant
	Views       int     `json:"views"`
	Tags        []string `json:"tags"`

	OriginalURL  string `json:"originalUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Blurhash     string `json:"blurhash,omitempty"`

	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`

	S3Key        string `json:"s3Key"`
	LastModified string `json:"lastModified"`
	Size         int64  `json:"size"`

	Exif *ExifJSON `json:"exif,omitempty"`

	IsLivePhoto         bool   `json:"isLivePhoto"`
	LivePhotoVideoURL   string `json:"livePhotoVideoUrl,omitempty"`
	LivePhotoVideoS3Key string `json:"livePhotoVideoS3Key,omitempty"`
}

// Manifest is the ordered sequence of PhotoRecords persisted as the catalog
// document (spec.md §3).
type Manifest []PhotoRecord

// ExifJSON is the serialized projection of an Exif tree: a plain nested
// mapping (spec.md §4.3 calls the extractor's output "language-neutral: a
// nested mapping"). Produced by exif.ToJSON.
type ExifJSON map[string]interface{}
