package processor

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// leadingDateRe matches a YYYY-MM-DD date at the start of a filename stem,
// with an optional separator (spec.md §3: title derivation strips "a
// leading YYYY-MM-DD date").
var leadingDateRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[-_]*`)

// trailingViewsRe matches a trailing "<digits>views?" token (spec.md §3:
// "a trailing <digits>views? token").
var trailingViewsRe = regexp.MustCompile(`(?i)[-_]*(\d+)views?$`)

// collapseRe turns runs of underscores/hyphens/whitespace into a single
// space for the title (spec.md §3: "underscores/hyphens collapsed to
// spaces").
var collapseRe = regexp.MustCompile(`[-_\s]+`)

// FilenameInfo is the per-filename derivation spec.md §3 describes:
// title, views, tags, and an optional YYYY-MM-DD date fallback.
type FilenameInfo struct {
	Title string
	Views int
	Tags  []string
	Date  *time.Time
}

// DeriveFilenameInfo implements spec.md §3's title/views/tags/date
// derivation from a storage key and the configured path prefix (tags are
// the path segments between prefix and the filename).
func DeriveFilenameInfo(key, prefix string) FilenameInfo {
	dir, base := path.Split(key)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	title, views := deriveTitleAndViews(stem)

	return FilenameInfo{
		Title: title,
		Views: views,
		Tags:  deriveTags(dir, prefix),
		Date:  deriveFilenameDate(stem),
	}
}

func deriveTitleAndViews(stem string) (string, int) {
	raw := stem
	views := 0

	working := stem
	working = leadingDateRe.ReplaceAllString(working, "")

	if m := trailingViewsRe.FindStringSubmatch(working); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			views = n
		}
		working = trailingViewsRe.ReplaceAllString(working, "")
	}

	title := collapseRe.ReplaceAllString(working, " ")
	title = strings.TrimSpace(title)
	if title == "" {
		title = raw
	}
	return title, views
}

// deriveFilenameDate parses a leading YYYY-MM-DD from the filename stem,
// used as the dateTaken fallback when EXIF carries no date (spec.md §3).
func deriveFilenameDate(stem string) *time.Time {
	m := leadingDateRe.FindStringSubmatch(stem)
	if m == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// deriveTags splits the directory portion of a key (with the configured
// storage prefix removed) into path segments, dropping empty segments.
func deriveTags(dir, prefix string) []string {
	dir = strings.Trim(dir, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		dir = strings.TrimPrefix(dir, prefix)
		dir = strings.Trim(dir, "/")
	}
	if dir == "" {
		return nil
	}
	var tags []string
	for _, seg := range strings.Split(dir, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			tags = append(tags, seg)
		}
	}
	return tags
}
