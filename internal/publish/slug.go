package publish

import (
	"regexp"
	"strings"
	"time"
)

var (
	unsafeChars = regexp.MustCompile(`[^\w\s\-.]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

const maxSlugTitleLen = 120

// Slug derives a filesystem-safe, time-suffixed document name from an
// episode title. Two episodes with the same title published at different
// times get distinct slugs.
func Slug(title string, at time.Time) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		s = "episode"
	}
	if len(s) > maxSlugTitleLen {
		s = s[:maxSlugTitleLen]
	}
	return s + "_" + at.UTC().Format("2006-01-02T15-04-05")
}
