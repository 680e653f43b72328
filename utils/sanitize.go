package utils

import (
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Strict policy: filenames and log text carry no markup, ever.
var sanitizer = bluemonday.StrictPolicy()

// Sanitize strips all HTML from untrusted text before it is logged or stored.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// SanitizeFilename reduces a client-supplied filename to something safe for
// paths and audit rows: base name only, no markup, no control characters,
// no path separators.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = sanitizer.Sanitize(name)
	var b strings.Builder
	for _, r := range name {
		if r < 32 || r == 127 {
			continue
		}
		if r == '/' || r == '\\' || r == ':' {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "upload"
	}
	if len(cleaned) > 255 {
		cleaned = cleaned[:255]
	}
	return cleaned
}
