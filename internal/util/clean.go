package util

import (
	"path/filepath"
	"strings"
	"unicode"
)

const maxFilenameLen = 128

// SanitizeFilename reduces a client-supplied name to a safe base name. It
// never returns an empty string.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		return "upload"
	}
	if len(clean) > maxFilenameLen {
		ext := filepath.Ext(clean)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		clean = clean[:maxFilenameLen-len(ext)] + ext
	}
	return clean
}

// Ext returns the lower-case extension of name without the leading dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ReplaceExt swaps the extension of name for ext.
func ReplaceExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "converted"
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}
