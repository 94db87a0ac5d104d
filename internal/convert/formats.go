// Package convert implements the queue's execution unit by shelling out to
// ffmpeg, ImageMagick and LibreOffice.
package convert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tool names a native converter.
type Tool string

const (
	ToolFFmpeg  Tool = "ffmpeg"
	ToolMagick  Tool = "magick"
	ToolSoffice Tool = "soffice"
)

// ErrUnsupported is returned for input/output pairs no tool handles.
var ErrUnsupported = errors.New("unsupported conversion")

var (
	audioFormats    = setOf("mp3", "wav", "ogg", "flac", "aac", "m4a", "opus")
	videoFormats    = setOf("mp4", "webm", "mkv", "mov", "avi")
	imageFormats    = setOf("png", "jpg", "jpeg", "webp", "gif", "bmp", "tiff", "ico", "avif")
	documentFormats = setOf("pdf", "docx", "doc", "odt", "rtf", "txt", "html", "xlsx", "ods", "csv", "pptx", "odp")
)

// Resolve picks the tool that converts inputExt into outputFormat.
func Resolve(inputExt, outputFormat string) (Tool, error) {
	in, out := normalize(inputExt), normalize(outputFormat)
	switch {
	case audioFormats[in] && audioFormats[out]:
		return ToolFFmpeg, nil
	case videoFormats[in] && (audioFormats[out] || videoFormats[out] || out == "gif"):
		return ToolFFmpeg, nil
	case imageFormats[in] && (imageFormats[out] || out == "pdf"):
		return ToolMagick, nil
	case documentFormats[in] && documentFormats[out]:
		return ToolSoffice, nil
	}
	return "", fmt.Errorf("%w: %q to %q", ErrUnsupported, in, out)
}

// OutputFormats lists every format some tool can produce.
func OutputFormats() []string {
	seen := make(map[string]bool)
	for _, set := range []map[string]bool{audioFormats, videoFormats, imageFormats, documentFormats} {
		for f := range set {
			seen[f] = true
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsAudio reports whether format is an audio-only container.
func IsAudio(format string) bool { return audioFormats[normalize(format)] }

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
