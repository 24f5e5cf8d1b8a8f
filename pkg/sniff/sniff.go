// Package sniff detects a file's true MIME type from its bytes and maps it
// to an allowed extension. Client-supplied content types are never trusted.
package sniff

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeSVG is rejected categorically: SVG can embed script content.
const MimeSVG = "image/svg+xml"

// allowedExtensions maps every accepted MIME type to its storage extension.
var allowedExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"application/pdf": "pdf",
}

// Detect returns the magic-byte MIME type of the file at path, without any
// charset parameters. ok is false when the file cannot be read.
func Detect(path string) (string, bool) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	mime, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(mime), true
}

// DetectBytes is Detect over an in-memory payload.
func DetectBytes(data []byte) string {
	mime, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(mime)
}

// ExtensionFor maps an allowed MIME type to its extension. Types outside
// the allow-list report ok=false.
func ExtensionFor(mime string) (string, bool) {
	ext, ok := allowedExtensions[mime]
	return ext, ok
}

// IsImage reports whether the MIME type is one of the allowed image types.
func IsImage(mime string) bool {
	_, ok := allowedExtensions[mime]
	return ok && strings.HasPrefix(mime, "image/")
}
