package sniff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestDetectBytes(t *testing.T) {
	assert.Equal(t, "image/png", DetectBytes(pngHeader))
	assert.Equal(t, "image/jpeg", DetectBytes([]byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'}))
	assert.Equal(t, "application/pdf", DetectBytes([]byte("%PDF-1.7\n")))
	// magic bytes win over anything a client claims; plain text is text
	assert.Equal(t, "text/plain", DetectBytes([]byte("just some text")))
}

func TestDetectSVG(t *testing.T) {
	svg := []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)
	assert.Equal(t, MimeSVG, DetectBytes(svg))
}

func TestDetectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	mime, ok := Detect(path)
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)

	_, ok = Detect(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
}

func TestExtensionFor(t *testing.T) {
	for mime, want := range map[string]string{
		"image/jpeg":      "jpg",
		"image/png":       "png",
		"image/webp":      "webp",
		"application/pdf": "pdf",
	} {
		ext, ok := ExtensionFor(mime)
		require.True(t, ok, mime)
		assert.Equal(t, want, ext)
	}

	_, ok := ExtensionFor("image/gif")
	assert.False(t, ok)
	_, ok = ExtensionFor(MimeSVG)
	assert.False(t, ok)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("image/png"))
	assert.False(t, IsImage("application/pdf"))
	assert.False(t, IsImage(MimeSVG))
}
