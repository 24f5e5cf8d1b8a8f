package services

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	// register stdlib decoders for image.DecodeConfig
	_ "image/jpeg"
	_ "image/png"
)

// ImageDecoder is the capability-probe strategy behind the thumbnail
// engine. Decoders are interchangeable; availability is resolved once at
// construction as a ranked list. Adding an image library means adding a
// decoder here, not touching pipeline logic.
type ImageDecoder interface {
	Name() string
	SupportsMime(mime string) bool
	DecodeConfig(data []byte) (image.Config, error)
	Decode(data []byte) (image.Image, error)
}

// defaultDecoders is the ranked fallback list used in production.
func defaultDecoders() []ImageDecoder {
	return []ImageDecoder{
		&imagingDecoder{},
		&webpDecoder{},
	}
}

// imagingDecoder handles JPEG and PNG through disintegration/imaging.
type imagingDecoder struct{}

func (d *imagingDecoder) Name() string { return "imaging" }

func (d *imagingDecoder) SupportsMime(mime string) bool {
	return mime == "image/jpeg" || mime == "image/png"
}

func (d *imagingDecoder) DecodeConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	return cfg, err
}

func (d *imagingDecoder) Decode(data []byte) (image.Image, error) {
	// Honors EXIF orientation so portrait shots are not emitted sideways.
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// webpDecoder handles WebP via the decode-only x/image implementation.
type webpDecoder struct{}

func (d *webpDecoder) Name() string { return "webp" }

func (d *webpDecoder) SupportsMime(mime string) bool {
	return mime == "image/webp"
}

func (d *webpDecoder) DecodeConfig(data []byte) (image.Config, error) {
	return webp.DecodeConfig(bytes.NewReader(data))
}

func (d *webpDecoder) Decode(data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}
