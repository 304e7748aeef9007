package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// BytesPerPixel of the raw buffers produced by Decode.
const BytesPerPixel = 4

// Raw is a tightly packed RGBA buffer.
type Raw struct {
	Pix    []byte
	Width  int
	Height int
}

// Stride is the number of bytes per row.
func (r *Raw) Stride() int { return r.Width * BytesPerPixel }

// Decode decodes data into a packed RGBA buffer.
func Decode(data []byte) (*Raw, error) {
	format := Sniff(data)
	var img image.Image
	var err error
	switch format {
	case FormatBMP:
		img, err = bmp.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	case FormatUnknown:
		return nil, errors.NewUnsupportedFormatError("unknown")
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errors.NewImageDecodeError(string(format), err)
	}
	return toRaw(img), nil
}

func toRaw(img image.Image) *Raw {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*BytesPerPixel || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Raw{Pix: rgba.Pix, Width: b.Dx(), Height: b.Dy()}
}

// DecodeConfig returns the dimensions of data without decoding pixels.
func DecodeConfig(data []byte) (image.Config, Format, error) {
	format := Sniff(data)
	var cfg image.Config
	var err error
	switch format {
	case FormatBMP:
		cfg, err = bmp.DecodeConfig(bytes.NewReader(data))
	case FormatWebP:
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	case FormatUnknown:
		return cfg, format, errors.NewUnsupportedFormatError("unknown")
	default:
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return cfg, format, fmt.Errorf("failed to read %s header: %w", format, err)
	}
	return cfg, format, nil
}
