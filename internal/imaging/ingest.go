package imaging

import (
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Image is an ingested image. It owns exactly one engine-side handle, which
// stays valid until Release.
type Image struct {
	Width         int
	Height        int
	BytesPerPixel int
	Format        Format

	once    sync.Once
	release func()
}

// Release frees the handle. Calling it again is a no-op.
func (img *Image) Release() {
	if img == nil {
		return
	}
	img.once.Do(func() {
		if img.release != nil {
			img.release()
		}
	})
}

// Ingest hands data to api and selects the whole image for recognition.
// Formats the engine reads natively go through module.ReadImage; the rest
// are decoded here and passed as raw RGBA.
func Ingest(module engine.Module, api engine.API, data []byte) (*Image, error) {
	format := Sniff(data)
	if format == FormatUnknown {
		return nil, errors.NewUnsupportedFormatError("unknown")
	}

	var img *Image
	if format.Native() {
		pix, err := module.ReadImage(data)
		if err != nil {
			return nil, errors.NewImageDecodeError(string(format), err)
		}
		api.SetImage(pix)
		img = &Image{
			Width:   pix.Width(),
			Height:  pix.Height(),
			Format:  format,
			release: pix.Destroy,
		}
	} else {
		raw, err := Decode(data)
		if err != nil {
			return nil, err
		}
		api.SetImageData(raw.Pix, raw.Width, raw.Height, BytesPerPixel, raw.Stride())
		img = &Image{
			Width:         raw.Width,
			Height:        raw.Height,
			BytesPerPixel: BytesPerPixel,
			Format:        format,
			release:       func() { raw.Pix = nil },
		}
	}

	api.SetRectangle(0, 0, img.Width, img.Height)
	return img, nil
}
