package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/adverant/nexus/ocr-worker/internal/engine/enginetest"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeBMP(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0}, FormatPNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"gif", []byte("GIF89a...."), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"tiff le", []byte{'I', 'I', 0x2A, 0x00}, FormatTIFF},
		{"tiff be", []byte{'M', 'M', 0x00, 0x2A}, FormatTIFF},
		{"bmp", []byte("BM\x00\x00"), FormatBMP},
		{"pgm", []byte("P5\n4 4\n255\n"), FormatPNM},
		{"pdf", []byte("%PDF-1.4"), FormatUnknown},
		{"short", []byte{0x89}, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeBMP(t *testing.T) {
	raw, err := Decode(encodeBMP(t, 7, 3))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if raw.Width != 7 || raw.Height != 3 {
		t.Errorf("size = %dx%d, want 7x3", raw.Width, raw.Height)
	}
	if raw.Stride() != 28 || len(raw.Pix) != 28*3 {
		t.Errorf("stride = %d, len = %d", raw.Stride(), len(raw.Pix))
	}
	// pixel (2,1): R=x G=y
	off := 1*raw.Stride() + 2*BytesPerPixel
	if raw.Pix[off] != 2 || raw.Pix[off+1] != 1 || raw.Pix[off+3] != 255 {
		t.Errorf("pixel = %v", raw.Pix[off:off+4])
	}
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := Decode([]byte("BM garbage"))
	if !errors.IsCode(err, errors.ErrorImageDecode) {
		t.Errorf("error = %v, want IMAGE_DECODE_FAILED", err)
	}
}

func TestIngestNative(t *testing.T) {
	api := enginetest.NewAPI(enginetest.Page{})
	mod := enginetest.NewModule(api)

	img, err := Ingest(mod, api, encodePNG(t, 12, 5))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	calls := api.Images()
	if len(calls) != 1 || calls[0].Raw {
		t.Fatalf("image calls = %+v, want one native SetImage", calls)
	}
	if r := api.Rectangle(); r.X1 != 12 || r.Y1 != 5 || r.X0 != 0 || r.Y0 != 0 {
		t.Errorf("rectangle = %+v", r)
	}

	img.Release()
	img.Release()
	if mod.Tracker.Destroyed(enginetest.KindPix) != 1 || mod.Tracker.DoubleFreed(enginetest.KindPix) != 0 {
		t.Error("pix must be destroyed exactly once")
	}
}

func TestIngestRaw(t *testing.T) {
	api := enginetest.NewAPI(enginetest.Page{})
	mod := enginetest.NewModule(api)

	img, err := Ingest(mod, api, encodeBMP(t, 9, 4))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	defer img.Release()

	calls := api.Images()
	if len(calls) != 1 || !calls[0].Raw {
		t.Fatalf("image calls = %+v, want one raw SetImageData", calls)
	}
	c := calls[0]
	if c.Width != 9 || c.Height != 4 || c.BytesPerPixel != 4 || c.BytesPerLine != 36 {
		t.Errorf("raw call = %+v", c)
	}
	if mod.Tracker.Created(enginetest.KindPix) != 0 {
		t.Error("raw path must not allocate a pix")
	}
	if img.BytesPerPixel != BytesPerPixel {
		t.Errorf("BytesPerPixel = %d", img.BytesPerPixel)
	}
}

func TestIngestUnsupported(t *testing.T) {
	api := enginetest.NewAPI(enginetest.Page{})
	mod := enginetest.NewModule(api)

	_, err := Ingest(mod, api, []byte("%PDF-1.7 not an image"))
	if !errors.IsCode(err, errors.ErrorUnsupportedFormat) {
		t.Errorf("error = %v, want UNSUPPORTED_FORMAT", err)
	}
	if len(api.Images()) != 0 {
		t.Error("nothing should reach the engine")
	}
}

func TestReleaseNil(t *testing.T) {
	var img *Image
	img.Release()
}

func TestDecodePNM(t *testing.T) {
	tests := []struct {
		name  string
		input string
		w, h  int
		at    func(img image.Image) bool
	}{
		{"P5", "P5\n2 1\n255\n\x00\xff", 2, 1, func(img image.Image) bool {
			return img.(*image.Gray).GrayAt(1, 0).Y == 255
		}},
		{"P2 with comment", "P2\n# scanner\n2 1\n15\n0 15\n", 2, 1, func(img image.Image) bool {
			return img.(*image.Gray).GrayAt(1, 0).Y == 255
		}},
		{"P1 packed digits", "P1\n3 1\n010", 3, 1, func(img image.Image) bool {
			g := img.(*image.Gray)
			return g.GrayAt(0, 0).Y == 255 && g.GrayAt(1, 0).Y == 0
		}},
		{"P4 row padding", "P4\n3 2\n\x40\x80", 3, 2, func(img image.Image) bool {
			g := img.(*image.Gray)
			return g.GrayAt(1, 0).Y == 0 && g.GrayAt(0, 1).Y == 0 && g.GrayAt(1, 1).Y == 255
		}},
		{"P6", "P6 1 1 255\n\x10\x20\x30", 1, 1, func(img image.Image) bool {
			return img.(*image.RGBA).RGBAAt(0, 0) == color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}
		}},
		{"P6 16-bit", "P6\n1 1\n65535\n\x01\x00\x00\x00\xff\xff", 1, 1, func(img image.Image) bool {
			return img.(*image.RGBA64).RGBA64At(0, 0) == color.RGBA64{R: 0x0100, B: 0xffff, A: 0xffff}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(tt.input)
			if Sniff(data) != FormatPNM {
				t.Fatalf("Sniff() = %q", Sniff(data))
			}
			cfg, _, err := DecodeConfig(data)
			if err != nil || cfg.Width != tt.w || cfg.Height != tt.h {
				t.Fatalf("DecodeConfig() = %+v, %v", cfg, err)
			}
			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !tt.at(img) {
				t.Errorf("pixels = %+v", img)
			}
		})
	}
}

func TestDecodePNMTruncated(t *testing.T) {
	for _, input := range []string{"P5\n2 1\n255\n\x00", "P3\n1 1\n255\n1 2", "P2\n1 1\n7\n9\n"} {
		if _, _, err := image.Decode(bytes.NewReader([]byte(input))); err == nil {
			t.Errorf("Decode(%q): expected error", input)
		}
	}
}

func TestIngestPNM(t *testing.T) {
	api := enginetest.NewAPI(enginetest.Page{})
	mod := enginetest.NewModule(api)

	img, err := Ingest(mod, api, []byte("P5\n2 1\n255\n\x00\xff"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	defer img.Release()
	if img.Format != FormatPNM || img.Width != 2 || img.Height != 1 {
		t.Errorf("image = %+v", img)
	}
}
