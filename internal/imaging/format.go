/**
 * Image format detection
 *
 * Formats are identified from magic bytes only; callers routinely send
 * buffers with no name or content type attached.
 */

package imaging

import "bytes"

// Format is a detected image container format.
type Format string

const (
	FormatUnknown Format = ""
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatTIFF    Format = "tiff"
	FormatPNM     Format = "pnm"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
)

// Native reports whether the engine's own image reader handles f.
func (f Format) Native() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatGIF, FormatTIFF, FormatPNM:
		return true
	}
	return false
}

// MimeType returns the IANA media type for f.
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatPNM:
		return "image/x-portable-anymap"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Sniff detects the format of data from its leading bytes.
func Sniff(data []byte) Format {
	if len(data) < 3 {
		return FormatUnknown
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return FormatPNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return FormatJPEG
	}

	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return FormatGIF
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return FormatWebP
	}

	// TIFF: little-endian "II*\0" or big-endian "MM\0*"
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return FormatTIFF
	}

	if bytes.HasPrefix(data, []byte("BM")) {
		return FormatBMP
	}

	// PNM: 'P' '1'..'6' followed by whitespace
	if data[0] == 'P' && data[1] >= '1' && data[1] <= '6' && isSpace(data[2]) {
		return FormatPNM
	}

	return FormatUnknown
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
