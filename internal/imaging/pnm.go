package imaging

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Netpbm P1 through P6. Registered with the image package so that both
// Decode and the engine's header check accept PNM buffers.
func init() {
	for _, magic := range []string{"P1", "P2", "P3", "P4", "P5", "P6"} {
		image.RegisterFormat("pnm", magic, decodePNM, decodePNMConfig)
	}
}

// maxPNMBytes bounds the decoded buffer a header may ask for.
const maxPNMBytes = 1 << 30

type pnmHeader struct {
	kind          byte
	width, height int
	maxval        int
}

func (h pnmHeader) channels() int {
	if h.kind == '3' || h.kind == '6' {
		return 3
	}
	return 1
}

func (h pnmHeader) wide() bool { return h.maxval > 255 }

func (h pnmHeader) colorModel() color.Model {
	switch {
	case h.channels() == 1 && h.wide():
		return color.Gray16Model
	case h.channels() == 1:
		return color.GrayModel
	case h.wide():
		return color.RGBA64Model
	}
	return color.RGBAModel
}

func readPNMHeader(br *bufio.Reader) (pnmHeader, error) {
	var h pnmHeader
	magic := make([]byte, 2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return h, fmt.Errorf("pnm: %w", err)
	}
	if magic[0] != 'P' || magic[1] < '1' || magic[1] > '6' {
		return h, fmt.Errorf("pnm: bad magic %q", magic)
	}
	h.kind = magic[1]

	var err error
	if h.width, err = readPNMInt(br); err != nil {
		return h, err
	}
	if h.height, err = readPNMInt(br); err != nil {
		return h, err
	}
	h.maxval = 1
	if h.kind != '1' && h.kind != '4' {
		if h.maxval, err = readPNMInt(br); err != nil {
			return h, err
		}
	}
	if h.width <= 0 || h.height <= 0 {
		return h, fmt.Errorf("pnm: invalid size %dx%d", h.width, h.height)
	}
	if h.maxval < 1 || h.maxval > 65535 {
		return h, fmt.Errorf("pnm: invalid maxval %d", h.maxval)
	}
	out := 1
	if h.channels() == 3 {
		out = 4
	}
	if h.wide() {
		out *= 2
	}
	if int64(h.width)*int64(h.height)*int64(out) > maxPNMBytes {
		return h, fmt.Errorf("pnm: image %dx%d is too large", h.width, h.height)
	}

	// A single whitespace byte separates the header from binary samples.
	if h.kind >= '4' {
		b, err := br.ReadByte()
		if err != nil {
			return h, fmt.Errorf("pnm: %w", err)
		}
		if !isSpace(b) {
			return h, fmt.Errorf("pnm: header not terminated")
		}
	}
	return h, nil
}

// skipPNMSpace returns the next byte that is neither whitespace nor part of
// a comment.
func skipPNMSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch {
		case b == '#':
			if _, err := br.ReadString('\n'); err != nil {
				return 0, err
			}
		case isSpace(b):
		default:
			return b, nil
		}
	}
}

func readPNMInt(br *bufio.Reader) (int, error) {
	b, err := skipPNMSpace(br)
	if err != nil {
		return 0, fmt.Errorf("pnm: %w", err)
	}
	if b < '0' || b > '9' {
		return 0, fmt.Errorf("pnm: unexpected byte %q", b)
	}
	n := int(b - '0')
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pnm: %w", err)
		}
		if b < '0' || b > '9' {
			return n, br.UnreadByte()
		}
		n = n*10 + int(b-'0')
		if n > 1<<30 {
			return 0, fmt.Errorf("pnm: number out of range")
		}
	}
}

type pnmSampler struct {
	br  *bufio.Reader
	h   pnmHeader
	cur byte
	bit uint
}

// next returns one sample. rowStart drops the padding bits of P4 rows.
func (s *pnmSampler) next(rowStart bool) (int, error) {
	switch s.h.kind {
	case '1':
		b, err := skipPNMSpace(s.br)
		if err != nil {
			return 0, fmt.Errorf("pnm: %w", err)
		}
		if b != '0' && b != '1' {
			return 0, fmt.Errorf("pnm: unexpected byte %q", b)
		}
		return int('1' - b), nil
	case '2', '3':
		return readPNMInt(s.br)
	case '4':
		if rowStart || s.bit == 0 {
			b, err := s.br.ReadByte()
			if err != nil {
				return 0, fmt.Errorf("pnm: %w", err)
			}
			s.cur, s.bit = b, 8
		}
		s.bit--
		return 1 - int(s.cur>>s.bit&1), nil
	}

	hi, err := s.br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("pnm: %w", err)
	}
	if !s.h.wide() {
		return int(hi), nil
	}
	lo, err := s.br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("pnm: %w", err)
	}
	return int(hi)<<8 | int(lo), nil
}

func decodePNMConfig(r io.Reader) (image.Config, error) {
	h, err := readPNMHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: h.colorModel(), Width: h.width, Height: h.height}, nil
}

func decodePNM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readPNMHeader(br)
	if err != nil {
		return nil, err
	}
	s := &pnmSampler{br: br, h: h}
	rect := image.Rect(0, 0, h.width, h.height)
	channels := h.channels()

	// Samples are scaled to the full range of the output depth.
	top := 255
	if h.wide() {
		top = 65535
	}
	var pix []byte
	var img image.Image
	switch {
	case channels == 1 && h.wide():
		g := image.NewGray16(rect)
		pix, img = g.Pix, g
	case channels == 1:
		g := image.NewGray(rect)
		pix, img = g.Pix, g
	case h.wide():
		c := image.NewRGBA64(rect)
		pix, img = c.Pix, c
	default:
		c := image.NewRGBA(rect)
		pix, img = c.Pix, c
	}

	i := 0
	put := func(v int) {
		if h.wide() {
			pix[i], pix[i+1] = byte(v>>8), byte(v)
			i += 2
			return
		}
		pix[i] = byte(v)
		i++
	}
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			for c := 0; c < channels; c++ {
				v, err := s.next(x == 0 && c == 0)
				if err != nil {
					return nil, err
				}
				if v > h.maxval {
					return nil, fmt.Errorf("pnm: sample %d exceeds maxval %d", v, h.maxval)
				}
				put(v * top / h.maxval)
			}
			if channels == 3 {
				put(top)
			}
		}
	}
	return img, nil
}
