// Package enginetest provides an in-memory engine for exercising the job
// pipeline without a native OCR library. Every native-looking resource it
// hands out is counted so tests can assert each one is released exactly once.
package enginetest

import (
	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

// Choice is one alternative reading.
type Choice struct {
	Text       string
	Confidence float64
}

// Symbol is a recognized character.
type Symbol struct {
	Text        string
	Confidence  float64
	Box         engine.Rect
	Superscript bool
	Subscript   bool
	Dropcap     bool
	Choices     []Choice
}

// Word is a recognized word.
type Word struct {
	Text       string
	Confidence float64
	Box        engine.Rect
	Numeric    bool
	Dictionary bool
	Direction  engine.Direction
	Language   string
	Font       engine.FontAttributes
	Choices    []Choice
	Symbols    []Symbol
}

// Line is a recognized text line.
type Line struct {
	Text       string
	Confidence float64
	Box        engine.Rect
	Baseline   engine.Baseline
	Words      []Word
}

// Para is a recognized paragraph.
type Para struct {
	Text        string
	Confidence  float64
	Box         engine.Rect
	LeftToRight bool
	Lines       []Line
}

// Block is a recognized block.
type Block struct {
	Text       string
	Confidence float64
	Box        engine.Rect
	Type       engine.BlockType
	Polygon    []engine.Point
	Paras      []Para
}

// Page is the full scripted recognition output.
type Page struct {
	Blocks []Block
}

// Text concatenates the block texts the way the engine's plain text output would.
func (p Page) Text() string {
	var s string
	for _, b := range p.Blocks {
		s += b.Text
	}
	return s
}

// OneWord builds a page holding a single block/paragraph/line/word spelled
// out as symbols, each with one choice.
func OneWord(text string, confidence float64) Page {
	symbols := make([]Symbol, 0, len(text))
	x := 10
	for _, r := range text {
		symbols = append(symbols, Symbol{
			Text:       string(r),
			Confidence: confidence,
			Box:        engine.Rect{X0: x, Y0: 10, X1: x + 8, Y1: 24},
			Choices:    []Choice{{Text: string(r), Confidence: confidence}},
		})
		x += 9
	}
	box := engine.Rect{X0: 10, Y0: 10, X1: x, Y1: 24}
	baseline := engine.Baseline{X0: 10, Y0: 24, X1: x, Y1: 24, HasBaseline: true}
	return Page{Blocks: []Block{{
		Text:       text + "\n\n",
		Confidence: confidence,
		Box:        box,
		Type:       engine.PT_FLOWING_TEXT,
		Paras: []Para{{
			Text:        text + "\n\n",
			Confidence:  confidence,
			Box:         box,
			LeftToRight: true,
			Lines: []Line{{
				Text:       text + "\n",
				Confidence: confidence,
				Box:        box,
				Baseline:   baseline,
				Words: []Word{{
					Text:       text,
					Confidence: confidence,
					Box:        box,
					Dictionary: true,
					Direction:  engine.DIR_LEFT_TO_RIGHT,
					Language:   "eng",
					Font:       engine.FontAttributes{IsSerif: true, PointSize: 12, FontName: "Times"},
					Choices:    []Choice{{Text: text, Confidence: confidence}},
					Symbols:    symbols,
				}},
			}},
		}},
	}}}
}
