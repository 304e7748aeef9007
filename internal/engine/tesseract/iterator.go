package tesseract

import (
	"strings"
	"unicode"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

type stop struct {
	begins [5]bool
	block  *block
	para   *para
	line   *line
	word   *word
	symbol *symbol
}

// iterator is a symbol-level ResultIterator over a parsed hOCR page. Blocks,
// paragraphs and lines without words are not visited.
type iterator struct {
	stops []stop
	idx   int
}

var _ engine.ResultIterator = (*iterator)(nil)

func newIterator(p *page) *iterator {
	it := &iterator{}
	for _, b := range p.blocks {
		startBlock := true
		for _, pa := range b.paras {
			startPara := true
			for _, l := range pa.lines {
				startLine := true
				for _, w := range l.words {
					for si, s := range w.symbols {
						it.stops = append(it.stops, stop{
							begins: [5]bool{startBlock, startPara, startLine, si == 0, true},
							block:  b,
							para:   pa,
							line:   l,
							word:   w,
							symbol: s,
						})
						startBlock, startPara, startLine = false, false, false
					}
				}
			}
		}
	}
	return it
}

func (it *iterator) cur() *stop {
	if it.idx >= len(it.stops) {
		return &stop{block: &block{}, para: &para{}, line: &line{}, word: &word{}, symbol: &symbol{}}
	}
	return &it.stops[it.idx]
}

func (it *iterator) Begin() { it.idx = 0 }

// Next advances to the start of the next element at level.
func (it *iterator) Next(level engine.Level) bool {
	for it.idx+1 < len(it.stops) {
		it.idx++
		if it.stops[it.idx].begins[level] {
			return true
		}
	}
	it.idx = len(it.stops)
	return false
}

func (it *iterator) IsAtBeginningOf(level engine.Level) bool {
	return it.idx < len(it.stops) && it.stops[it.idx].begins[level]
}

func lineText(l *line) string {
	words := make([]string, len(l.words))
	for i, w := range l.words {
		words[i] = w.text
	}
	return strings.Join(words, " ") + "\n"
}

func paraText(p *para) string {
	var b strings.Builder
	for _, l := range p.lines {
		b.WriteString(lineText(l))
	}
	b.WriteString("\n")
	return b.String()
}

func (it *iterator) Text(level engine.Level) string {
	s := it.cur()
	switch level {
	case engine.LevelBlock:
		var b strings.Builder
		for _, p := range s.block.paras {
			b.WriteString(paraText(p))
		}
		return b.String()
	case engine.LevelPara:
		return paraText(s.para)
	case engine.LevelTextline:
		return lineText(s.line)
	case engine.LevelWord:
		return s.word.text
	default:
		return s.symbol.text
	}
}

func meanConf(words []*word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.conf
	}
	return sum / float64(len(words))
}

func (it *iterator) words(level engine.Level) []*word {
	s := it.cur()
	var out []*word
	switch level {
	case engine.LevelBlock:
		for _, p := range s.block.paras {
			for _, l := range p.lines {
				out = append(out, l.words...)
			}
		}
	case engine.LevelPara:
		for _, l := range s.para.lines {
			out = append(out, l.words...)
		}
	default:
		out = s.line.words
	}
	return out
}

func (it *iterator) Confidence(level engine.Level) float64 {
	s := it.cur()
	switch level {
	case engine.LevelWord:
		return s.word.conf
	case engine.LevelSymbol:
		return s.symbol.conf
	default:
		return meanConf(it.words(level))
	}
}

func (it *iterator) BoundingBox(level engine.Level) engine.Rect {
	s := it.cur()
	switch level {
	case engine.LevelBlock:
		return s.block.box
	case engine.LevelPara:
		return s.para.box
	case engine.LevelTextline:
		return s.line.box
	case engine.LevelWord:
		return s.word.box
	default:
		return s.symbol.box
	}
}

// Baseline reports the current line's baseline at every level; hOCR carries
// no other.
func (it *iterator) Baseline(level engine.Level) engine.Baseline {
	return it.cur().line.baseline
}

func (it *iterator) BlockType() engine.BlockType { return it.cur().block.kind }

func (it *iterator) BlockPolygon() engine.Polygon {
	b := it.cur().block.box
	if b == (engine.Rect{}) {
		return nil
	}
	return &polygon{points: []engine.Point{
		{X: b.X0, Y: b.Y0},
		{X: b.X1, Y: b.Y0},
		{X: b.X1, Y: b.Y1},
		{X: b.X0, Y: b.Y1},
	}}
}

func (it *iterator) ParagraphIsLtr() bool { return it.cur().para.ltr }

func (it *iterator) WordFontAttributes() engine.FontAttributes {
	w := it.cur().word
	return engine.FontAttributes{
		IsBold:    w.bold,
		IsItalic:  w.italic,
		PointSize: w.size,
		FontName:  w.font,
	}
}

func (it *iterator) WordDirection() engine.Direction {
	if it.cur().para.ltr {
		return engine.DIR_LEFT_TO_RIGHT
	}
	return engine.DIR_RIGHT_TO_LEFT
}

func (it *iterator) WordIsNumeric() bool {
	text := it.cur().word.text
	if text == "" {
		return false
	}
	for _, r := range text {
		if !unicode.IsDigit(r) && !strings.ContainsRune("+-.,", r) {
			return false
		}
	}
	return true
}

func (it *iterator) WordIsFromDictionary() bool { return false }

func (it *iterator) WordRecognitionLanguage() string { return it.cur().para.lang }

func (it *iterator) WordChoices() engine.ChoiceIterator {
	w := it.cur().word
	return &choice{text: w.text, conf: w.conf}
}

func (it *iterator) SymbolIsSuperscript() bool { return false }
func (it *iterator) SymbolIsSubscript() bool   { return false }
func (it *iterator) SymbolIsDropcap() bool     { return false }

func (it *iterator) SymbolChoices() engine.ChoiceIterator {
	s := it.cur().symbol
	return &choice{text: s.text, conf: s.conf}
}

func (it *iterator) Destroy() { it.stops = nil }

// choice is the single reading hOCR reports for a word or symbol.
type choice struct {
	text string
	conf float64
}

func (c *choice) Text() string        { return c.text }
func (c *choice) Confidence() float64 { return c.conf }
func (c *choice) Next() bool          { return false }
func (c *choice) Destroy()            {}

type polygon struct {
	points []engine.Point
}

func (p *polygon) Points() []engine.Point { return p.points }
func (p *polygon) Destroy()               {}
