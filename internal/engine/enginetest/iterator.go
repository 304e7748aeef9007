package enginetest

import (
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

// Tracker counts native-looking resources handed out by the fake engine.
type Tracker struct {
	mu        sync.Mutex
	created   map[string]int
	destroyed map[string]int
	double    map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		created:   make(map[string]int),
		destroyed: make(map[string]int),
		double:    make(map[string]int),
	}
}

func (t *Tracker) create(kind string) {
	t.mu.Lock()
	t.created[kind]++
	t.mu.Unlock()
}

func (t *Tracker) destroy(kind string, already bool) {
	t.mu.Lock()
	if already {
		t.double[kind]++
	} else {
		t.destroyed[kind]++
	}
	t.mu.Unlock()
}

// Created returns how many resources of kind were handed out.
func (t *Tracker) Created(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created[kind]
}

// Destroyed returns how many resources of kind were released.
func (t *Tracker) Destroyed(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed[kind]
}

// Leaked returns created minus destroyed for kind.
func (t *Tracker) Leaked(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created[kind] - t.destroyed[kind]
}

// DoubleFreed returns how many times a resource of kind was released twice.
func (t *Tracker) DoubleFreed(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.double[kind]
}

// Resource kinds reported by Tracker.
const (
	KindIterator = "iterator"
	KindChoice   = "choice"
	KindPolygon  = "polygon"
	KindPix      = "pix"
)

// position is one stop of the symbol-level cursor.
type position struct {
	begins [5]bool
	block  *Block
	para   *Para
	line   *Line
	word   *Word
	symbol *Symbol
}

func flatten(p *Page) []position {
	var out []position
	for bi := range p.Blocks {
		b := &p.Blocks[bi]
		startBlock := true
		for pi := range b.Paras {
			pa := &b.Paras[pi]
			startPara := true
			for li := range pa.Lines {
				l := &pa.Lines[li]
				startLine := true
				for wi := range l.Words {
					w := &l.Words[wi]
					if len(w.Symbols) == 0 {
						out = append(out, position{
							begins: [5]bool{startBlock, startPara, startLine, true, false},
							block:  b, para: pa, line: l, word: w,
						})
						startBlock, startPara, startLine = false, false, false
						continue
					}
					for si := range w.Symbols {
						out = append(out, position{
							begins: [5]bool{startBlock, startPara, startLine, si == 0, true},
							block:  b, para: pa, line: l, word: w, symbol: &w.Symbols[si],
						})
						startBlock, startPara, startLine = false, false, false
					}
				}
			}
		}
	}
	return out
}

// Iterator is a symbol-level ResultIterator over a scripted Page.
type Iterator struct {
	tracker   *Tracker
	positions []position
	idx       int
	destroyed bool
}

var _ engine.ResultIterator = (*Iterator)(nil)

// NewIterator returns an iterator over page, registered with tracker.
func NewIterator(page *Page, tracker *Tracker) *Iterator {
	tracker.create(KindIterator)
	return &Iterator{tracker: tracker, positions: flatten(page)}
}

func (it *Iterator) cur() *position {
	if it.idx < 0 || it.idx >= len(it.positions) {
		return &position{}
	}
	return &it.positions[it.idx]
}

func (it *Iterator) Begin() { it.idx = 0 }

func (it *Iterator) Next(level engine.Level) bool {
	for it.idx+1 < len(it.positions) {
		it.idx++
		if it.positions[it.idx].begins[level] {
			return true
		}
	}
	it.idx = len(it.positions)
	return false
}

func (it *Iterator) IsAtBeginningOf(level engine.Level) bool {
	return it.cur().begins[level]
}

func (it *Iterator) Text(level engine.Level) string {
	p := it.cur()
	switch level {
	case engine.LevelBlock:
		if p.block != nil {
			return p.block.Text
		}
	case engine.LevelPara:
		if p.para != nil {
			return p.para.Text
		}
	case engine.LevelTextline:
		if p.line != nil {
			return p.line.Text
		}
	case engine.LevelWord:
		if p.word != nil {
			return p.word.Text
		}
	case engine.LevelSymbol:
		if p.symbol != nil {
			return p.symbol.Text
		}
	}
	return ""
}

func (it *Iterator) Confidence(level engine.Level) float64 {
	p := it.cur()
	switch level {
	case engine.LevelBlock:
		if p.block != nil {
			return p.block.Confidence
		}
	case engine.LevelPara:
		if p.para != nil {
			return p.para.Confidence
		}
	case engine.LevelTextline:
		if p.line != nil {
			return p.line.Confidence
		}
	case engine.LevelWord:
		if p.word != nil {
			return p.word.Confidence
		}
	case engine.LevelSymbol:
		if p.symbol != nil {
			return p.symbol.Confidence
		}
	}
	return 0
}

func (it *Iterator) BoundingBox(level engine.Level) engine.Rect {
	p := it.cur()
	switch level {
	case engine.LevelBlock:
		if p.block != nil {
			return p.block.Box
		}
	case engine.LevelPara:
		if p.para != nil {
			return p.para.Box
		}
	case engine.LevelTextline:
		if p.line != nil {
			return p.line.Box
		}
	case engine.LevelWord:
		if p.word != nil {
			return p.word.Box
		}
	case engine.LevelSymbol:
		if p.symbol != nil {
			return p.symbol.Box
		}
	}
	return engine.Rect{}
}

func (it *Iterator) Baseline(level engine.Level) engine.Baseline {
	if p := it.cur(); p.line != nil {
		return p.line.Baseline
	}
	return engine.Baseline{}
}

func (it *Iterator) BlockType() engine.BlockType {
	if p := it.cur(); p.block != nil {
		return p.block.Type
	}
	return engine.PT_UNKNOWN
}

func (it *Iterator) BlockPolygon() engine.Polygon {
	p := it.cur()
	if p.block == nil || p.block.Polygon == nil {
		return nil
	}
	it.tracker.create(KindPolygon)
	return &polygon{tracker: it.tracker, points: p.block.Polygon}
}

func (it *Iterator) ParagraphIsLtr() bool {
	if p := it.cur(); p.para != nil {
		return p.para.LeftToRight
	}
	return true
}

func (it *Iterator) WordFontAttributes() engine.FontAttributes {
	if p := it.cur(); p.word != nil {
		return p.word.Font
	}
	return engine.FontAttributes{}
}

func (it *Iterator) WordDirection() engine.Direction {
	if p := it.cur(); p.word != nil {
		return p.word.Direction
	}
	return engine.DIR_NEUTRAL
}

func (it *Iterator) WordIsNumeric() bool {
	p := it.cur()
	return p.word != nil && p.word.Numeric
}

func (it *Iterator) WordIsFromDictionary() bool {
	p := it.cur()
	return p.word != nil && p.word.Dictionary
}

func (it *Iterator) WordRecognitionLanguage() string {
	if p := it.cur(); p.word != nil {
		return p.word.Language
	}
	return ""
}

func (it *Iterator) WordChoices() engine.ChoiceIterator {
	var choices []Choice
	if p := it.cur(); p.word != nil {
		choices = p.word.Choices
	}
	return newChoices(it.tracker, choices)
}

func (it *Iterator) SymbolIsSuperscript() bool {
	p := it.cur()
	return p.symbol != nil && p.symbol.Superscript
}

func (it *Iterator) SymbolIsSubscript() bool {
	p := it.cur()
	return p.symbol != nil && p.symbol.Subscript
}

func (it *Iterator) SymbolIsDropcap() bool {
	p := it.cur()
	return p.symbol != nil && p.symbol.Dropcap
}

func (it *Iterator) SymbolChoices() engine.ChoiceIterator {
	var choices []Choice
	if p := it.cur(); p.symbol != nil {
		choices = p.symbol.Choices
	}
	return newChoices(it.tracker, choices)
}

func (it *Iterator) Destroy() {
	it.tracker.destroy(KindIterator, it.destroyed)
	it.destroyed = true
}

type choices struct {
	tracker   *Tracker
	items     []Choice
	idx       int
	destroyed bool
}

func newChoices(tracker *Tracker, items []Choice) *choices {
	tracker.create(KindChoice)
	return &choices{tracker: tracker, items: items}
}

func (c *choices) Text() string {
	if c.idx < len(c.items) {
		return c.items[c.idx].Text
	}
	return ""
}

func (c *choices) Confidence() float64 {
	if c.idx < len(c.items) {
		return c.items[c.idx].Confidence
	}
	return 0
}

func (c *choices) Next() bool {
	c.idx++
	return c.idx < len(c.items)
}

func (c *choices) Destroy() {
	c.tracker.destroy(KindChoice, c.destroyed)
	c.destroyed = true
}

type polygon struct {
	tracker   *Tracker
	points    []engine.Point
	destroyed bool
}

func (p *polygon) Points() []engine.Point { return p.points }

func (p *polygon) Destroy() {
	p.tracker.destroy(KindPolygon, p.destroyed)
	p.destroyed = true
}
