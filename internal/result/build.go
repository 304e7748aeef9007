package result

import (
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

// builder holds the currently open node at each level. Opening a node closes
// every deeper one.
type builder struct {
	it     engine.ResultIterator
	blocks []*Block
	block  *Block
	para   *Paragraph
	line   *Line
	word   *Word
}

// Build walks it once at symbol granularity and returns the block tree. The
// iterator and every choice iterator it hands out are destroyed before Build
// returns. A nil iterator yields an empty tree.
func Build(it engine.ResultIterator) []*Block {
	if it == nil {
		return []*Block{}
	}
	defer it.Destroy()

	b := &builder{it: it, blocks: []*Block{}}
	it.Begin()
	for {
		if it.IsAtBeginningOf(engine.LevelBlock) {
			b.openBlock()
		}
		if it.IsAtBeginningOf(engine.LevelPara) {
			b.openPara()
		}
		if it.IsAtBeginningOf(engine.LevelTextline) {
			b.openLine()
		}
		if it.IsAtBeginningOf(engine.LevelWord) {
			b.openWord()
		}
		if it.IsAtBeginningOf(engine.LevelSymbol) {
			b.openSymbol()
		}
		if !it.Next(engine.LevelSymbol) {
			break
		}
	}
	return b.blocks
}

func (b *builder) openBlock() {
	it := b.it
	block := &Block{
		Paragraphs: []*Paragraph{},
		Text:       it.Text(engine.LevelBlock),
		Confidence: it.Confidence(engine.LevelBlock),
		Baseline:   it.Baseline(engine.LevelBlock),
		BBox:       it.BoundingBox(engine.LevelBlock),
		BlockType:  it.BlockType().String(),
		Polygon:    polygon(it.BlockPolygon()),
	}
	b.blocks = append(b.blocks, block)
	b.block, b.para, b.line, b.word = block, nil, nil, nil
}

func (b *builder) openPara() {
	if b.block == nil {
		b.openBlock()
	}
	it := b.it
	para := &Paragraph{
		Lines:      []*Line{},
		Text:       it.Text(engine.LevelPara),
		Confidence: it.Confidence(engine.LevelPara),
		Baseline:   it.Baseline(engine.LevelPara),
		BBox:       it.BoundingBox(engine.LevelPara),
		IsLTR:      it.ParagraphIsLtr(),
	}
	b.block.Paragraphs = append(b.block.Paragraphs, para)
	b.para, b.line, b.word = para, nil, nil
}

func (b *builder) openLine() {
	if b.para == nil {
		b.openPara()
	}
	it := b.it
	line := &Line{
		Words:      []*Word{},
		Text:       it.Text(engine.LevelTextline),
		Confidence: it.Confidence(engine.LevelTextline),
		Baseline:   it.Baseline(engine.LevelTextline),
		BBox:       it.BoundingBox(engine.LevelTextline),
	}
	b.para.Lines = append(b.para.Lines, line)
	b.line, b.word = line, nil
}

func (b *builder) openWord() {
	if b.line == nil {
		b.openLine()
	}
	it := b.it
	font := it.WordFontAttributes()
	word := &Word{
		Symbols:      []*Symbol{},
		Choices:      drain(it.WordChoices()),
		Text:         it.Text(engine.LevelWord),
		Confidence:   it.Confidence(engine.LevelWord),
		Baseline:     it.Baseline(engine.LevelWord),
		BBox:         it.BoundingBox(engine.LevelWord),
		IsNumeric:    it.WordIsNumeric(),
		InDictionary: it.WordIsFromDictionary(),
		Direction:    it.WordDirection().String(),
		Language:     it.WordRecognitionLanguage(),
		IsBold:       font.IsBold,
		IsItalic:     font.IsItalic,
		IsUnderlined: font.IsUnderlined,
		IsMonospace:  font.IsMonospace,
		IsSerif:      font.IsSerif,
		IsSmallcaps:  font.IsSmallcaps,
		FontSize:     font.PointSize,
		FontID:       font.FontID,
		FontName:     font.FontName,
	}
	b.line.Words = append(b.line.Words, word)
	b.word = word
}

func (b *builder) openSymbol() {
	if b.word == nil {
		b.openWord()
	}
	it := b.it
	sym := &Symbol{
		Choices:       drain(it.SymbolChoices()),
		Text:          it.Text(engine.LevelSymbol),
		Confidence:    it.Confidence(engine.LevelSymbol),
		Baseline:      it.Baseline(engine.LevelSymbol),
		BBox:          it.BoundingBox(engine.LevelSymbol),
		IsSuperscript: it.SymbolIsSuperscript(),
		IsSubscript:   it.SymbolIsSubscript(),
		IsDropcap:     it.SymbolIsDropcap(),
	}
	b.word.Symbols = append(b.word.Symbols, sym)
}

// drain collects every alternative, starting from the current one, and
// destroys ci.
func drain(ci engine.ChoiceIterator) []Choice {
	out := []Choice{}
	if ci == nil {
		return out
	}
	defer ci.Destroy()
	for {
		out = append(out, Choice{Text: ci.Text(), Confidence: ci.Confidence()})
		if !ci.Next() {
			return out
		}
	}
}

func polygon(p engine.Polygon) [][2]int {
	if p == nil {
		return nil
	}
	defer p.Destroy()
	pts := p.Points()
	out := make([][2]int, len(pts))
	for i, pt := range pts {
		out[i] = [2]int{pt.X, pt.Y}
	}
	return out
}

// Deindent removes one level of the two-space indentation the engine puts
// on hOCR output. Nothing changes unless the first line is indented.
func Deindent(hocr string) string {
	lines := strings.Split(hocr, "\n")
	if !strings.HasPrefix(lines[0], "  ") {
		return hocr
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, "  ")
	}
	return strings.Join(lines, "\n")
}
