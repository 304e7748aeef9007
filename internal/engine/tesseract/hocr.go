package tesseract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"golang.org/x/net/html"
)

// page is the recognized structure recovered from hOCR output.
type page struct {
	blocks []*block
}

type block struct {
	box   engine.Rect
	kind  engine.BlockType
	paras []*para
}

type para struct {
	box   engine.Rect
	ltr   bool
	lang  string
	lines []*line
}

type line struct {
	box      engine.Rect
	baseline engine.Baseline
	words    []*word
}

type word struct {
	box     engine.Rect
	conf    float64
	text    string
	bold    bool
	italic  bool
	font    string
	size    int
	symbols []*symbol
}

type symbol struct {
	box  engine.Rect
	conf float64
	text string
}

// title holds the parsed properties of an hOCR title attribute, e.g.
// "bbox 36 92 618 184; baseline 0.015 -18; x_wconf 95".
type title map[string][]string

func parseTitle(s string) title {
	t := make(title)
	for _, part := range strings.Split(s, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		t[fields[0]] = fields[1:]
	}
	return t
}

func (t title) ints(key string, n int) ([]int, bool) {
	vals := t[key]
	if len(vals) < n {
		return nil, false
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(vals[i])
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (t title) float(key string) (float64, bool) {
	vals := t[key]
	if len(vals) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(vals[0], 64)
	return v, err == nil
}

func (t title) bbox() engine.Rect {
	v, ok := t.ints("bbox", 4)
	if !ok {
		return engine.Rect{}
	}
	return engine.Rect{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
}

// baseline turns "baseline <slope> <offset>" into a segment across box. The
// offset is relative to the bottom-left corner.
func (t title) baseline(box engine.Rect) engine.Baseline {
	vals := t["baseline"]
	if len(vals) < 2 {
		return engine.Baseline{}
	}
	slope, err1 := strconv.ParseFloat(vals[0], 64)
	offset, err2 := strconv.ParseFloat(vals[1], 64)
	if err1 != nil || err2 != nil {
		return engine.Baseline{}
	}
	y0 := float64(box.Y1) + offset
	y1 := y0 + slope*float64(box.X1-box.X0)
	return engine.Baseline{
		X0:          box.X0,
		Y0:          int(y0 + 0.5),
		X1:          box.X1,
		Y1:          int(y1 + 0.5),
		HasBaseline: true,
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

var lineClasses = []string{"ocr_line", "ocr_caption", "ocr_header", "ocr_textfloat"}

// hocrParser walks the document keeping the innermost open node per level.
type hocrParser struct {
	page  *page
	block *block
	para  *para
	line  *line
}

// parseHOCR recovers the page structure from Tesseract hOCR output.
func parseHOCR(doc string) (*page, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hOCR: %w", err)
	}
	p := &hocrParser{page: &page{}}
	p.walk(root)
	return p.page, nil
}

func (p *hocrParser) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case hasClass(n, "ocr_carea"):
			p.openBlock(n, engine.PT_FLOWING_TEXT)
		case hasClass(n, "ocr_photo"):
			p.openBlock(n, engine.PT_FLOWING_IMAGE)
		case hasClass(n, "ocr_separator"):
			p.openBlock(n, engine.PT_HORZ_LINE)
		case hasClass(n, "ocr_par"):
			p.openPara(n)
		case isLine(n):
			p.openLine(n)
		case hasClass(n, "ocrx_word"):
			p.addWord(n)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

func isLine(n *html.Node) bool {
	for _, c := range lineClasses {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}

func (p *hocrParser) openBlock(n *html.Node, kind engine.BlockType) {
	p.block = &block{box: parseTitle(attr(n, "title")).bbox(), kind: kind}
	p.page.blocks = append(p.page.blocks, p.block)
	p.para, p.line = nil, nil
}

func (p *hocrParser) openPara(n *html.Node) {
	if p.block == nil {
		p.openBlock(n, engine.PT_FLOWING_TEXT)
	}
	p.para = &para{
		box:  parseTitle(attr(n, "title")).bbox(),
		ltr:  attr(n, "dir") != "rtl",
		lang: attr(n, "lang"),
	}
	p.block.paras = append(p.block.paras, p.para)
	p.line = nil
}

func (p *hocrParser) openLine(n *html.Node) {
	if p.para == nil {
		p.openPara(n)
	}
	t := parseTitle(attr(n, "title"))
	box := t.bbox()
	p.line = &line{box: box, baseline: t.baseline(box)}
	p.para.lines = append(p.para.lines, p.line)
}

func (p *hocrParser) addWord(n *html.Node) {
	if p.line == nil {
		p.openLine(n)
	}
	t := parseTitle(attr(n, "title"))
	w := &word{box: t.bbox()}
	w.conf, _ = t.float("x_wconf")
	if v := t["x_font"]; len(v) > 0 {
		w.font = strings.Trim(strings.Join(v, " "), `"`)
	}
	if v, ok := t.ints("x_fsize", 1); ok {
		w.size = v[0]
	}

	var text strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		switch {
		case c.Type == html.TextNode:
			text.WriteString(c.Data)
		case c.Type == html.ElementNode && c.Data == "strong":
			w.bold = true
		case c.Type == html.ElementNode && c.Data == "em":
			w.italic = true
		}
		if c.Type == html.ElementNode && hasClass(c, "ocrx_cinfo") {
			w.symbols = append(w.symbols, cinfo(c))
			text.WriteString(nodeText(c))
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			visit(cc)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
	}
	w.text = strings.TrimSpace(text.String())
	if w.text == "" {
		return
	}
	if len(w.symbols) == 0 {
		w.symbols = splitSymbols(w)
	}
	p.line.words = append(p.line.words, w)
}

func cinfo(n *html.Node) *symbol {
	t := parseTitle(attr(n, "title"))
	s := &symbol{text: nodeText(n)}
	if v, ok := t.ints("x_bboxes", 4); ok {
		s.box = engine.Rect{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	}
	s.conf, _ = t.float("x_conf")
	return s
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			visit(cc)
		}
	}
	visit(n)
	return b.String()
}

// splitSymbols divides a word without character boxes into one symbol per
// rune, sharing the word box evenly along x.
func splitSymbols(w *word) []*symbol {
	runes := []rune(w.text)
	out := make([]*symbol, len(runes))
	width := w.box.X1 - w.box.X0
	for i, r := range runes {
		out[i] = &symbol{
			text: string(r),
			conf: w.conf,
			box: engine.Rect{
				X0: w.box.X0 + width*i/len(runes),
				Y0: w.box.Y0,
				X1: w.box.X0 + width*(i+1)/len(runes),
				Y1: w.box.Y1,
			},
		}
	}
	return out
}
