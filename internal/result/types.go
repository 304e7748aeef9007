/**
 * Recognition result tree
 *
 * The JSON shape of these types is the wire contract of resolved jobs.
 */

package result

import "github.com/adverant/nexus/ocr-worker/internal/engine"

// Choice is one alternative reading of a word or symbol.
type Choice struct {
	Text       string  `json:"text" yaml:"text"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Symbol is a single recognized character.
type Symbol struct {
	Choices       []Choice        `json:"choices" yaml:"choices"`
	Text          string          `json:"text" yaml:"text"`
	Confidence    float64         `json:"confidence" yaml:"confidence"`
	Baseline      engine.Baseline `json:"baseline" yaml:"baseline"`
	BBox          engine.Rect     `json:"bbox" yaml:"bbox"`
	IsSuperscript bool            `json:"is_superscript" yaml:"is_superscript"`
	IsSubscript   bool            `json:"is_subscript" yaml:"is_subscript"`
	IsDropcap     bool            `json:"is_dropcap" yaml:"is_dropcap"`
}

// Word is a recognized word with its typographic attributes.
type Word struct {
	Symbols      []*Symbol       `json:"symbols" yaml:"symbols"`
	Choices      []Choice        `json:"choices" yaml:"choices"`
	Text         string          `json:"text" yaml:"text"`
	Confidence   float64         `json:"confidence" yaml:"confidence"`
	Baseline     engine.Baseline `json:"baseline" yaml:"baseline"`
	BBox         engine.Rect     `json:"bbox" yaml:"bbox"`
	IsNumeric    bool            `json:"is_numeric" yaml:"is_numeric"`
	InDictionary bool            `json:"in_dictionary" yaml:"in_dictionary"`
	Direction    string          `json:"direction" yaml:"direction"`
	Language     string          `json:"language" yaml:"language"`
	IsBold       bool            `json:"is_bold" yaml:"is_bold"`
	IsItalic     bool            `json:"is_italic" yaml:"is_italic"`
	IsUnderlined bool            `json:"is_underlined" yaml:"is_underlined"`
	IsMonospace  bool            `json:"is_monospace" yaml:"is_monospace"`
	IsSerif      bool            `json:"is_serif" yaml:"is_serif"`
	IsSmallcaps  bool            `json:"is_smallcaps" yaml:"is_smallcaps"`
	FontSize     int             `json:"font_size" yaml:"font_size"`
	FontID       int             `json:"font_id" yaml:"font_id"`
	FontName     string          `json:"font_name" yaml:"font_name"`
}

// Line is a recognized text line.
type Line struct {
	Words      []*Word         `json:"words" yaml:"words"`
	Text       string          `json:"text" yaml:"text"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Baseline   engine.Baseline `json:"baseline" yaml:"baseline"`
	BBox       engine.Rect     `json:"bbox" yaml:"bbox"`
}

// Paragraph is a recognized paragraph.
type Paragraph struct {
	Lines      []*Line         `json:"lines" yaml:"lines"`
	Text       string          `json:"text" yaml:"text"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Baseline   engine.Baseline `json:"baseline" yaml:"baseline"`
	BBox       engine.Rect     `json:"bbox" yaml:"bbox"`
	IsLTR      bool            `json:"is_ltr" yaml:"is_ltr"`
}

// Block is a top-level layout region. Polygon is nil when page segmentation
// produced no block outline.
type Block struct {
	Paragraphs []*Paragraph    `json:"paragraphs" yaml:"paragraphs"`
	Text       string          `json:"text" yaml:"text"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Baseline   engine.Baseline `json:"baseline" yaml:"baseline"`
	BBox       engine.Rect     `json:"bbox" yaml:"bbox"`
	BlockType  string          `json:"blocktype" yaml:"blocktype"`
	Polygon    [][2]int        `json:"polygon" yaml:"polygon"`
}

// Files carries binary outputs of a recognize job.
type Files struct {
	PDF []byte `json:"pdf,omitempty" yaml:"pdf,omitempty"`
}

// Recognition is the resolved payload of a recognize job.
type Recognition struct {
	Files      Files    `json:"files" yaml:"files"`
	Text       string   `json:"text" yaml:"text"`
	HOCR       *string  `json:"hocr,omitempty" yaml:"hocr,omitempty"`
	TSV        *string  `json:"tsv,omitempty" yaml:"tsv,omitempty"`
	Box        *string  `json:"box,omitempty" yaml:"box,omitempty"`
	UNLV       *string  `json:"unlv,omitempty" yaml:"unlv,omitempty"`
	OSD        *string  `json:"osd,omitempty" yaml:"osd,omitempty"`
	Confidence int      `json:"confidence" yaml:"confidence"`
	Blocks     []*Block `json:"blocks" yaml:"blocks"`
	PSM        string   `json:"psm" yaml:"psm"`
	OEM        string   `json:"oem" yaml:"oem"`
	Version    string   `json:"version" yaml:"version"`
}

// Detection is the resolved payload of a detect job.
type Detection struct {
	TesseractScriptID     int     `json:"tesseract_script_id" yaml:"tesseract_script_id"`
	Script                string  `json:"script" yaml:"script"`
	ScriptConfidence      float64 `json:"script_confidence" yaml:"script_confidence"`
	OrientationDegrees    int     `json:"orientation_degrees" yaml:"orientation_degrees"`
	OrientationConfidence float64 `json:"orientation_confidence" yaml:"orientation_confidence"`
}

// WordCount returns the number of words in the tree.
func (r *Recognition) WordCount() int {
	n := 0
	for _, b := range r.Blocks {
		for _, p := range b.Paragraphs {
			for _, l := range p.Lines {
				n += len(l.Words)
			}
		}
	}
	return n
}
