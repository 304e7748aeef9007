/**
 * OCR engine boundary
 *
 * The recognition engine is an opaque capability. These interfaces follow
 * the shape of the Tesseract base API closely enough that an adapter can be
 * a thin shim, while tests can drive the pipeline with in-memory fakes.
 */

package engine

import "context"

// Level is a page-iterator granularity, coarsest first.
type Level int

const (
	LevelBlock Level = iota
	LevelPara
	LevelTextline
	LevelWord
	LevelSymbol
)

var levelNames = [...]string{"block", "paragraph", "line", "word", "symbol"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// Rect is a bounding box in image pixels, (X0,Y0) top-left, (X1,Y1) bottom-right.
type Rect struct {
	X0 int `json:"x0" yaml:"x0"`
	Y0 int `json:"y0" yaml:"y0"`
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
}

// Baseline is the text baseline of a node as a segment.
type Baseline struct {
	X0          int  `json:"x0" yaml:"x0"`
	Y0          int  `json:"y0" yaml:"y0"`
	X1          int  `json:"x1" yaml:"x1"`
	Y1          int  `json:"y1" yaml:"y1"`
	HasBaseline bool `json:"has_baseline" yaml:"has_baseline"`
}

// Point is one vertex of a block polygon.
type Point struct {
	X int
	Y int
}

// FontAttributes holds the typographic properties reported for a word.
type FontAttributes struct {
	IsBold       bool
	IsItalic     bool
	IsUnderlined bool
	IsMonospace  bool
	IsSerif      bool
	IsSmallcaps  bool
	PointSize    int
	FontID       int
	FontName     string
}

// OSResults is the best orientation/script estimate from DetectOS.
// OrientationID uses the engine's own convention (see executor.OrientationDegrees).
type OSResults struct {
	OrientationID         int
	OrientationConfidence float64
	ScriptID              int
	ScriptName            string
	ScriptConfidence      float64
}

// Polygon is a native point array. Destroy must be called once.
type Polygon interface {
	Points() []Point
	Destroy()
}

// ChoiceIterator walks alternative readings of a word or symbol. It starts
// positioned on the first alternative.
type ChoiceIterator interface {
	Text() string
	Confidence() float64
	Next() bool
	Destroy()
}

// ResultIterator is a forward cursor over recognized structure.
type ResultIterator interface {
	Begin()
	Next(level Level) bool
	IsAtBeginningOf(level Level) bool

	Text(level Level) string
	Confidence(level Level) float64
	BoundingBox(level Level) Rect
	Baseline(level Level) Baseline

	BlockType() BlockType
	// BlockPolygon returns nil when page segmentation produced no geometry.
	BlockPolygon() Polygon
	ParagraphIsLtr() bool

	WordFontAttributes() FontAttributes
	WordDirection() Direction
	WordIsNumeric() bool
	WordIsFromDictionary() bool
	WordRecognitionLanguage() string
	WordChoices() ChoiceIterator

	SymbolIsSuperscript() bool
	SymbolIsSubscript() bool
	SymbolIsDropcap() bool
	SymbolChoices() ChoiceIterator

	Destroy()
}

// Pix is a native decoded image. Destroy must be called once.
type Pix interface {
	Width() int
	Height() int
	Destroy()
}

// API is the per-process engine instance. It is stateful and not reentrant:
// Init/SetImage/Recognize/End bracket one job at a time.
type API interface {
	Init(dataPath, langs string, mode EngineMode) error
	// SetVariable reports whether the engine accepted the variable.
	SetVariable(name, value string) bool
	SetPageSegMode(mode PageSegMode)
	PageSegMode() PageSegMode
	EngineMode() EngineMode

	SetImage(pix Pix)
	SetImageData(data []byte, width, height, bytesPerPixel, bytesPerLine int)
	SetRectangle(left, top, width, height int)

	Recognize(ctx context.Context) error
	// Iterator returns nil when nothing was recognized.
	Iterator() ResultIterator
	DetectOS() (OSResults, bool)

	Text() (string, error)
	HOCRText() (string, error)
	TSVText() (string, error)
	BoxText() (string, error)
	UNLVText() (string, error)
	OSDText() (string, error)
	MeanTextConf() int

	// RenderPDF writes /<name>.pdf into the module file system.
	RenderPDF(name, title string, textOnly bool) error

	Version() string
	End()
}

// Module is a loaded engine module: a virtual file system plus a factory for
// the API object.
type Module interface {
	NewAPI() (API, error)
	ReadImage(data []byte) (Pix, error)
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	HasFile(name string) bool
	// DataPath is the directory Init reads language data from.
	DataPath() string
}

// ProgressFunc receives the engine's raw recognition percentage (0-100).
type ProgressFunc func(percent int)

// Loader loads the engine module from corePath. onProgress is the single
// global progress hook the module will call during recognition.
type Loader interface {
	Load(ctx context.Context, corePath string, onProgress ProgressFunc) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, corePath string, onProgress ProgressFunc) (Module, error)

func (f LoaderFunc) Load(ctx context.Context, corePath string, onProgress ProgressFunc) (Module, error) {
	return f(ctx, corePath, onProgress)
}

// Reporter receives progress for the job that currently owns the engine.
type Reporter interface {
	Progress(status string, progress float64)
}
