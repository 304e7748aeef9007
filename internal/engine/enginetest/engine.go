package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
)

// Module is a fake engine module with an in-memory file system.
type Module struct {
	Tracker *Tracker
	API     *API

	mu         sync.Mutex
	files      map[string][]byte
	onProgress engine.ProgressFunc
	newAPIErr  error
}

var _ engine.Module = (*Module)(nil)

// NewModule returns a module whose NewAPI hands out api.
func NewModule(api *API) *Module {
	m := &Module{
		Tracker: NewTracker(),
		API:     api,
		files:   make(map[string][]byte),
	}
	api.module = m
	return m
}

func (m *Module) NewAPI() (engine.API, error) {
	if m.newAPIErr != nil {
		return nil, m.newAPIErr
	}
	return m.API, nil
}

// FailNewAPI makes NewAPI return err.
func (m *Module) FailNewAPI(err error) { m.newAPIErr = err }

func (m *Module) ReadImage(data []byte) (engine.Pix, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pixReadMem: %w", err)
	}
	m.Tracker.create(KindPix)
	return &Pix{tracker: m.Tracker, w: cfg.Width, h: cfg.Height}, nil
}

func clean(name string) string { return strings.TrimPrefix(name, "/") }

func (m *Module) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(name)] = append([]byte(nil), data...)
	return nil
}

func (m *Module) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(name)]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", name)
	}
	return data, nil
}

func (m *Module) HasFile(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[clean(name)]
	return ok
}

func (m *Module) DataPath() string { return "/tessdata" }

// Loader returns an engine.Loader that hands out m and counts invocations.
func (m *Module) Loader(calls *atomic.Int32) engine.Loader {
	return engine.LoaderFunc(func(ctx context.Context, corePath string, onProgress engine.ProgressFunc) (engine.Module, error) {
		if calls != nil {
			calls.Add(1)
		}
		m.mu.Lock()
		m.onProgress = onProgress
		m.mu.Unlock()
		return m, nil
	})
}

func (m *Module) progress(percent int) {
	m.mu.Lock()
	hook := m.onProgress
	m.mu.Unlock()
	if hook != nil {
		hook(percent)
	}
}

// Pix is a fake decoded image.
type Pix struct {
	tracker   *Tracker
	w, h      int
	destroyed bool
}

func (p *Pix) Width() int  { return p.w }
func (p *Pix) Height() int { return p.h }

func (p *Pix) Destroy() {
	p.tracker.destroy(KindPix, p.destroyed)
	p.destroyed = true
}

// ImageCall records one SetImage/SetImageData call.
type ImageCall struct {
	Pix           engine.Pix
	Raw           bool
	Width, Height int
	BytesPerPixel int
	BytesPerLine  int
}

// Variable records one SetVariable call.
type Variable struct {
	Name  string
	Value string
}

// API is a scripted engine API. Configure the exported fields before use and
// inspect the recorded calls afterwards.
type API struct {
	Page         Page
	OSD          engine.OSResults
	OSDOK        bool
	InitErr      error
	RecognizeErr error
	Exports      map[string]string
	PDF          []byte
	VersionText  string
	Unknown      map[string]bool
	// OnRecognize runs inside Recognize, before the scripted result is produced.
	OnRecognize func()

	module *Module

	mu         sync.Mutex
	inits      []string
	modes      []engine.EngineMode
	variables  []Variable
	psm        engine.PageSegMode
	oem        engine.EngineMode
	images     []ImageCall
	rect       engine.Rect
	recognized bool
	recognizes int
	ends       int
	detects    int
}

var _ engine.API = (*API)(nil)

// NewAPI returns an API that recognizes page.
func NewAPI(page Page) *API {
	return &API{
		Page:        page,
		OSDOK:       true,
		VersionText: "4.1.0-fake",
		Exports:     make(map[string]string),
		psm:         engine.PSM_SINGLE_BLOCK,
	}
}

func (a *API) Init(dataPath, langs string, mode engine.EngineMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inits = append(a.inits, langs)
	a.modes = append(a.modes, mode)
	a.oem = mode
	a.psm = engine.PSM_SINGLE_BLOCK
	return a.InitErr
}

func (a *API) SetVariable(name, value string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.variables = append(a.variables, Variable{Name: name, Value: value})
	if name == "tessedit_pageseg_mode" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			a.psm = engine.PageSegMode(n)
		}
	}
	return !a.Unknown[name]
}

func (a *API) SetPageSegMode(mode engine.PageSegMode) {
	a.mu.Lock()
	a.psm = mode
	a.mu.Unlock()
}

func (a *API) PageSegMode() engine.PageSegMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.psm
}

func (a *API) EngineMode() engine.EngineMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.oem
}

func (a *API) SetImage(pix engine.Pix) {
	a.mu.Lock()
	a.images = append(a.images, ImageCall{Pix: pix, Width: pix.Width(), Height: pix.Height()})
	a.mu.Unlock()
}

func (a *API) SetImageData(data []byte, width, height, bytesPerPixel, bytesPerLine int) {
	a.mu.Lock()
	a.images = append(a.images, ImageCall{
		Raw:           true,
		Width:         width,
		Height:        height,
		BytesPerPixel: bytesPerPixel,
		BytesPerLine:  bytesPerLine,
	})
	a.mu.Unlock()
}

func (a *API) SetRectangle(left, top, width, height int) {
	a.mu.Lock()
	a.rect = engine.Rect{X0: left, Y0: top, X1: left + width, Y1: top + height}
	a.mu.Unlock()
}

func (a *API) Recognize(ctx context.Context) error {
	if a.OnRecognize != nil {
		a.OnRecognize()
	}
	if a.module != nil {
		a.module.progress(0)
		a.module.progress(65)
		a.module.progress(100)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recognizes++
	if a.RecognizeErr != nil {
		return a.RecognizeErr
	}
	a.recognized = true
	return nil
}

func (a *API) Iterator() engine.ResultIterator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recognized || len(a.Page.Blocks) == 0 {
		return nil
	}
	return NewIterator(&a.Page, a.module.Tracker)
}

func (a *API) DetectOS() (engine.OSResults, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detects++
	return a.OSD, a.OSDOK
}

func (a *API) export(kind string) (string, error) {
	if v, ok := a.Exports[kind]; ok {
		return v, nil
	}
	return kind + " output", nil
}

func (a *API) Text() (string, error)     { return a.Page.Text(), nil }
func (a *API) HOCRText() (string, error) { return a.export("hocr") }
func (a *API) TSVText() (string, error)  { return a.export("tsv") }
func (a *API) BoxText() (string, error)  { return a.export("box") }
func (a *API) UNLVText() (string, error) { return a.export("unlv") }
func (a *API) OSDText() (string, error)  { return a.export("osd") }

func (a *API) MeanTextConf() int {
	var sum float64
	var n int
	for _, b := range a.Page.Blocks {
		for _, p := range b.Paras {
			for _, l := range p.Lines {
				for _, w := range l.Words {
					sum += w.Confidence
					n++
				}
			}
		}
	}
	if n == 0 {
		return 0
	}
	return int(sum / float64(n))
}

func (a *API) RenderPDF(name, title string, textOnly bool) error {
	data := a.PDF
	if data == nil {
		data = []byte("%PDF-1.4 " + title)
	}
	return a.module.WriteFile("/"+name+".pdf", data)
}

func (a *API) Version() string { return a.VersionText }

func (a *API) End() {
	a.mu.Lock()
	a.ends++
	a.recognized = false
	a.mu.Unlock()
}

// Inits returns the language strings passed to Init, in call order.
func (a *API) Inits() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.inits...)
}

// Modes returns the engine modes passed to Init, in call order.
func (a *API) Modes() []engine.EngineMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]engine.EngineMode(nil), a.modes...)
}

// Variables returns every SetVariable call, in order.
func (a *API) Variables() []Variable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Variable(nil), a.variables...)
}

// Images returns every image handed to the API.
func (a *API) Images() []ImageCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ImageCall(nil), a.images...)
}

// Rectangle returns the last recognition rectangle.
func (a *API) Rectangle() engine.Rect {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rect
}

// Ends returns how many times End was called.
func (a *API) Ends() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ends
}

// Recognizes returns how many times Recognize was called.
func (a *API) Recognizes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recognizes
}

// Detects returns how many times DetectOS was called.
func (a *API) Detects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detects
}
