package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/params"
	"github.com/otiai10/gosseract/v2"
)

// engineConfigFile carries init-only settings into the client.
const engineConfigFile = "engine.config"

// API is one gosseract client plus the settings the CLI needs to reproduce
// the same recognition for the other output formats.
type API struct {
	module *Module

	mu         sync.Mutex
	client     *gosseract.Client
	dataPath   string
	langs      string
	oem        engine.EngineMode
	psm        engine.PageSegMode
	vars       map[string]string
	known      map[string]bool
	image      []byte
	rect       engine.Rect
	hocr       string
	page       *page
	recognized bool
}

var _ engine.API = (*API)(nil)

func (a *API) Init(dataPath, langs string, mode engine.EngineMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()

	client := gosseract.NewClient()
	if err := client.SetTessdataPrefix(dataPath); err != nil {
		client.Close()
		return fmt.Errorf("failed to set tessdata prefix: %w", err)
	}
	if err := client.SetLanguage(strings.Split(langs, "+")...); err != nil {
		client.Close()
		return fmt.Errorf("failed to set languages %s: %w", langs, err)
	}
	// The engine mode is init-only, so it reaches the client through a
	// config file read by Init.
	conf := a.module.path(engineConfigFile)
	line := fmt.Sprintf("%s %d\n", params.EngineModeKey, int(mode))
	if err := os.WriteFile(conf, []byte(line), 0o644); err != nil {
		client.Close()
		return fmt.Errorf("failed to write engine config: %w", err)
	}
	if err := client.SetConfigFile(conf); err != nil {
		client.Close()
		return fmt.Errorf("failed to set engine config: %w", err)
	}

	a.known = a.module.knownVariables(dataPath, langs)
	if a.known == nil || a.known["hocr_char_boxes"] {
		if err := client.SetVariable("hocr_char_boxes", "1"); err != nil {
			client.Close()
			return fmt.Errorf("failed to enable character boxes: %w", err)
		}
	}

	a.client = client
	a.dataPath = dataPath
	a.langs = langs
	a.oem = mode
	a.psm = engine.PSM_SINGLE_BLOCK
	a.vars = make(map[string]string)
	return nil
}

// SetVariable forwards name to the engine. Host and output options are
// refused, as is any name the installed engine does not list. The client
// applies variables only when it recognizes, where one unknown name would
// fail the whole page.
func (a *API) SetVariable(name, value string) bool {
	if params.IsHostOption(name) || params.IsOutputOption(name) {
		return false
	}
	if name == params.PageSegModeKey {
		n, err := strconv.Atoi(value)
		if err != nil || n < int(engine.PSM_OSD_ONLY) || n > int(engine.PSM_RAW_LINE) {
			return false
		}
		a.SetPageSegMode(engine.PageSegMode(n))
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return false
	}
	if a.known != nil && !a.known[name] {
		return false
	}
	if err := a.client.SetVariable(gosseract.SettableVariable(name), value); err != nil {
		return false
	}
	a.vars[name] = value
	return true
}

func (a *API) SetPageSegMode(mode engine.PageSegMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.psm = mode
	if a.client != nil {
		if err := a.client.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
			a.module.logger.Warn("Failed to set page segmentation mode", "psm", mode.String(), "error", err)
		}
	}
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
	p, ok := pix.(*Pix)
	if !ok {
		a.module.logger.Error("SetImage called with a foreign image", "type", fmt.Sprintf("%T", pix))
		return
	}
	a.setImage(p.data)
}

// SetImageData accepts raw 8-bit gray or 32-bit RGBA pixels.
func (a *API) SetImageData(data []byte, width, height, bytesPerPixel, bytesPerLine int) {
	rect := image.Rect(0, 0, width, height)
	var img image.Image
	switch bytesPerPixel {
	case 1:
		img = &image.Gray{Pix: data, Stride: bytesPerLine, Rect: rect}
	case 4:
		img = &image.RGBA{Pix: data, Stride: bytesPerLine, Rect: rect}
	default:
		a.module.logger.Error("Unsupported pixel depth", "bytes_per_pixel", bytesPerPixel)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		a.module.logger.Error("Failed to encode raw image", "error", err)
		return
	}
	a.setImage(buf.Bytes())
}

func (a *API) setImage(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.image = data
	a.recognized = false
	if a.client == nil {
		return
	}
	if err := a.client.SetImageFromBytes(data); err != nil {
		a.module.logger.Error("Failed to set image", "error", err)
	}
}

// SetRectangle is recorded only; recognition always covers the whole image.
func (a *API) SetRectangle(left, top, width, height int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rect = engine.Rect{X0: left, Y0: top, X1: left + width, Y1: top + height}
}

func (a *API) Recognize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return fmt.Errorf("engine is not initialized")
	}
	if a.image == nil {
		return fmt.Errorf("no image set")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.module.progress(0)
	hocr, err := a.client.HOCRText()
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}
	pg, err := parseHOCR(hocr)
	if err != nil {
		return err
	}
	a.module.progress(100)

	a.hocr = hocr
	a.page = pg
	a.recognized = true
	return nil
}

func (a *API) Iterator() engine.ResultIterator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recognized {
		return nil
	}
	it := newIterator(a.page)
	if len(it.stops) == 0 {
		return nil
	}
	return it
}

func (a *API) DetectOS() (engine.OSResults, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, err := a.runLocked("--psm", "0")
	if err != nil {
		a.module.logger.Warn("Orientation detection failed", "error", err)
		return engine.OSResults{}, false
	}
	return parseOSD(out)
}

func (a *API) Text() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recognized {
		return "", fmt.Errorf("nothing recognized")
	}
	var b strings.Builder
	for _, blk := range a.page.blocks {
		for _, p := range blk.paras {
			b.WriteString(paraText(p))
		}
	}
	return b.String(), nil
}

func (a *API) HOCRText() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recognized {
		return "", fmt.Errorf("nothing recognized")
	}
	return a.hocr, nil
}

func (a *API) TSVText() (string, error)  { return a.export("tsv") }
func (a *API) BoxText() (string, error)  { return a.export("makebox") }
func (a *API) UNLVText() (string, error) { return a.export("unlv") }

func (a *API) OSDText() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runLocked("--psm", "0")
}

func (a *API) export(config string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runLocked(config)
}

func (a *API) MeanTextConf() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recognized {
		return 0
	}
	var words []*word
	for _, b := range a.page.blocks {
		for _, p := range b.paras {
			for _, l := range p.lines {
				words = append(words, l.words...)
			}
		}
	}
	return int(meanConf(words))
}

// RenderPDF writes /<name>.pdf into the module directory.
func (a *API) RenderPDF(name, title string, textOnly bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := a.module.path(name)
	args := []string{"-c", "document_title=" + title}
	if textOnly {
		args = append(args, "-c", "textonly_pdf=1")
	}
	args = append(args, "pdf")
	if _, err := a.cli(base, args...); err != nil {
		return err
	}
	if _, err := os.Stat(base + ".pdf"); err != nil {
		return fmt.Errorf("pdf was not rendered: %w", err)
	}
	return nil
}

func (a *API) Version() string { return gosseract.Version() }

func (a *API) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

// reset must be called with mu held.
func (a *API) reset() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.module.logger.Warn("Failed to close engine client", "error", err)
		}
		a.client = nil
	}
	a.image = nil
	a.hocr = ""
	a.page = nil
	a.recognized = false
}

// cliArgs reproduces the current settings as tesseract command line options.
// Output toggles are never replayed; each export names its own renderer.
func (a *API) cliArgs() []string {
	args := []string{
		"--tessdata-dir", a.dataPath,
		"-l", a.langs,
		"--oem", strconv.Itoa(int(a.oem)),
		"--psm", strconv.Itoa(int(a.psm)),
	}
	names := make([]string, 0, len(a.vars))
	for name := range a.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if params.IsOutputOption(name) {
			continue
		}
		args = append(args, "-c", name+"="+a.vars[name])
	}
	return args
}

// runLocked renders the current image to stdout. Trailing arguments override
// earlier ones, so a caller's --psm wins over the configured mode.
func (a *API) runLocked(extra ...string) (string, error) {
	return a.cli("stdout", extra...)
}

func (a *API) cli(outputBase string, extra ...string) (string, error) {
	if a.image == nil {
		return "", fmt.Errorf("no image set")
	}
	args := append([]string{"stdin", outputBase}, a.cliArgs()...)
	args = append(args, extra...)
	return runTesseract(a.module, a.image, args)
}

// parseOSD reads the key/value report of a --psm 0 run. The report names the
// script but not its id, so ScriptID stays zero.
func parseOSD(out string) (engine.OSResults, bool) {
	var res engine.OSResults
	found := false
	for _, ln := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(ln, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "Orientation in degrees":
			deg, err := strconv.Atoi(val)
			if err != nil || deg%90 != 0 {
				return engine.OSResults{}, false
			}
			res.OrientationID = deg / 90
			found = true
		case "Orientation confidence":
			res.OrientationConfidence, _ = strconv.ParseFloat(val, 64)
		case "Script":
			res.ScriptName = val
		case "Script confidence":
			res.ScriptConfidence, _ = strconv.ParseFloat(val, 64)
		}
	}
	return res, found
}
