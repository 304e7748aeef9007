package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/engine/enginetest"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/params"
	"github.com/adverant/nexus/ocr-worker/internal/sink"
)

type progressLog struct {
	statuses []string
	values   []float64
}

func (p *progressLog) Progress(status string, v float64) {
	p.statuses = append(p.statuses, status)
	p.values = append(p.values, v)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	api  *enginetest.API
	mod  *enginetest.Module
	exec *Executor
}

func newFixture(t *testing.T, page enginetest.Page, cfg Config) *fixture {
	t.Helper()
	api := enginetest.NewAPI(page)
	mod := enginetest.NewModule(api)
	session := engine.NewSession(mod.Loader(nil), logging.Discard())
	if err := session.EnsureReady(context.Background(), "", nil); err != nil {
		t.Fatal(err)
	}
	cfg.Session = session
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ValidatePDF == nil {
		cfg.ValidatePDF = func([]byte) (int, error) { return 1, nil }
	}
	exec, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{api: api, mod: mod, exec: exec}
}

func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	if f.api.Ends() != 1 {
		t.Errorf("End() calls = %d, want 1", f.api.Ends())
	}
	tr := f.mod.Tracker
	for _, kind := range []string{enginetest.KindPix, enginetest.KindIterator, enginetest.KindChoice, enginetest.KindPolygon} {
		if tr.Leaked(kind) != 0 || tr.DoubleFreed(kind) != 0 {
			t.Errorf("%s: leaked %d, double freed %d", kind, tr.Leaked(kind), tr.DoubleFreed(kind))
		}
	}
}

func TestRecognizeDefaults(t *testing.T) {
	f := newFixture(t, enginetest.OneWord("Hello", 92), Config{})
	f.api.Exports["hocr"] = "  <div class='ocr_page'>\n    <span>Hello</span>\n  </div>"
	prog := &progressLog{}

	res, err := f.exec.Recognize(context.Background(), &Request{
		JobID:  "j1",
		Langs:  "eng",
		Params: params.Resolve(nil),
		Image:  pngBytes(t, 40, 20),
	}, prog)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	if len(res.Blocks) != 1 || len(res.Blocks[0].Paragraphs) != 1 ||
		len(res.Blocks[0].Paragraphs[0].Lines) != 1 || len(res.Blocks[0].Paragraphs[0].Lines[0].Words) != 1 {
		t.Fatalf("unexpected tree shape: %+v", res.Blocks)
	}
	if res.Text != "Hello\n\n" || res.Confidence != 92 {
		t.Errorf("text = %q, confidence = %d", res.Text, res.Confidence)
	}
	if res.HOCR == nil || *res.HOCR != "<div class='ocr_page'>\n  <span>Hello</span>\n</div>" {
		t.Errorf("hocr = %v", res.HOCR)
	}
	if res.TSV == nil || res.Box != nil || res.UNLV != nil || res.OSD != nil {
		t.Errorf("exports: tsv=%v box=%v unlv=%v osd=%v", res.TSV, res.Box, res.UNLV, res.OSD)
	}
	if res.PSM != "SINGLE_BLOCK" || res.OEM != "LSTM_ONLY" || res.Version == "" {
		t.Errorf("psm=%q oem=%q version=%q", res.PSM, res.OEM, res.Version)
	}
	if res.Files.PDF != nil {
		t.Error("pdf must be absent by default")
	}

	if inits := f.api.Inits(); len(inits) != 1 || inits[0] != "eng" {
		t.Errorf("Init langs = %v", inits)
	}
	if modes := f.api.Modes(); modes[0] != engine.OEM_LSTM_ONLY {
		t.Errorf("Init mode = %v", modes[0])
	}
	vars := f.api.Variables()
	if len(vars) != len(params.Defaults())-1 || vars[0].Name != params.PageSegModeKey {
		t.Errorf("variables = %v", vars)
	}
	if r := f.api.Rectangle(); r.X1 != 40 || r.Y1 != 20 {
		t.Errorf("rectangle = %+v", r)
	}

	want := []float64{0, 0.5, 1}
	if len(prog.values) != 3 {
		t.Fatalf("progress = %v", prog.values)
	}
	for i, v := range want {
		if prog.statuses[i] != StatusInitializingAPI || prog.values[i] != v {
			t.Errorf("progress[%d] = %s %v", i, prog.statuses[i], prog.values[i])
		}
	}
	f.assertReleased(t)
}

func TestRecognizeCustomParams(t *testing.T) {
	f := newFixture(t, enginetest.OneWord("7", 60), Config{})
	res, err := f.exec.Recognize(context.Background(), &Request{
		JobID: "j2",
		Langs: "eng+fra",
		Params: params.Resolve(params.Custom{
			params.PageSegModeKey: "7",
			params.CreateHOCR:     "0",
			params.CreateBox:      "1",
			"user_defined_dpi":    "300",
		}),
		Image: pngBytes(t, 8, 8),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.PSM != "SINGLE_LINE" {
		t.Errorf("psm = %q", res.PSM)
	}
	if res.HOCR != nil || res.Box == nil {
		t.Errorf("hocr=%v box=%v", res.HOCR, res.Box)
	}
	vars := f.api.Variables()
	if last := vars[len(vars)-1]; last.Name != "user_defined_dpi" || last.Value != "300" {
		t.Errorf("custom variable not passed through: %v", last)
	}
}

func TestRecognizePDF(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, enginetest.OneWord("pdf", 88), Config{Sink: sink.NewDirWriter(dir, logging.Discard())})
	f.api.PDF = []byte("%PDF-1.4 rendered")

	res, err := f.exec.Recognize(context.Background(), &Request{
		JobID: "job-pdf",
		Langs: "eng",
		Params: params.Resolve(params.Custom{
			params.CreatePDF:       "1",
			params.PDFBin:          "1",
			params.PDFAutoDownload: "1",
			params.PDFName:         "scan",
		}),
		Image: pngBytes(t, 8, 8),
	}, nil)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if string(res.Files.PDF) != "%PDF-1.4 rendered" {
		t.Errorf("files.pdf = %q", res.Files.PDF)
	}
	written, err := os.ReadFile(filepath.Join(dir, "job-pdf", "scan.pdf"))
	if err != nil || string(written) != "%PDF-1.4 rendered" {
		t.Errorf("auto download = %q, %v", written, err)
	}
	f.assertReleased(t)
}

func TestRecognizeInvalidPDFReleases(t *testing.T) {
	f := newFixture(t, enginetest.OneWord("x", 50), Config{
		ValidatePDF: func([]byte) (int, error) { return 0, stderrors.New("no xref") },
	})
	_, err := f.exec.Recognize(context.Background(), &Request{
		JobID:  "j3",
		Langs:  "eng",
		Params: params.Resolve(params.Custom{params.CreatePDF: "1"}),
		Image:  pngBytes(t, 8, 8),
	}, nil)
	if !errors.IsCode(err, errors.ErrorExportFailed) {
		t.Fatalf("error = %v, want EXPORT_FAILED", err)
	}
	if f.api.Ends() != 1 || f.mod.Tracker.Leaked(enginetest.KindPix) != 0 {
		t.Error("engine state not released after export failure")
	}
}

func TestRecognizeEmptyPage(t *testing.T) {
	f := newFixture(t, enginetest.Page{}, Config{})
	res, err := f.exec.Recognize(context.Background(), &Request{
		JobID: "j4", Langs: "eng", Params: params.Resolve(nil), Image: pngBytes(t, 4, 4),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocks == nil || len(res.Blocks) != 0 {
		t.Errorf("blocks = %v, want empty", res.Blocks)
	}
}

func TestRecognizeUnsupportedImage(t *testing.T) {
	f := newFixture(t, enginetest.OneWord("x", 50), Config{})
	_, err := f.exec.Recognize(context.Background(), &Request{
		JobID: "j5", Langs: "eng", Params: params.Resolve(nil), Image: []byte("not an image"),
	}, nil)
	if !errors.IsCode(err, errors.ErrorUnsupportedFormat) {
		t.Fatalf("error = %v", err)
	}
	if f.api.Ends() != 1 {
		t.Errorf("End() calls = %d, want 1", f.api.Ends())
	}
	if f.api.Recognizes() != 0 {
		t.Error("recognition must not run")
	}
}

func TestRecognizeEngineFailure(t *testing.T) {
	f := newFixture(t, enginetest.OneWord("x", 50), Config{})
	f.api.RecognizeErr = stderrors.New("segfault")
	_, err := f.exec.Recognize(context.Background(), &Request{
		JobID: "j6", Langs: "eng", Params: params.Resolve(nil), Image: pngBytes(t, 4, 4),
	}, nil)
	if !errors.IsCode(err, errors.ErrorOCRFailed) {
		t.Fatalf("error = %v", err)
	}
	f.assertReleased(t)
}

func TestDetect(t *testing.T) {
	f := newFixture(t, enginetest.Page{}, Config{})
	f.api.OSD = engine.OSResults{
		OrientationID:         2,
		OrientationConfidence: 14.5,
		ScriptID:              1,
		ScriptName:            "Latin",
		ScriptConfidence:      3.2,
	}

	det, err := f.exec.Detect(context.Background(), &Request{JobID: "d1", Langs: "osd", Image: pngBytes(t, 10, 10)})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if det.OrientationDegrees != 180 || det.Script != "Latin" || det.TesseractScriptID != 1 {
		t.Errorf("detection = %+v", det)
	}
	if det.OrientationConfidence != 14.5 || det.ScriptConfidence != 3.2 {
		t.Errorf("confidences = %+v", det)
	}
	if f.api.PageSegMode() != engine.PSM_OSD_ONLY {
		t.Errorf("psm = %v, want OSD_ONLY", f.api.PageSegMode())
	}
	if modes := f.api.Modes(); modes[0] != engine.OEM_DEFAULT {
		t.Errorf("Init mode = %v", modes[0])
	}
	f.assertReleased(t)
}

func TestDetectFailureReleases(t *testing.T) {
	f := newFixture(t, enginetest.Page{}, Config{})
	f.api.OSDOK = false

	_, err := f.exec.Detect(context.Background(), &Request{JobID: "d2", Langs: "osd", Image: pngBytes(t, 10, 10)})
	if got := errors.Describe(err); got != "Failed to detect OS" {
		t.Errorf("Describe(err) = %q", got)
	}
	f.assertReleased(t)
	if f.mod.Tracker.Destroyed(enginetest.KindPix) != 1 {
		t.Error("image must be released on detect failure")
	}
}

func TestDetectBadOrientation(t *testing.T) {
	f := newFixture(t, enginetest.Page{}, Config{})
	f.api.OSD = engine.OSResults{OrientationID: 7}
	if _, err := f.exec.Detect(context.Background(), &Request{JobID: "d3", Image: pngBytes(t, 4, 4)}); err == nil {
		t.Error("expected error for out-of-range orientation")
	}
	f.assertReleased(t)
}

func TestOrientationDegrees(t *testing.T) {
	tests := []struct {
		id      int
		want    int
		wantErr bool
	}{
		{0, 0, false},
		{1, 270, false},
		{2, 180, false},
		{3, 90, false},
		{4, 0, true},
		{-1, 0, true},
	}
	for _, tt := range tests {
		got, err := OrientationDegrees(tt.id)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("OrientationDegrees(%d) = %d, %v", tt.id, got, err)
		}
	}
}

func TestValidatePDFRejectsGarbage(t *testing.T) {
	if _, err := ValidatePDF([]byte("definitely not a pdf")); err == nil {
		t.Error("expected error for non-PDF bytes")
	}
}

func TestNewRequiresSession(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error without session")
	}
}
