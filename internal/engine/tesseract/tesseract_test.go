package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/params"
	"github.com/adverant/nexus/ocr-worker/internal/result"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const sampleHOCR = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <body>
  <div class='ocr_page' id='page_1' title='image "stdin"; bbox 0 0 400 100; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 10 10 200 40">
    <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 10 10 200 40">
     <span class='ocr_line' id='line_1_1' title="bbox 10 10 200 40; baseline 0 -5; x_size 30">
      <span class='ocrx_word' id='word_1_1' title='bbox 10 10 90 40; x_wconf 96; x_fsize 12'><strong>Hi</strong></span>
      <span class='ocrx_word' id='word_1_2' title='bbox 100 10 200 40; x_wconf 90'>
       <span class='ocrx_cinfo' title='x_bboxes 100 10 130 40; x_conf 91.5'>4</span><span class='ocrx_cinfo' title='x_bboxes 130 10 200 40; x_conf 88'>2</span>
      </span>
     </span>
    </p>
   </div>
   <div class='ocr_photo' id='block_1_2' title="bbox 0 50 400 100"></div>
   <div class='ocr_carea' id='block_1_3' title="bbox 10 60 100 90">
    <p class='ocr_par' dir='rtl' lang='ara' title="bbox 10 60 100 90">
     <span class='ocr_line' title="bbox 10 60 100 90">
      <span class='ocrx_word' title='bbox 10 60 100 90; x_wconf 70'><em>abc</em></span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>`

func TestParseHOCR(t *testing.T) {
	pg, err := parseHOCR(sampleHOCR)
	if err != nil {
		t.Fatalf("parseHOCR() error = %v", err)
	}
	if len(pg.blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(pg.blocks))
	}
	if pg.blocks[1].kind != engine.PT_FLOWING_IMAGE || len(pg.blocks[1].paras) != 0 {
		t.Errorf("photo block = %+v", pg.blocks[1])
	}

	ln := pg.blocks[0].paras[0].lines[0]
	if ln.baseline != (engine.Baseline{X0: 10, Y0: 35, X1: 200, Y1: 35, HasBaseline: true}) {
		t.Errorf("baseline = %+v", ln.baseline)
	}
	if len(ln.words) != 2 {
		t.Fatalf("words = %d, want 2", len(ln.words))
	}

	hi := ln.words[0]
	if hi.text != "Hi" || !hi.bold || hi.conf != 96 || hi.size != 12 {
		t.Errorf("word 1 = %+v", hi)
	}
	if len(hi.symbols) != 2 || hi.symbols[1].box != (engine.Rect{X0: 50, Y0: 10, X1: 90, Y1: 40}) {
		t.Errorf("split symbols = %+v", hi.symbols)
	}

	num := ln.words[1]
	if num.text != "42" || len(num.symbols) != 2 {
		t.Fatalf("word 2 = %+v", num)
	}
	if num.symbols[0].conf != 91.5 || num.symbols[1].box != (engine.Rect{X0: 130, Y0: 10, X1: 200, Y1: 40}) {
		t.Errorf("char boxes = %+v %+v", num.symbols[0], num.symbols[1])
	}

	rtl := pg.blocks[2].paras[0]
	if rtl.ltr || rtl.lang != "ara" || !rtl.lines[0].words[0].italic {
		t.Errorf("rtl paragraph = %+v", rtl)
	}
}

func TestIteratorBuildsTree(t *testing.T) {
	pg, err := parseHOCR(sampleHOCR)
	if err != nil {
		t.Fatal(err)
	}

	blocks := result.Build(newIterator(pg))
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 (photo block has no words)", len(blocks))
	}

	first := blocks[0]
	if first.Text != "Hi 42\n\n" || first.Confidence != 93 {
		t.Errorf("block text = %q confidence = %v", first.Text, first.Confidence)
	}
	if first.BlockType != "FLOWING_TEXT" || len(first.Polygon) != 4 {
		t.Errorf("block type = %s polygon = %v", first.BlockType, first.Polygon)
	}
	words := first.Paragraphs[0].Lines[0].Words
	if len(words) != 2 {
		t.Fatalf("words = %d", len(words))
	}
	if !words[1].IsNumeric || words[0].IsNumeric {
		t.Error("numeric detection is wrong")
	}
	if words[0].Language != "eng" || words[0].Direction != "LEFT_TO_RIGHT" || !words[0].IsBold {
		t.Errorf("word attributes = %+v", words[0])
	}
	if len(words[1].Symbols) != 2 || words[1].Symbols[0].Text != "4" {
		t.Errorf("symbols = %+v", words[1].Symbols)
	}
	if len(words[1].Choices) != 1 || words[1].Choices[0].Text != "42" {
		t.Errorf("choices = %+v", words[1].Choices)
	}

	second := blocks[1]
	if second.Paragraphs[0].IsLTR || second.Paragraphs[0].Lines[0].Words[0].Direction != "RIGHT_TO_LEFT" {
		t.Errorf("rtl block = %+v", second.Paragraphs[0])
	}
}

func TestIteratorNext(t *testing.T) {
	pg, err := parseHOCR(sampleHOCR)
	if err != nil {
		t.Fatal(err)
	}
	it := newIterator(pg)
	it.Begin()

	var words []string
	for {
		words = append(words, it.Text(engine.LevelWord))
		if !it.Next(engine.LevelWord) {
			break
		}
	}
	if strings.Join(words, ",") != "Hi,42,abc" {
		t.Errorf("words = %v", words)
	}
	if it.IsAtBeginningOf(engine.LevelSymbol) {
		t.Error("exhausted iterator must not report a position")
	}
}

func TestParseOSD(t *testing.T) {
	out := "Page number: 0\nOrientation in degrees: 180\nRotate: 180\nOrientation confidence: 14.50\nScript: Latin\nScript confidence: 3.20\n"
	res, ok := parseOSD(out)
	if !ok {
		t.Fatal("parseOSD() failed")
	}
	if res.OrientationID != 2 || res.OrientationConfidence != 14.5 || res.ScriptName != "Latin" || res.ScriptConfidence != 3.2 {
		t.Errorf("result = %+v", res)
	}

	if _, ok := parseOSD("Too few characters. Skipping this page\n"); ok {
		t.Error("expected failure without an orientation line")
	}
}

func TestParseTitle(t *testing.T) {
	ti := parseTitle(`bbox 1 2 3 4; x_wconf 87; x_font "DejaVu Sans"`)
	if ti.bbox() != (engine.Rect{X0: 1, Y0: 2, X1: 3, Y1: 4}) {
		t.Errorf("bbox = %+v", ti.bbox())
	}
	if v, ok := ti.float("x_wconf"); !ok || v != 87 {
		t.Errorf("x_wconf = %v %v", v, ok)
	}
	if _, ok := ti.ints("x_fsize", 1); ok {
		t.Error("missing key must not parse")
	}
}

func TestModuleFileSystem(t *testing.T) {
	m := &Module{dir: t.TempDir(), logger: logging.Discard()}
	if err := m.WriteFile("/eng.traineddata", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if !m.HasFile("eng.traineddata") || m.HasFile("deu.traineddata") {
		t.Error("HasFile() is wrong")
	}
	data, err := m.ReadFile("eng.traineddata")
	if err != nil || string(data) != "data" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
	if err := m.WriteFile("../escape", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if !m.HasFile("escape") {
		t.Error("paths must stay inside the module directory")
	}
}

func textImage(t *testing.T, text string) []byte {
	t.Helper()
	small := image.NewRGBA(image.Rect(0, 0, 10+len(text)*7, 15))
	draw.Draw(small, small.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(5, 12),
	}
	d.DrawString(text)

	// Upscale 4x so the glyphs are large enough to recognize.
	img := image.NewRGBA(image.Rect(0, 0, small.Bounds().Dx()*4, small.Bounds().Dy()*4))
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.Set(x, y, small.At(x/4, y/4))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRecognizeWithTesseract(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
	tessdata := tessdataDir(t)

	mod, err := Load(Config{DataDir: t.TempDir(), TesseractPath: "tesseract", Logger: logging.Discard()}, "", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	api, err := mod.NewAPI()
	if err != nil {
		t.Fatal(err)
	}
	defer api.End()

	set := params.Resolve(nil)
	mode, err := set.EngineMode()
	if err != nil {
		t.Fatal(err)
	}
	if err := api.Init(tessdata, "eng", mode); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for _, p := range set.Variables() {
		api.SetVariable(p.Name, p.Value)
	}
	pix, err := mod.ReadImage(textImage(t, "HELLO"))
	if err != nil {
		t.Fatal(err)
	}
	defer pix.Destroy()
	api.SetImage(pix)
	if err := api.Recognize(context.Background()); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	text, err := api.Text()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.ToUpper(text), "HELLO") {
		t.Errorf("Text() = %q", text)
	}
	if blocks := result.Build(api.Iterator()); len(blocks) == 0 {
		t.Error("no blocks recognized")
	}

	tsv, err := api.TSVText()
	if err != nil {
		t.Fatalf("TSVText() error = %v", err)
	}
	if !strings.HasPrefix(tsv, "level\t") || strings.Contains(tsv, "<html") {
		t.Errorf("TSVText() must hold only TSV, got %q", tsv)
	}
}

func TestSetVariableRouting(t *testing.T) {
	dir := t.TempDir()
	mod := &Module{dir: dir, logger: logging.Discard()}
	mod.paramsOnce.Do(func() {})
	mod.params = parseParameters("Tesseract parameters:\ntessedit_char_whitelist\t\tWhitelist\ntessedit_create_hocr\t0\tWrite hOCR\n")

	a, err := mod.NewAPI()
	if err != nil {
		t.Fatal(err)
	}
	api := a.(*API)
	defer api.End()
	if err := api.Init(dir, "eng", engine.OEM_LSTM_ONLY); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	accepted := map[string]bool{}
	for _, p := range params.Resolve(params.Custom{"no_such_variable": "1"}).Variables() {
		accepted[p.Name] = api.SetVariable(p.Name, p.Value)
	}
	for _, name := range []string{params.PageSegModeKey, params.CharWhitelist} {
		if !accepted[name] {
			t.Errorf("%s was refused", name)
		}
	}
	for _, name := range []string{params.CreateHOCR, params.CreateTSV, params.CreateBox, params.TextOnlyPDF, params.PDFName, "no_such_variable"} {
		if accepted[name] {
			t.Errorf("%s must not reach the engine", name)
		}
	}

	args := strings.Join(api.cliArgs(), " ")
	if strings.Contains(args, "tessedit_create_") || strings.Contains(args, "textonly_pdf") {
		t.Errorf("output toggles replayed: %s", args)
	}
	if !strings.Contains(args, "--oem 1") || !strings.Contains(args, "-c tessedit_char_whitelist=") {
		t.Errorf("args = %s", args)
	}

	conf, err := mod.ReadFile(engineConfigFile)
	if err != nil || string(conf) != "tessedit_ocr_engine_mode 1\n" {
		t.Errorf("engine config = %q, %v", conf, err)
	}
}

func TestParseParameters(t *testing.T) {
	known := parseParameters("Tesseract parameters:\nuser_defined_dpi\t0\tSpecify DPI for input image\nhocr_char_boxes\t0\tAdd coordinates\n")
	if !known["user_defined_dpi"] || !known["hocr_char_boxes"] || len(known) != 2 {
		t.Errorf("known = %v", known)
	}
	if parseParameters("Could not initialize tesseract.\n") != nil {
		t.Error("expected nil without a parameter listing")
	}
}

func TestSelectBinary(t *testing.T) {
	cfg := Config{TesseractPath: "/opt/tesseract/bin/tesseract", CorePaths: []string{"/usr/local/bin/tesseract5", ""}}
	tests := []struct {
		corePath string
		want     string
		wantErr  bool
	}{
		{"", "/opt/tesseract/bin/tesseract", false},
		{"/opt/tesseract/bin/tesseract", "/opt/tesseract/bin/tesseract", false},
		{"/usr/local/bin/tesseract5", "/usr/local/bin/tesseract5", false},
		{"/tmp/evil", "", true},
	}
	for _, tt := range tests {
		got, err := selectBinary(cfg, tt.corePath)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("selectBinary(%q) = %q, %v", tt.corePath, got, err)
		}
	}

	if got, err := selectBinary(Config{}, ""); err != nil || got != DefaultTesseractPath {
		t.Errorf("default binary = %q, %v", got, err)
	}
	if _, err := Load(cfg, "/tmp/evil", nil); err == nil {
		t.Error("Load() must refuse an unconfigured core path")
	}
}

func TestReadImagePNM(t *testing.T) {
	mod := &Module{dir: t.TempDir(), logger: logging.Discard()}
	pix, err := mod.ReadImage([]byte("P5\n3 2\n255\n\x00\x01\x02\x03\x04\x05"))
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if pix.Width() != 3 || pix.Height() != 2 {
		t.Errorf("size = %dx%d", pix.Width(), pix.Height())
	}
}

// tessdataDir finds an installed tessdata directory holding eng.traineddata.
func tessdataDir(t *testing.T) string {
	t.Helper()
	for _, dir := range []string{
		"/usr/share/tesseract-ocr/5/tessdata",
		"/usr/share/tesseract-ocr/4.00/tessdata",
		"/usr/share/tessdata",
		"/usr/local/share/tessdata",
	} {
		m := &Module{dir: dir}
		if m.HasFile("eng.traineddata") {
			return dir
		}
	}
	t.Skip("eng.traineddata not found")
	return ""
}
