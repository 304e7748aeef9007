/**
 * OCR Executor
 *
 * Runs one recognize or detect job against the shared engine instance:
 * - Init the API with the job's languages and engine mode
 * - Apply parameters and ingest the image
 * - Recognize (or detect orientation/script)
 * - Render enabled outputs and build the result tree
 *
 * Every path ends with api.End() followed by releasing the image.
 */

package executor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/params"
	"github.com/adverant/nexus/ocr-worker/internal/result"
	"github.com/adverant/nexus/ocr-worker/internal/sink"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// StatusInitializingAPI is reported while the API is configured for a job.
const StatusInitializingAPI = "initializing api"

// orientations maps the engine's orientation id to clockwise degrees.
var orientations = [...]int{0, 270, 180, 90}

// OrientationDegrees converts an orientation id into degrees.
func OrientationDegrees(id int) (int, error) {
	if id < 0 || id >= len(orientations) {
		return 0, fmt.Errorf("orientation id %d out of range", id)
	}
	return orientations[id], nil
}

// Request is one job's input after payload decoding.
type Request struct {
	JobID  string
	Langs  string
	Params params.Set
	Image  []byte
}

// PDFValidator checks rendered PDF bytes and returns the page count.
type PDFValidator func(data []byte) (int, error)

// ValidatePDF parses data with pdfcpu in relaxed mode.
func ValidatePDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return pdfapi.PageCount(bytes.NewReader(data), conf)
}

// Config holds executor configuration. Sink receives PDFs when
// pdf_auto_download is set and may be nil.
type Config struct {
	Session     *engine.Session
	Sink        sink.Writer
	ValidatePDF PDFValidator
	Logger      *logging.Logger
}

// Executor drives the engine for recognize and detect jobs.
type Executor struct {
	session  *engine.Session
	sink     sink.Writer
	validate PDFValidator
	logger   *logging.Logger
}

// New creates an executor.
func New(cfg *Config) (*Executor, error) {
	if cfg == nil || cfg.Session == nil {
		return nil, fmt.Errorf("engine session is required")
	}
	e := &Executor{
		session:  cfg.Session,
		sink:     cfg.Sink,
		validate: cfg.ValidatePDF,
		logger:   cfg.Logger,
	}
	if e.validate == nil {
		e.validate = ValidatePDF
	}
	if e.logger == nil {
		e.logger = logging.NewLogger("executor")
	}
	return e, nil
}

func (e *Executor) handles() (engine.Module, engine.API, error) {
	mod, api := e.session.Module(), e.session.API()
	if mod == nil || api == nil {
		return nil, nil, errors.NewEngineInitError("", fmt.Errorf("engine is not initialized"))
	}
	return mod, api, nil
}

// Recognize runs full recognition and returns the result. r receives the
// "initializing api" steps; recognition progress arrives through the
// session's global hook.
func (e *Executor) Recognize(ctx context.Context, req *Request, r engine.Reporter) (*result.Recognition, error) {
	mod, api, err := e.handles()
	if err != nil {
		return nil, err
	}
	log := e.logger.With("job_id", req.JobID)
	progress := func(p float64) {
		if r != nil {
			r.Progress(StatusInitializingAPI, p)
		}
	}

	progress(0)
	mode, err := req.Params.EngineMode()
	if err != nil {
		return nil, errors.NewInvalidJobError(req.JobID, err.Error())
	}

	var img *imaging.Image
	defer func() {
		api.End()
		img.Release()
	}()

	log.Debug(fmt.Sprintf("[Job %s] Step 1: Init langs=%s oem=%s", req.JobID, req.Langs, mode))
	if err := api.Init(mod.DataPath(), req.Langs, mode); err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, "init", err)
	}

	for _, p := range req.Params.Variables() {
		if !api.SetVariable(p.Name, p.Value) && !params.IsHostOption(p.Name) && !params.IsOutputOption(p.Name) {
			log.Warn("Engine rejected variable", "name", p.Name, "value", p.Value)
		}
	}
	progress(0.5)

	log.Debug(fmt.Sprintf("[Job %s] Step 2: Ingest %d bytes", req.JobID, len(req.Image)))
	img, err = imaging.Ingest(mod, api, req.Image)
	if err != nil {
		return nil, errors.WithJob(err, req.JobID)
	}
	progress(1)

	log.Debug(fmt.Sprintf("[Job %s] Step 3: Recognize %dx%d %s", req.JobID, img.Width, img.Height, img.Format))
	if err := api.Recognize(ctx); err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, "recognize", err)
	}

	files, err := e.renderFiles(ctx, mod, api, req)
	if err != nil {
		return nil, err
	}

	res, err := e.dump(api, req)
	if err != nil {
		return nil, err
	}
	res.Files = files

	log.Info("Recognition complete",
		"blocks", len(res.Blocks),
		"words", res.WordCount(),
		"confidence", res.Confidence,
		"psm", res.PSM)
	return res, nil
}

// renderFiles produces the binary outputs enabled by the parameters.
func (e *Executor) renderFiles(ctx context.Context, mod engine.Module, api engine.API, req *Request) (result.Files, error) {
	var files result.Files
	ps := req.Params
	if !ps.Enabled(params.CreatePDF) {
		return files, nil
	}

	name := ps.Value(params.PDFName)
	if err := api.RenderPDF(name, ps.Value(params.PDFTitle), ps.Enabled(params.TextOnlyPDF)); err != nil {
		return files, errors.NewExportFailedError(req.JobID, "pdf", err)
	}
	data, err := mod.ReadFile("/" + name + ".pdf")
	if err != nil {
		return files, errors.NewExportFailedError(req.JobID, "pdf", err)
	}
	pages, err := e.validate(data)
	if err != nil {
		return files, errors.NewExportFailedError(req.JobID, "pdf", fmt.Errorf("rendered PDF is invalid: %w", err))
	}
	e.logger.Debug("PDF rendered", "job_id", req.JobID, "pages", pages, "bytes", len(data))

	if ps.Enabled(params.PDFBin) {
		files.PDF = data
	}
	if ps.Enabled(params.PDFAutoDownload) {
		if e.sink == nil {
			e.logger.Warn("pdf_auto_download requested but no output sink is configured", "job_id", req.JobID)
		} else {
			loc, err := e.sink.Write(ctx, sink.File{
				JobID:       req.JobID,
				Name:        name + ".pdf",
				ContentType: "application/pdf",
				Data:        data,
			})
			if err != nil {
				return files, errors.NewExportFailedError(req.JobID, "pdf", err)
			}
			e.logger.Info("PDF delivered", "job_id", req.JobID, "location", loc)
		}
	}
	return files, nil
}

// dump collects text, enabled exports and the result tree.
func (e *Executor) dump(api engine.API, req *Request) (*result.Recognition, error) {
	text, err := api.Text()
	if err != nil {
		return nil, errors.NewExportFailedError(req.JobID, "text", err)
	}
	res := &result.Recognition{Text: text}

	exports := []struct {
		key    string
		format string
		get    func() (string, error)
		dst    **string
	}{
		{params.CreateHOCR, "hocr", api.HOCRText, &res.HOCR},
		{params.CreateTSV, "tsv", api.TSVText, &res.TSV},
		{params.CreateBox, "box", api.BoxText, &res.Box},
		{params.CreateUNLV, "unlv", api.UNLVText, &res.UNLV},
		{params.CreateOSD, "osd", api.OSDText, &res.OSD},
	}
	for _, x := range exports {
		if !req.Params.Enabled(x.key) {
			continue
		}
		out, err := x.get()
		if err != nil {
			return nil, errors.NewExportFailedError(req.JobID, x.format, err)
		}
		if x.format == "hocr" {
			out = result.Deindent(out)
		}
		*x.dst = &out
	}

	res.Confidence = api.MeanTextConf()
	res.Blocks = result.Build(api.Iterator())
	res.PSM = api.PageSegMode().String()
	res.OEM = api.EngineMode().String()
	res.Version = api.Version()
	return res, nil
}

// Detect estimates orientation and script. A failed detection returns the
// DETECT_FAILED error whose description is exactly "Failed to detect OS".
func (e *Executor) Detect(ctx context.Context, req *Request) (*result.Detection, error) {
	mod, api, err := e.handles()
	if err != nil {
		return nil, err
	}

	var img *imaging.Image
	defer func() {
		api.End()
		img.Release()
	}()

	if err := api.Init(mod.DataPath(), req.Langs, engine.OEM_DEFAULT); err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, "init", err)
	}

	api.SetPageSegMode(engine.PSM_OSD_ONLY)
	img, err = imaging.Ingest(mod, api, req.Image)
	if err != nil {
		return nil, errors.WithJob(err, req.JobID)
	}

	osr, ok := api.DetectOS()
	if !ok {
		e.logger.Warn("Orientation detection failed", "job_id", req.JobID)
		return nil, errors.NewDetectFailedError(req.JobID)
	}
	degrees, err := OrientationDegrees(osr.OrientationID)
	if err != nil {
		return nil, errors.NewOCRFailedError(req.JobID, "detect", err)
	}

	return &result.Detection{
		TesseractScriptID:     osr.ScriptID,
		Script:                osr.ScriptName,
		ScriptConfidence:      osr.ScriptConfidence,
		OrientationDegrees:    degrees,
		OrientationConfidence: osr.OrientationConfidence,
	}, nil
}
