/**
 * Tesseract engine adapter
 *
 * Backs the engine interfaces with a local Tesseract install:
 * - gosseract drives recognition and produces hOCR
 * - hOCR is parsed into the result iterator
 * - the tesseract CLI renders TSV, box, UNLV, OSD and PDF output
 *
 * The module file system is a directory on disk; language data written into
 * it is what Init reads.
 */

package tesseract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// DefaultTesseractPath is used when neither the job nor the config names a binary.
const DefaultTesseractPath = "/usr/bin/tesseract"

// Config holds adapter configuration.
type Config struct {
	// DataDir is the module file system root. A temporary directory is
	// created when empty.
	DataDir       string
	TesseractPath string
	CLITimeout    time.Duration
	Logger        *logging.Logger

	// CorePaths are the other binaries a job may name. Any other corePath
	// fails to load.
	CorePaths []string
}

// NewLoader returns a Loader that prepares a Tesseract module. A non-empty
// corePath selects one of the configured binaries.
func NewLoader(cfg Config) engine.Loader {
	return engine.LoaderFunc(func(ctx context.Context, corePath string, onProgress engine.ProgressFunc) (engine.Module, error) {
		return Load(cfg, corePath, onProgress)
	})
}

// Load resolves the binary and prepares the data directory.
func Load(cfg Config, corePath string, onProgress engine.ProgressFunc) (*Module, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("tesseract")
	}

	binary, err := selectBinary(cfg, corePath)
	if err != nil {
		return nil, err
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tesseract binary not found at %s: %w", binary, err)
	}

	dir := cfg.DataDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "ocr-engine-")
		if err != nil {
			return nil, fmt.Errorf("failed to create engine data directory: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create engine data directory %s: %w", dir, err)
	}

	timeout := cfg.CLITimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	logger.Info("Tesseract module loaded", "binary", resolved, "data_dir", dir)
	return &Module{
		dir:        dir,
		binary:     resolved,
		timeout:    timeout,
		onProgress: onProgress,
		logger:     logger,
	}, nil
}

// selectBinary picks the binary for corePath. Jobs may only name binaries the
// worker was configured with.
func selectBinary(cfg Config, corePath string) (string, error) {
	configured := cfg.TesseractPath
	if configured == "" {
		configured = DefaultTesseractPath
	}
	if corePath == "" || corePath == configured {
		return configured, nil
	}
	for _, p := range cfg.CorePaths {
		if p != "" && p == corePath {
			return p, nil
		}
	}
	return "", fmt.Errorf("core path %s is not configured", corePath)
}

// Module is a Tesseract install plus its data directory.
type Module struct {
	dir        string
	binary     string
	timeout    time.Duration
	onProgress engine.ProgressFunc
	logger     *logging.Logger

	paramsOnce sync.Once
	params     map[string]bool
}

var _ engine.Module = (*Module)(nil)

func (m *Module) NewAPI() (engine.API, error) {
	return &API{module: m, psm: engine.PSM_SINGLE_BLOCK, oem: engine.OEM_DEFAULT}, nil
}

// ReadImage checks that data is a decodable image and records its size.
func (m *Module) ReadImage(data []byte) (engine.Pix, error) {
	cfg, _, err := imaging.DecodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &Pix{data: data, w: cfg.Width, h: cfg.Height}, nil
}

func (m *Module) path(name string) string {
	return filepath.Join(m.dir, filepath.Clean("/"+name))
}

func (m *Module) WriteFile(name string, data []byte) error {
	return os.WriteFile(m.path(name), data, 0o644)
}

func (m *Module) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(m.path(name))
}

func (m *Module) HasFile(name string) bool {
	_, err := os.Stat(m.path(name))
	return err == nil
}

func (m *Module) DataPath() string { return m.dir }

func (m *Module) progress(percent int) {
	if m.onProgress != nil {
		m.onProgress(percent)
	}
}

// Pix is an encoded image held for the engine.
type Pix struct {
	data []byte
	w, h int
}

func (p *Pix) Width() int  { return p.w }
func (p *Pix) Height() int { return p.h }
func (p *Pix) Destroy()    { p.data = nil }
