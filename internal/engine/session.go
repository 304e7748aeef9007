package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"golang.org/x/image/font/gofont/goregular"
)

// Progress statuses reported by the session.
const (
	StatusInitializing = "initializing tesseract"
	StatusInitialized  = "initialized tesseract"
	StatusRecognizing  = "recognizing text"
)

// FontFile is the name the PDF renderer expects its glyph font under.
const FontFile = "pdf.ttf"

// State of the engine session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// attempt is one initialization run; err is written before done is closed.
type attempt struct {
	done chan struct{}
	err  error
}

// Session owns the process-wide engine module and API instance. It is built
// lazily by the first job, survives across jobs and is never torn down.
//
// The engine exposes a single global progress hook. The session routes it to
// whatever Reporter was last installed with SetCurrent, so the dispatcher must
// repoint it before every engine-driven call.
type Session struct {
	loader Loader
	logger *logging.Logger
	font   []byte

	mu      sync.Mutex
	state   State
	pending *attempt
	module  Module
	api     API

	curMu   sync.RWMutex
	current Reporter
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithFont replaces the embedded PDF font written into the module file system.
func WithFont(ttf []byte) SessionOption {
	return func(s *Session) { s.font = ttf }
}

// NewSession creates an uninitialized session that will load its module via loader.
func NewSession(loader Loader, logger *logging.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = logging.NewLogger("engine")
	}
	s := &Session{
		loader: loader,
		logger: logger,
		font:   goregular.TTF,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureReady initializes the engine on first use. Concurrent callers during
// initialization wait for the same outcome instead of loading a second
// module. A failed initialization leaves the session uninitialized so the
// next caller retries from scratch.
func (s *Session) EnsureReady(ctx context.Context, corePath string, r Reporter) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateInitializing:
		a := s.pending
		s.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a := &attempt{done: make(chan struct{})}
	s.state = StateInitializing
	s.pending = a
	s.mu.Unlock()

	if r != nil {
		r.Progress(StatusInitializing, 0)
	}

	module, api, err := s.initialize(ctx, corePath)

	s.mu.Lock()
	if err != nil {
		a.err = errors.NewEngineInitError(corePath, err)
		s.state = StateUninitialized
	} else {
		s.module = module
		s.api = api
		s.state = StateReady
	}
	s.pending = nil
	close(a.done)
	s.mu.Unlock()

	if a.err != nil {
		s.logger.Error("Engine initialization failed", "core_path", corePath, "error", err)
		return a.err
	}

	s.logger.Info("Engine initialized", "core_path", corePath, "version", api.Version())
	if r != nil {
		r.Progress(StatusInitialized, 1)
	}
	return nil
}

func (s *Session) initialize(ctx context.Context, corePath string) (Module, API, error) {
	module, err := s.loader.Load(ctx, corePath, s.progressHook)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load engine module: %w", err)
	}
	if err := module.WriteFile(FontFile, s.font); err != nil {
		return nil, nil, fmt.Errorf("failed to write %s: %w", FontFile, err)
	}
	api, err := module.NewAPI()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine API: %w", err)
	}
	return module, api, nil
}

func (s *Session) progressHook(percent int) {
	if r := s.Current(); r != nil {
		r.Progress(StatusRecognizing, NormalizeProgress(percent))
	}
}

// NormalizeProgress maps the engine's raw percentage onto 0..1. Anything at or
// below 30% is pre-recognition setup and reports as 0.
func NormalizeProgress(percent int) float64 {
	p := float64(percent-30) / 70
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// SetCurrent points the global progress hook at r.
func (s *Session) SetCurrent(r Reporter) {
	s.curMu.Lock()
	s.current = r
	s.curMu.Unlock()
}

// Current returns the reporter the progress hook is routed to.
func (s *Session) Current() Reporter {
	s.curMu.RLock()
	defer s.curMu.RUnlock()
	return s.current
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// API returns the singleton engine API, or nil before initialization.
func (s *Session) API() API {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// Module returns the loaded engine module, or nil before initialization.
func (s *Session) Module() Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.module
}
