package langdata

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/avast/retry-go/v4"
)

// DefaultLangPath serves the 4.0.0 traineddata files.
const DefaultLangPath = "https://tessdata.projectnaptha.com/4.0.0"

// Cache methods, as accepted in job options.
const (
	CacheWrite    = "write"
	CacheReadOnly = "readOnly"
	CacheRefresh  = "refresh"
	CacheNone     = "none"
)

// Options are the per-job language loading options.
type Options struct {
	LangPath    string `json:"langPath,omitempty"`
	Gzip        *bool  `json:"gzip,omitempty"`
	CacheMethod string `json:"cacheMethod,omitempty"`
}

// UseGzip reports whether the compressed variant should be requested.
func (o Options) UseGzip() bool {
	return o.Gzip == nil || *o.Gzip
}

// Method returns the cache method, defaulting to write.
func (o Options) Method() string {
	if o.CacheMethod == "" {
		return CacheWrite
	}
	return o.CacheMethod
}

func (o Options) readsCache() bool {
	m := o.Method()
	return m == CacheWrite || m == CacheReadOnly
}

func (o Options) writesCache() bool {
	m := o.Method()
	return m == CacheWrite || m == CacheRefresh
}

// Fetcher retrieves the traineddata bytes for one language code.
type Fetcher interface {
	Fetch(ctx context.Context, code string, opts Options) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, code string, opts Options) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, code string, opts Options) ([]byte, error) {
	return f(ctx, code, opts)
}

// EmptyResponseError is returned when the server answers 200 with no body.
// It is the one loader anomaly the cache tolerates.
type EmptyResponseError struct {
	URL string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("empty response body from %s", e.URL)
}

// statusError is a non-200 response. 4xx responses are not retried.
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.code)
}

// HTTPFetcher downloads traineddata from a URL prefix or reads it from a
// local directory when the prefix is not an http(s) URL.
type HTTPFetcher struct {
	client   *http.Client
	langPath string
	attempts uint
	delay    time.Duration
	logger   *logging.Logger
}

// HTTPOption customizes an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithRetry sets the attempt count and the delay between attempts.
func WithRetry(attempts uint, delay time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.attempts = attempts
		f.delay = delay
	}
}

// NewHTTPFetcher creates a fetcher with langPath as its default prefix.
func NewHTTPFetcher(langPath string, logger *logging.Logger, opts ...HTTPOption) *HTTPFetcher {
	if langPath == "" {
		langPath = DefaultLangPath
	}
	if logger == nil {
		logger = logging.NewLogger("langdata")
	}
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 2 * time.Minute},
		langPath: langPath,
		attempts: 3,
		delay:    time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) location(code string, opts Options) string {
	base := opts.LangPath
	if base == "" {
		base = f.langPath
	}
	name := code + ".traineddata"
	if opts.UseGzip() {
		name += ".gz"
	}
	if isURL(base) {
		return strings.TrimRight(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch returns the decompressed traineddata for code.
func (f *HTTPFetcher) Fetch(ctx context.Context, code string, opts Options) ([]byte, error) {
	loc := f.location(code, opts)

	var data []byte
	var err error
	if isURL(loc) {
		data, err = f.download(ctx, loc)
	} else {
		data, err = os.ReadFile(loc)
		if err == nil && len(data) == 0 {
			err = fmt.Errorf("language data file %s is empty", loc)
		}
	}
	if err != nil {
		return nil, err
	}
	return maybeGunzip(data)
}

func (f *HTTPFetcher) download(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				serr := &statusError{url: url, code: resp.StatusCode}
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(serr)
				}
				return serr
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("Retrying language download", "url", url, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &EmptyResponseError{URL: url}
	}
	return body, nil
}

// maybeGunzip inflates data when it carries the gzip magic, and returns it
// unchanged otherwise. Some mirrors serve .gz names pre-inflated.
func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate traineddata: %w", err)
	}
	return out, nil
}
