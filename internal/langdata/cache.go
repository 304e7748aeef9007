package langdata

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Cache remembers which language sets are installed in the engine module.
// Entries live for the life of the process.
type Cache struct {
	fetcher Fetcher
	logger  *logging.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewCache creates a cache that fetches missing languages through fetcher.
func NewCache(fetcher Fetcher, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewLogger("langdata")
	}
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		loaded:  make(map[string]bool),
	}
}

// Loaded reports whether set has been fully installed.
func (c *Cache) Loaded(set Set) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded[set.String()]
}

// Load installs every language of set into module. Loads are serialized, so
// concurrent callers for the same set wait and then find it installed.
//
// An EmptyResponseError is logged and skipped: the remaining languages still
// load, and the set stays unmarked so a later job tries again.
func (c *Cache) Load(ctx context.Context, module engine.Module, set Set, opts Options) error {
	key := set.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded[key] && opts.Method() != CacheRefresh {
		return nil
	}

	complete := true
	for _, lang := range set {
		if lang.Data == nil && opts.Method() != CacheRefresh && module.HasFile(lang.FileName()) {
			continue
		}

		data := lang.Data
		if data == nil {
			var err error
			data, err = c.fetcher.Fetch(ctx, lang.Code, opts)
			var empty *EmptyResponseError
			if stderrors.As(err, &empty) {
				c.logger.Warn("Ignoring empty language data response", "lang", lang.Code, "url", empty.URL)
				complete = false
				continue
			}
			if err != nil {
				return errors.NewLanguageLoadError(lang.Code, err)
			}
		}

		if err := module.WriteFile(lang.FileName(), data); err != nil {
			return errors.NewLanguageLoadError(lang.Code, fmt.Errorf("failed to write %s: %w", lang.FileName(), err))
		}
		c.logger.Debug("Installed language data", "lang", lang.Code, "bytes", len(data))
	}

	if complete {
		c.loaded[key] = true
	}
	return nil
}
