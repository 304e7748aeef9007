package main

import (
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/engine/tesseract"
	"github.com/adverant/nexus/ocr-worker/internal/executor"
	"github.com/adverant/nexus/ocr-worker/internal/langdata"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/sink"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/redis/go-redis/v9"
)

// newDispatcher builds the job pipeline. A non-nil redisClient shares
// downloaded language data with other worker processes.
func newDispatcher(cfg *config.Config, redisClient *redis.Client) (*worker.Dispatcher, error) {
	var fetcher langdata.Fetcher = langdata.NewHTTPFetcher(cfg.LangPath, logging.NewLogger("langdata"))
	if redisClient != nil {
		fetcher = langdata.NewRedisStore(redisClient, fetcher, cfg.LangCacheTTL, logging.NewLogger("langdata"))
	}

	sinks := sink.Multi{sink.NewDirWriter(cfg.OutputDir, logging.NewLogger("sink"))}
	if cfg.ArtifactAPIURL != "" {
		sinks = append(sinks, sink.NewArtifactWriter(cfg.ArtifactAPIURL, 0, logging.NewLogger("sink")))
	}

	session := engine.NewSession(tesseract.NewLoader(tesseract.Config{
		TesseractPath: cfg.TesseractPath,
		CorePaths:     []string{cfg.CorePath},
		Logger:        logging.NewLogger("tesseract"),
	}), logging.NewLogger("engine"))

	exec, err := executor.New(&executor.Config{
		Session: session,
		Sink:    sinks,
		Logger:  logging.NewLogger("executor"),
	})
	if err != nil {
		return nil, err
	}

	return worker.NewDispatcher(&worker.Config{
		Session:      session,
		Cache:        langdata.NewCache(fetcher, logging.NewLogger("langdata")),
		Executor:     exec,
		CorePath:     cfg.CorePath,
		LangPath:     cfg.LangPath,
		MaxImageSize: cfg.MaxImageSize,
		Timeout:      cfg.ProcessingTimeout,
		Logger:       logging.NewLogger("worker"),
	})
}
