package main

import (
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/spf13/cobra"
)

var serveTransport string

// consumer is implemented by both transports.
type consumer interface {
	Start() error
	Stop() error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume jobs from the queue",
	Long: `Consume OCR jobs until interrupted.

The transport is redis (plain LIST queue with events on <queue>:events) or
asynq. When DATABASE_URL is set every job is also recorded in PostgreSQL.

Examples:
  ocr-worker serve
  ocr-worker serve --transport asynq
  ocr-worker serve --config /etc/ocr-worker.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logging.NewLogger("main")

		manager, err := config.NewManager(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg := manager.Get()
		logging.SetLevel(cfg.LogLevel)
		if cfgFile != "" {
			manager.OnChange(func(c *config.Config) {
				logging.SetLevel(c.LogLevel)
				log.Info("Configuration reloaded", "log_level", c.LogLevel)
			})
			manager.WatchConfig()
		}

		transport := cfg.Transport
		if serveTransport != "" {
			transport = serveTransport
		}
		log.Info("OCR Worker starting...", "transport", transport, "queue", cfg.QueueName)

		redisClient, err := queue.Connect(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		dispatcher, err := newDispatcher(cfg, redisClient)
		if err != nil {
			return fmt.Errorf("failed to initialize dispatcher: %w", err)
		}

		var sinks []worker.Sender
		if cfg.DatabaseURL != "" {
			store, err := storage.NewJobStore(cfg.DatabaseURL, cfg.DatabaseSchema, logging.NewLogger("storage"))
			if err != nil {
				return fmt.Errorf("failed to initialize job store: %w", err)
			}
			defer store.Close()
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, store)
			log.Info("Job store initialized", "schema", cfg.DatabaseSchema)
		}

		var c consumer
		switch transport {
		case config.TransportRedis:
			c, err = queue.NewRedisConsumer(&queue.RedisConsumerConfig{
				RedisURL:   cfg.RedisURL,
				QueueName:  cfg.QueueName,
				Dispatcher: dispatcher,
				Sinks:      sinks,
				Logger:     logging.NewLogger("queue"),
			})
		case config.TransportAsynq:
			c, err = queue.NewAsynqConsumer(&queue.AsynqConsumerConfig{
				RedisURL:   cfg.RedisURL,
				QueueName:  cfg.QueueName,
				Dispatcher: dispatcher,
				Sinks:      sinks,
				Logger:     logging.NewLogger("queue"),
			})
		default:
			return fmt.Errorf("unknown transport: %s", transport)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}

		if err := c.Start(); err != nil {
			return fmt.Errorf("failed to start queue consumer: %w", err)
		}
		log.Info("Waiting for jobs...")

		<-ctx.Done()
		log.Info("Received shutdown signal, initiating graceful shutdown...")

		stopped := make(chan error, 1)
		go func() { stopped <- c.Stop() }()
		select {
		case err := <-stopped:
			if err != nil {
				log.Error("Error stopping queue consumer", "error", err)
			}
		case <-time.After(5 * time.Minute):
			log.Error("Timed out waiting for the active job")
		}

		log.Info("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "redis or asynq (default: TRANSPORT)")
}
