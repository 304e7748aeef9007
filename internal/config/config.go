/**
 * Configuration for OCR Worker
 *
 * Values come from the environment (loaded from .env.ocr by main), optionally
 * overlaid by a YAML config file. Keys in the file are the lower-cased
 * environment names, e.g. redis_url.
 */

package config

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Transports the worker can serve.
const (
	TransportRedis = "redis"
	TransportAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Queue configuration
	RedisURL  string
	QueueName string
	Transport string

	// PostgreSQL job store, disabled when empty
	DatabaseURL    string
	DatabaseSchema string

	// Engine configuration
	TesseractPath string
	CorePath      string
	LangPath      string
	LangCacheTTL  time.Duration

	// Output sinks
	OutputDir      string
	ArtifactAPIURL string

	// Job limits
	MaxImageSize      int64
	ProcessingTimeout time.Duration

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("queue_name", "ocr:jobs")
	v.SetDefault("transport", TransportRedis)
	v.SetDefault("database_url", "")
	v.SetDefault("database_schema", "ocr")
	v.SetDefault("tesseract_path", "/usr/bin/tesseract")
	v.SetDefault("core_path", "")
	v.SetDefault("lang_path", "https://tessdata.projectnaptha.com/4.0.0")
	v.SetDefault("lang_cache_ttl", "0")
	v.SetDefault("output_dir", "/tmp/ocr-output")
	v.SetDefault("artifact_api_url", "")
	v.SetDefault("max_image_size", 104857600) // 100MB
	v.SetDefault("processing_timeout", "300000")
	v.SetDefault("log_level", "info")
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile == "" {
		return v, nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// LoadConfig loads configuration from environment variables and, when cfgFile
// is set, from that file.
func LoadConfig(cfgFile string) (*Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	ttl, err := parseDuration(v.GetString("lang_cache_ttl"), time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid LANG_CACHE_TTL: %w", err)
	}
	timeout, err := parseDuration(v.GetString("processing_timeout"), time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid PROCESSING_TIMEOUT: %w", err)
	}

	cfg := &Config{
		RedisURL:          v.GetString("redis_url"),
		QueueName:         v.GetString("queue_name"),
		Transport:         strings.ToLower(v.GetString("transport")),
		DatabaseURL:       v.GetString("database_url"),
		DatabaseSchema:    v.GetString("database_schema"),
		TesseractPath:     v.GetString("tesseract_path"),
		CorePath:          v.GetString("core_path"),
		LangPath:          v.GetString("lang_path"),
		LangCacheTTL:      ttl,
		OutputDir:         v.GetString("output_dir"),
		ArtifactAPIURL:    v.GetString("artifact_api_url"),
		MaxImageSize:      v.GetInt64("max_image_size"),
		ProcessingTimeout: timeout,
		LogLevel:          v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// parseDuration accepts a Go duration ("90s") or a bare integer in unit.
func parseDuration(s string, unit time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(s)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.Transport != TransportRedis && c.Transport != TransportAsynq {
		return fmt.Errorf("TRANSPORT must be %s or %s, got %q", TransportRedis, TransportAsynq, c.Transport)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 1GB, got %d", c.MaxImageSize)
	}

	if c.ProcessingTimeout < 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must not be negative, got %v", c.ProcessingTimeout)
	}

	if c.LangCacheTTL < 0 {
		return fmt.Errorf("LANG_CACHE_TTL must not be negative, got %v", c.LangCacheTTL)
	}

	return nil
}

// Manager holds the current configuration and reloads it when the config
// file changes.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager loads the configuration once.
func NewManager(cfgFile string) (*Manager, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, config: cfg}, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig enables hot-reloading of the config file. An invalid edit is
// ignored and the previous configuration stays current.
func (m *Manager) WatchConfig() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.reload()
	})
	m.v.WatchConfig()
}

func (m *Manager) reload() {
	cfg, err := load(m.v)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
