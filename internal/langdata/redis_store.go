package langdata

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cached traineddata in Redis.
const KeyPrefix = "ocr:langdata:"

// RedisStore is a Fetcher that keeps inflated traineddata in Redis so other
// worker processes skip the download. Misses fall through to next.
type RedisStore struct {
	client *redis.Client
	next   Fetcher
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisStore wraps next with a Redis cache. A zero ttl keeps entries forever.
func NewRedisStore(client *redis.Client, next Fetcher, ttl time.Duration, logger *logging.Logger) *RedisStore {
	if logger == nil {
		logger = logging.NewLogger("langdata")
	}
	return &RedisStore{client: client, next: next, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(code string) string {
	return KeyPrefix + code
}

// Fetch honors the cache method: write reads and writes, readOnly only reads,
// refresh only writes and none bypasses Redis entirely.
func (s *RedisStore) Fetch(ctx context.Context, code string, opts Options) ([]byte, error) {
	if opts.readsCache() {
		data, err := s.client.Get(ctx, s.key(code)).Bytes()
		switch {
		case err == nil && len(data) > 0:
			s.logger.Debug("Language data cache hit", "lang", code)
			return data, nil
		case err != nil && err != redis.Nil:
			s.logger.Warn("Language data cache read failed", "lang", code, "error", err)
		}
	}

	data, err := s.next.Fetch(ctx, code, opts)
	if err != nil {
		return nil, err
	}

	if opts.writesCache() {
		if err := s.client.Set(ctx, s.key(code), data, s.ttl).Err(); err != nil {
			s.logger.Warn("Language data cache write failed", "lang", code, "error", err)
		}
	}
	return data, nil
}

// Evict removes a cached language.
func (s *RedisStore) Evict(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.key(code)).Err(); err != nil {
		return fmt.Errorf("failed to evict %s: %w", code, err)
	}
	return nil
}
