package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/model"
)

const defaultRedisTimeout = 2 * time.Second

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr    string
	Key     string
	Timeout time.Duration
}

// RedisStore keeps all pairs in one hash. HSET is atomic per field, so
// concurrent writers to different pairs never interfere.
type RedisStore struct {
	c       *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore connects to Addr and verifies the server answers PING.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Key == "" {
		opts.Key = "pingmatrix:pings"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRedisTimeout
	}
	c := redis.NewClient(&redis.Options{Addr: opts.Addr})

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{c: c, key: opts.Key, timeout: opts.Timeout}, nil
}

func pairField(p model.Pair) string {
	return p.Source + "\x00" + p.Destination
}

func (s *RedisStore) Upsert(ctx context.Context, m model.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.c.HSet(tctx, s.key, pairField(m.Pair()), data).Err(); err != nil {
		return fmt.Errorf("upsert %s: %w", m.Pair(), err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]model.Measurement, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	all, err := s.c.HGetAll(tctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pings: %w", err)
	}
	out := make([]model.Measurement, 0, len(all))
	for field, raw := range all {
		var m model.Measurement
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Warn().Str("field", strings.ReplaceAll(field, "\x00", "->")).Err(err).Msg("skipping undecodable ping")
			continue
		}
		out = append(out, m)
	}
	sortMeasurements(out)
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.c.Close()
}
