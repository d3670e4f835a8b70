// Package history remembers where playback of each media URL stopped.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
)

// Entry is the stored resume point of one media URL.
type Entry struct {
	URL       string    `json:"url"`
	Position  float64   `json:"position_seconds"`
	Duration  float64   `json:"duration_seconds"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps resume points in Redis. Each URL maps to a JSON entry under a
// name-based UUID key; a sorted set orders entries by last update.
type Store struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	minPosition time.Duration
	log         logger.Logger
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg config.HistoryConfig, log logger.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis for history: %w", err)
	}
	return NewStore(client, cfg, log), nil
}

func NewStore(client *redis.Client, cfg config.HistoryConfig, log logger.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	return &Store{
		client:      client,
		prefix:      cfg.KeyPrefix,
		ttl:         cfg.TTL,
		minPosition: cfg.MinPosition,
		log:         logger.WithComponent(log, "history"),
	}
}

// Client exposes the Redis client for health checks.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) key(url string) string {
	return s.prefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

func (s *Store) recentKey() string { return s.prefix + "recent" }

// Save records position for url. Positions below min_position are not worth
// resuming and clear any previous entry instead.
func (s *Store) Save(ctx context.Context, url string, position, duration float64) error {
	if position < s.minPosition.Seconds() {
		return s.Delete(ctx, url)
	}

	entry := Entry{URL: url, Position: position, Duration: duration, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	key := s.key(url)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(entry.UpdatedAt.UnixNano()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save history entry: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"url":      url,
		"position": position,
	}).Debug("Saved resume position")
	return nil
}

// Load returns the resume point for url. ok is false if none is stored.
func (s *Store) Load(ctx context.Context, url string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to load history entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal history entry: %w", err)
	}
	return entry, true, nil
}

func (s *Store) Delete(ctx context.Context, url string) error {
	key := s.key(url)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, s.recentKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

// Recent lists up to limit entries, most recently updated first. Entries that
// expired are pruned from the index.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	keys, err := s.client.ZRevRange(ctx, s.recentKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history entries: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			s.log.WithError(err).Warn("Skipping malformed history entry")
			continue
		}
		entries = append(entries, e)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.recentKey(), stale...).Err(); err != nil {
			s.log.WithError(err).Debug("Failed to prune expired history entries")
		}
	}
	return entries, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
