package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultStaleness is how long a cached verdict stays valid.
const DefaultStaleness = 30 * 24 * time.Hour

// Entry is a cached adjudicator verdict.
type Entry struct {
	Confirmed bool      `json:"confirmed"`
	CachedAt  time.Time `json:"cached_at"`
}

// Store is a verdict cache. Entries older than the configured staleness
// window are reported as misses. Implementations are safe for concurrent
// use.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Stats() Stats
	Flush() error
	Close() error
}

// Stats represents cache performance statistics
type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Stale   int64   `json:"stale"`
	HitRate float64 `json:"hit_rate"`
}

// Config contains cache configuration
type Config struct {
	Backend        string        `yaml:"backend" mapstructure:"backend"` // memory, bbolt, or redis
	Path           string        `yaml:"path" mapstructure:"path"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	Staleness      time.Duration `yaml:"staleness" mapstructure:"staleness"`
}

// Open creates the store selected by cfg.Backend.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.Staleness), nil
	case "bbolt":
		store, err := OpenBolt(cfg.Path, cfg.Staleness, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := NewRedisStore(&cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (must be memory, bbolt, or redis)", cfg.Backend)
	}
}

// Key hashes the parts into a cache key so no raw text is stored.
func Key(parts ...string) string {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// counters tracks cache performance metrics
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

func (c *counters) snapshot(backend string) Stats {
	s := Stats{
		Backend: backend,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Stale:   c.stale.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// lookup applies the staleness window to a raw lookup result.
func (c *counters) lookup(entry Entry, found bool, staleness time.Duration, now time.Time) (Entry, bool) {
	if !found {
		c.misses.Add(1)
		return Entry{}, false
	}
	if staleness > 0 && now.Sub(entry.CachedAt) > staleness {
		c.stale.Add(1)
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

func stamp(entry Entry) Entry {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	return entry
}
