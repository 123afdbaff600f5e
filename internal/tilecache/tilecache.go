// Package tilecache caches encoded vector tiles.
package tilecache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"
	"github.com/redis/go-redis/v9"
)

// Key identifies one rendered tile. Epoch names the catalogue instance and
// Version its state, so neither a new upload nor a restarted or different
// server sharing the cache can serve stale tiles.
type Key struct {
	Epoch    uuid.UUID
	Version  uint64
	Filter   string
	Thematic bool
	Tile     maptile.Tile
}

func (k Key) String() string {
	sum := sha1.Sum([]byte(k.Filter))
	return fmt.Sprintf("gis:tile:%s:%d:%s:%t:%d/%d/%d",
		k.Epoch, k.Version, hex.EncodeToString(sum[:8]), k.Thematic, k.Tile.Z, k.Tile.X, k.Tile.Y)
}

// Cache stores encoded tiles. Get reports a miss with ok=false and a nil
// error.
type Cache interface {
	Get(ctx context.Context, k Key) (data []byte, ok bool, err error)
	Set(ctx context.Context, k Key, data []byte) error
}

// Redis is a Cache backed by go-redis.
type Redis struct {
	rc  *redis.Client
	ttl time.Duration
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rc, ttl), nil
}

func NewRedis(rc *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rc: rc, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, k Key) ([]byte, bool, error) {
	b, err := r.rc.Get(ctx, k.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.TileCacheMissesTotal.Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	metrics.TileCacheHitsTotal.Inc()
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, k Key, data []byte) error {
	return r.rc.Set(ctx, k.String(), data, r.ttl).Err()
}

func (r *Redis) Close() error { return r.rc.Close() }

// Memory is an in-process Cache used when no Redis is configured. Entries
// from older catalogue versions are dropped as soon as a newer one is stored.
type Memory struct {
	mu      sync.Mutex
	epoch   uuid.UUID
	version uint64
	tiles   map[string][]byte
	max     int
}

// NewMemory keeps at most max tiles for the current version.
func NewMemory(max int) *Memory {
	return &Memory{tiles: make(map[string][]byte), max: max}
}

func (m *Memory) Get(_ context.Context, k Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tiles[k.String()]
	if ok {
		metrics.TileCacheHitsTotal.Inc()
	} else {
		metrics.TileCacheMissesTotal.Inc()
	}
	return b, ok, nil
}

func (m *Memory) Set(_ context.Context, k Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.Epoch == m.epoch && k.Version < m.version {
		return nil
	}
	if k.Epoch != m.epoch || k.Version > m.version || len(m.tiles) >= m.max {
		m.tiles = make(map[string][]byte)
		m.epoch = k.Epoch
		m.version = k.Version
	}
	m.tiles[k.String()] = data
	return nil
}

// Len reports how many tiles are held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles)
}
