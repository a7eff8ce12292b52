package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/redis"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

// Compile-time interface compliance checks.
var (
	_ Cache = (*redisCache)(nil)
	_ Cache = (*noopCache)(nil)
)

const redisKeyPrefix = "telemetry:query:"

// Cache stores rendered query responses for a short TTL, so bursts of
// identical ad-hoc requests do not each hit the database. Every
// failure path is a miss; the cache is never allowed to fail a query.
type Cache interface {
	Get(ctx context.Context, key string) ([]timeseries.Point, bool)
	Set(ctx context.Context, key string, points []timeseries.Point)
}

// Key derives a deterministic cache key from a binding and the
// request parameters that shape the result.
func Key(b timeseries.Binding, parts ...string) string {
	h := sha256.New()

	h.Write([]byte(b.Table))
	h.Write([]byte{0})
	h.Write([]byte(b.TimestampColumn))
	h.Write([]byte{0})
	h.Write([]byte(b.ValueColumn))
	h.Write([]byte{0})

	columns := make([]string, 0, len(b.Filters))
	for column := range b.Filters {
		columns = append(columns, column)
	}

	sort.Strings(columns)

	for _, column := range columns {
		h.Write([]byte(column))
		h.Write([]byte{0})
		h.Write([]byte(b.Filters[column]))
		h.Write([]byte{0})
	}

	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return redisKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

type redisCache struct {
	log    logrus.FieldLogger
	client redis.Client
	ttl    time.Duration
}

// New creates a Redis-backed query cache.
func New(log logrus.FieldLogger, client redis.Client, ttl time.Duration) Cache {
	return &redisCache{
		log:    log.WithField("component", "querycache"),
		client: client,
		ttl:    ttl,
	}
}

// Get returns the cached response for key, if present and decodable.
func (c *redisCache) Get(ctx context.Context, key string) ([]timeseries.Point, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	var points []timeseries.Point
	if err := json.Unmarshal([]byte(data), &points); err != nil {
		c.log.WithError(err).Debug("Failed to decode cached response")

		return nil, false
	}

	return points, true
}

// Set stores a response under key for the configured TTL.
func (c *redisCache) Set(ctx context.Context, key string, points []timeseries.Point) {
	data, err := json.Marshal(points)
	if err != nil {
		c.log.WithError(err).Debug("Failed to encode response for caching")

		return
	}

	if err := c.client.Set(ctx, key, string(data), c.ttl); err != nil {
		c.log.WithError(err).Debug("Failed to store cached response")
	}
}

type noopCache struct{}

// Disabled returns a cache that never hits and never stores, used
// when no Redis is configured.
func Disabled() Cache {
	return noopCache{}
}

func (noopCache) Get(_ context.Context, _ string) ([]timeseries.Point, bool) {
	return nil, false
}

func (noopCache) Set(_ context.Context, _ string, _ []timeseries.Point) {}
