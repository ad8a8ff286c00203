// Package cache mirrors manifest reads through Redis so a horizontally
// scaled API tier doesn't hammer the orchestrator's in-process pipeline
// for repeat queries of the same tick. Invalidation is keyed on the
// world's archetype generation, not a TTL: a cached manifest is only
// ever one tick stale, never silently out of date within a tick.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config controls the Redis connection and default entry lifetime.
type Config struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	DefaultTTL   time.Duration `yaml:"default_ttl" env:"REDIS_DEFAULT_TTL"`
	InvalidateCh string        `yaml:"invalidate_channel" env:"REDIS_INVALIDATE_CHANNEL"`
}

// DefaultConfig mirrors the values a local engine instance would use
// against a sidecar Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DefaultTTL:   2 * time.Second,
		InvalidateCh: "nomai:cache:invalidate",
	}
}

// ManifestCache caches manifest reads and entity-index lookups behind a
// Redis client, and publishes invalidation events so every API replica
// drops its local assumptions the moment the world's archetype shape
// changes.
type ManifestCache struct {
	client *redis.Client
	cfg    Config
}

// New opens a ManifestCache against the configured Redis instance. The
// connection is lazy — New never blocks on a ping.
func New(cfg Config) *ManifestCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &ManifestCache{client: client, cfg: cfg}
}

func manifestKey(tick uint64) string {
	return fmt.Sprintf("nomai:manifest:%d", tick)
}

func generationKey() string {
	return "nomai:archetype_generation"
}

// GetManifest returns the cached manifest bytes for tick, if present and
// not superseded by a newer archetype generation.
func (c *ManifestCache) GetManifest(ctx context.Context, tick uint64, currentGeneration uint64) ([]byte, bool) {
	cachedGen, err := c.client.Get(ctx, generationKey()).Int64()
	if err != nil && err != redis.Nil {
		return nil, false
	}
	if uint64(cachedGen) != currentGeneration {
		return nil, false
	}

	b, err := c.client.Get(ctx, manifestKey(tick)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// PutManifest stores a manifest's serialized bytes against the
// archetype generation that produced it, so a later generation bump
// invalidates every entry written under the old one without an
// explicit sweep.
func (c *ManifestCache) PutManifest(ctx context.Context, tick uint64, generation uint64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, generationKey(), generation, 0)
	pipe.Set(ctx, manifestKey(tick), b, c.ttl())
	_, err = pipe.Exec(ctx)
	return err
}

func (c *ManifestCache) ttl() time.Duration {
	if c.cfg.DefaultTTL <= 0 {
		return 2 * time.Second
	}
	return c.cfg.DefaultTTL
}

// Invalidate drops a single tick's cached manifest and publishes an
// invalidation event so peer replicas drop their own copy too.
func (c *ManifestCache) Invalidate(ctx context.Context, tick uint64) error {
	if err := c.client.Del(ctx, manifestKey(tick)).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, c.cfg.InvalidateCh, fmt.Sprintf("tick:%d", tick)).Err()
}

// InvalidateGeneration bumps the stored archetype generation so every
// previously cached manifest reads as stale on next GetManifest, and
// broadcasts the bump to subscribers.
func (c *ManifestCache) InvalidateGeneration(ctx context.Context, generation uint64) error {
	if err := c.client.Set(ctx, generationKey(), generation, 0).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, c.cfg.InvalidateCh, fmt.Sprintf("generation:%d", generation)).Err()
}

// Subscribe returns a channel of raw invalidation payloads published by
// any replica, for a process that wants to drop a local in-memory
// shadow cache in lockstep with Redis.
func (c *ManifestCache) Subscribe(ctx context.Context) <-chan string {
	sub := c.client.Subscribe(ctx, c.cfg.InvalidateCh)
	out := make(chan string, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			out <- msg.Payload
		}
	}()
	return out
}

// Close releases the underlying Redis connection pool.
func (c *ManifestCache) Close() error {
	return c.client.Close()
}
