// Package redis caches the most recent log records of each instance in Redis
// lists so reconnecting clients can catch up without reading the log store.
// Lists expire after a period of inactivity.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
)

type (
	// Cache is a TTL-bounded Redis cache of recent log records.
	Cache struct {
		rdb        *redis.Client
		prefix     string
		ttl        time.Duration
		maxEntries int64
	}

	// Options configures a Cache.
	Options struct {
		// Redis is the connected client. Required.
		Redis *redis.Client
		// Prefix namespaces keys. Defaults to "aipp:logs".
		Prefix string
		// TTL is refreshed on every push. Defaults to 30 minutes.
		TTL time.Duration
		// MaxEntries caps the records kept per instance. Defaults to 500.
		MaxEntries int
	}

	entry struct {
		ID         string          `json:"id"`
		InstanceID string          `json:"instance_id"`
		Type       runlog.LogType  `json:"type"`
		Path       string          `json:"path"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		Final      bool            `json:"final,omitempty"`
		CreatedAt  time.Time       `json:"created_at"`
	}
)

const (
	defaultPrefix     = "aipp:logs"
	defaultTTL        = 30 * time.Minute
	defaultMaxEntries = 500
)

// New returns a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	c := &Cache{
		rdb:        opts.Redis,
		prefix:     opts.Prefix,
		ttl:        opts.TTL,
		maxEntries: int64(opts.MaxEntries),
	}
	if c.prefix == "" {
		c.prefix = defaultPrefix
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = defaultMaxEntries
	}
	return c, nil
}

// Name implements health.Pinger.
func (c *Cache) Name() string {
	return "logcache-redis"
}

// Ping implements health.Pinger.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Push appends rec to the list of its instance, trims the list and refreshes
// its expiry in one transaction.
func (c *Cache) Push(ctx context.Context, rec *runlog.Record) error {
	if rec == nil || rec.InstanceID == "" {
		return errors.New("record with instance id is required")
	}
	raw, err := json.Marshal(entry{
		ID:         rec.ID,
		InstanceID: rec.InstanceID,
		Type:       rec.Type,
		Path:       rec.Path.String(),
		Payload:    rec.Payload,
		Final:      rec.Final,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	key := c.key(rec.InstanceID)
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.LTrim(ctx, key, -c.maxEntries, -1)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push log record: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest cached records of instanceID, oldest
// first. A missing or expired list yields no records.
func (c *Cache) Recent(ctx context.Context, instanceID string, n int) ([]*runlog.Record, error) {
	if n <= 0 {
		return nil, errors.New("n must be > 0")
	}
	vals, err := c.rdb.LRange(ctx, c.key(instanceID), -int64(n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read cached log records: %w", err)
	}
	out := make([]*runlog.Record, 0, len(vals))
	for _, v := range vals {
		var e entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode cached log record: %w", err)
		}
		path, err := runlog.ParsePath(e.Path)
		if err != nil {
			path = runlog.Path{e.InstanceID}
		}
		out = append(out, &runlog.Record{
			ID:         e.ID,
			InstanceID: e.InstanceID,
			Type:       e.Type,
			Path:       path,
			Payload:    e.Payload,
			Final:      e.Final,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out, nil
}

// Drop removes the cached records of instanceID.
func (c *Cache) Drop(ctx context.Context, instanceID string) error {
	return c.rdb.Del(ctx, c.key(instanceID)).Err()
}

func (c *Cache) key(instanceID string) string {
	return c.prefix + ":" + instanceID
}
