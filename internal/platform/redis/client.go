// Package redis connects the shared Redis used by the ledger, the deletion
// feed and the sign-in lockout.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"acsadmin/internal/platform/config"
)

var (
	poolEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acs_redis_pool_events_total",
		Help: "Connection pool events by kind (hit, miss, timeout, stale)",
	}, []string{"event"})
	poolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acs_redis_pool_conns",
		Help: "Connections held by the pool by state (total, idle)",
	}, []string{"state"})
)

type Client struct {
	*redis.Client
	prev redis.PoolStats
}

// New returns nil, nil when no URL is configured. The connection is pinged
// once so a bad URL fails startup instead of the first request.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	c := &Client{Client: redis.NewClient(opts)}
	if err := c.Health(ctx); err != nil {
		_ = c.Close() //nolint:errcheck // startup already failed
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return c, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats publishes the pool counters accumulated since the last call.
func (c *Client) RecordPoolStats() {
	s := c.PoolStats()
	poolConns.WithLabelValues("total").Set(float64(s.TotalConns))
	poolConns.WithLabelValues("idle").Set(float64(s.IdleConns))

	addDelta("hit", s.Hits, c.prev.Hits)
	addDelta("miss", s.Misses, c.prev.Misses)
	addDelta("timeout", s.Timeouts, c.prev.Timeouts)
	addDelta("stale", s.StaleConns, c.prev.StaleConns)
	c.prev = *s
}

func addDelta(event string, now, before uint32) {
	if now > before {
		poolEvents.WithLabelValues(event).Add(float64(now - before))
	}
}

// RunPoolStats samples every interval until ctx is cancelled.
func (c *Client) RunPoolStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RecordPoolStats()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
