package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// lockout:<key> is a hash of failures, last_failure_at and locked_until.
	redisKeyPrefix = "lockout:"

	fieldFailures    = "failures"
	fieldLastFailure = "last_failure_at"
	fieldLockedUntil = "locked_until"
)

// RedisStore shares lockout state across instances. Keys expire once both
// the failure window and any lock have passed.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func decodeRecord(fields map[string]string) (*Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	failures, err := strconv.Atoi(fields[fieldFailures])
	if err != nil && fields[fieldFailures] != "" {
		return nil, fmt.Errorf("parse failures: %w", err)
	}
	rec := &Record{Failures: failures}
	if rec.LastFailureAt, err = parseNanos(fields[fieldLastFailure]); err != nil {
		return nil, err
	}
	if rec.LockedUntil, err = parseNanos(fields[fieldLockedUntil]); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseNanos(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return time.Unix(0, n), nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("get lockout record: %w", err)
	}
	return decodeRecord(fields)
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (*Record, error) {
	rkey := redisKeyPrefix + key
	var result *Record

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, rkey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get lockout record: %w", err)
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &Record{}
		}
		if now.Sub(rec.LastFailureAt) > window {
			rec.Failures = 0
		}
		rec.Failures++
		rec.LastFailureAt = now

		ttl := window
		if held := rec.LockedUntil.Sub(now); held > ttl {
			ttl = held
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rkey,
				fieldFailures, rec.Failures,
				fieldLastFailure, nanos(rec.LastFailureAt),
				fieldLockedUntil, nanos(rec.LockedUntil),
			)
			pipe.Expire(ctx, rkey, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	}, rkey)
	if err != nil {
		return nil, fmt.Errorf("record sign-in failure: %w", err)
	}
	return result, nil
}

func (s *RedisStore) Lock(ctx context.Context, key string, until time.Time) error {
	rkey := redisKeyPrefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rkey, fieldLockedUntil, nanos(until))
		pipe.ExpireAt(ctx, rkey, until)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lock sign-in: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("clear lockout record: %w", err)
	}
	return nil
}
