package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"acsadmin/internal/ledger/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

const (
	// ledger:row:<account>:<token> holds one row as JSON.
	rowKeyPrefix = "ledger:row:"
	// ledger:account:<account> is the set of tokens with a live row.
	accountKeyPrefix = "ledger:account:"

	scanBatch = 100

	// maxTxAttempts bounds retries of an optimistic transaction whose watched
	// key changed before EXEC.
	maxTxAttempts = 8
)

type rowJSON struct {
	ID           string `json:"id"`
	AccountID    string `json:"admin_id"`
	SessionToken string `json:"session_token"`
	DeviceInfo   string `json:"device_info"`
	IPAddress    string `json:"ip_address"`
	LastActive   int64  `json:"last_active"` // Unix nano
	CreatedAt    int64  `json:"created_at"`  // Unix nano
}

func rowToJSON(r *models.Row) *rowJSON {
	return &rowJSON{
		ID:           r.ID.String(),
		AccountID:    r.AccountID.String(),
		SessionToken: r.SessionToken.String(),
		DeviceInfo:   r.DeviceInfo,
		IPAddress:    r.IPAddress,
		LastActive:   r.LastActive.UnixNano(),
		CreatedAt:    r.CreatedAt.UnixNano(),
	}
}

func rowFromJSON(j *rowJSON) (*models.Row, error) {
	rowID, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse row id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account id: %w", err)
	}
	return &models.Row{
		ID:           id.RowID(rowID),
		AccountID:    id.AccountID(accountID),
		SessionToken: id.SessionToken(j.SessionToken),
		DeviceInfo:   j.DeviceInfo,
		IPAddress:    j.IPAddress,
		LastActive:   time.Unix(0, j.LastActive),
		CreatedAt:    time.Unix(0, j.CreatedAt),
	}, nil
}

func decodeRow(data string) (*models.Row, error) {
	var j rowJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal session row: %w", err)
	}
	return rowFromJSON(&j)
}

// RedisStore keeps each row under a key derived from (account, token), plus a
// per-account token set for listing and sweeping. Every write that touches both
// keys runs in one MULTI so the set never lags the rows.
type RedisStore struct {
	client *redis.Client

	// afterSnapshot runs inside DeleteAll between reading the token set and
	// EXEC. Tests use it to interleave writes.
	afterSnapshot func()
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) rowKey(accountID id.AccountID, token id.SessionToken) string {
	return rowKeyPrefix + accountID.String() + ":" + token.String()
}

func (s *RedisStore) accountKey(accountID id.AccountID) string {
	return accountKeyPrefix + accountID.String()
}

// watch runs fn under WATCH keys and reruns it when EXEC was aborted by a
// concurrent write.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session rows kept changing after %d attempts: %w", maxTxAttempts, redis.TxFailedErr)
}

func (s *RedisStore) Find(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	data, err := s.client.Get(ctx, s.rowKey(accountID, token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session row: %w", err)
	}
	return decodeRow(data)
}

// Insert writes the row and indexes its token in one transaction. The row key
// is watched so two inserts of the same pair cannot both succeed.
func (s *RedisStore) Insert(ctx context.Context, r *models.Row) error {
	data, err := json.Marshal(rowToJSON(r))
	if err != nil {
		return fmt.Errorf("marshal session row: %w", err)
	}
	key := s.rowKey(r.AccountID, r.SessionToken)

	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("check session row: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("session row exists: %w", sentinel.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.accountKey(r.AccountID), r.SessionToken.String())
			return nil
		})
		if err != nil {
			return fmt.Errorf("insert session row: %w", err)
		}
		return nil
	}, key)
}

// Touch updates last_active under optimistic lock so a concurrent delete is
// never undone by a stale write.
func (s *RedisStore) Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, deviceInfo string, now time.Time) (*models.Row, error) {
	key := s.rowKey(accountID, token)
	var result *models.Row

	err := s.watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get session row for touch: %w", err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return err
		}

		row.LastActive = now
		if deviceInfo != "" {
			row.DeviceInfo = deviceInfo
		}
		newData, err := json.Marshal(rowToJSON(row))
		if err != nil {
			return fmt.Errorf("marshal session row: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = row
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	key := s.rowKey(accountID, token)
	var removed *models.Row

	err := s.watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get session row for delete: %w", err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.accountKey(accountID), token.String())
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete session row: %w", err)
		}
		removed = row
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *RedisStore) DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (*models.Row, error) {
	rows, err := s.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ID == rowID {
			return s.Delete(ctx, accountID, r.SessionToken)
		}
	}
	return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
}

// DeleteAll removes every row of the account. The token set is watched, so a
// row inserted or deleted after the snapshot aborts EXEC and the snapshot is
// retaken.
func (s *RedisStore) DeleteAll(ctx context.Context, accountID id.AccountID) ([]*models.Row, error) {
	accountKey := s.accountKey(accountID)
	var removed []*models.Row

	err := s.watch(ctx, func(tx *redis.Tx) error {
		tokens, err := tx.SMembers(ctx, accountKey).Result()
		if err != nil {
			return fmt.Errorf("list session tokens: %w", err)
		}
		keys := make([]string, len(tokens))
		for i, token := range tokens {
			keys[i] = s.rowKey(accountID, id.SessionToken(token))
		}
		rows := make([]*models.Row, 0, len(keys))
		if len(keys) > 0 {
			values, err := tx.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("get session rows: %w", err)
			}
			for _, v := range values {
				data, ok := v.(string)
				if !ok {
					continue
				}
				row, err := decodeRow(data)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
		}
		if s.afterSnapshot != nil {
			s.afterSnapshot()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(keys) > 0 {
				pipe.Del(ctx, keys...)
			}
			pipe.Del(ctx, accountKey)
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete session rows: %w", err)
		}
		removed = rows
		return nil
	}, accountKey)
	if err != nil {
		return nil, err
	}
	sortByLastActive(removed)
	return removed, nil
}

func (s *RedisStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]*models.Row, error) {
	accountKey := s.accountKey(accountID)
	tokens, err := s.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list session tokens: %w", err)
	}
	if len(tokens) == 0 {
		return []*models.Row{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokens))
	for i, token := range tokens {
		cmds[i] = pipe.Get(ctx, s.rowKey(accountID, id.SessionToken(token)))
	}
	// Missing keys surface per command below.
	_, _ = pipe.Exec(ctx) //nolint:errcheck

	rows := make([]*models.Row, 0, len(tokens))
	var orphans []id.SessionToken
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			orphans = append(orphans, id.SessionToken(tokens[i]))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get session row: %w", err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	for _, token := range orphans {
		if err := s.pruneOrphan(ctx, accountID, token); err != nil {
			return nil, err
		}
	}

	sortByLastActive(rows)
	return rows, nil
}

// pruneOrphan drops a token from the account set unless its row has been
// written again since it was found missing.
func (s *RedisStore) pruneOrphan(ctx context.Context, accountID id.AccountID, token id.SessionToken) error {
	key := s.rowKey(accountID, token)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("check session row: %w", err)
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, s.accountKey(accountID), token.String())
			return nil
		})
		if err != nil {
			return fmt.Errorf("prune session token: %w", err)
		}
		return nil
	}, key)
}

// DeleteStale scans every row key and removes rows idle since before cutoff.
func (s *RedisStore) DeleteStale(ctx context.Context, cutoff time.Time) ([]*models.Row, error) {
	var (
		cursor  uint64
		removed []*models.Row
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, rowKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan session rows: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get session row: %w", err)
			}
			row, err := decodeRow(data)
			if err != nil {
				return nil, err
			}
			if !row.IsStale(cutoff) {
				continue
			}
			deleted, err := s.Delete(ctx, row.AccountID, row.SessionToken)
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			removed = append(removed, deleted)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
