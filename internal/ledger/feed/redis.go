package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

// Redis is the cross-process feed: one pub/sub channel per session token, so
// the server filters by token before anything reaches a subscriber.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, d models.Deletion) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deletion: %w", err)
	}
	if err := r.client.Publish(ctx, topicFor(d.SessionToken), payload).Err(); err != nil {
		return fmt.Errorf("publish deletion: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a deletion
// published after Subscribe returns is never missed.
func (r *Redis) Subscribe(ctx context.Context, token id.SessionToken) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topicFor(token))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to deletions: %w", err)
	}

	sub := newSubscription(func() { _ = ps.Close() })
	go r.forward(ps, sub)
	return sub, nil
}

func (r *Redis) forward(ps *redis.PubSub, sub *subscription) {
	for msg := range ps.Channel() {
		var d models.Deletion
		if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
			r.logger.Warn("malformed deletion event", "channel", msg.Channel, "error", err)
			continue
		}
		if !sub.offer(d) {
			r.logger.Warn("deletion event dropped", "row_id", d.RowID.String())
		}
	}
}
