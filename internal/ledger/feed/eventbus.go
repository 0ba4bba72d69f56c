package feed

import (
	"context"
	"log/slog"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

// fanout is the set of subscriptions behind one EventBus topic. EventBus calls
// handlers while holding its own lock, so dispatch only ever takes fanout.mu.
type fanout struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	handler func(models.Deletion)
}

// Bus is the in-process feed. Each watched token gets one EventBus topic with
// a single handler that fans out to that token's subscriptions.
type Bus struct {
	bus    evbus.Bus
	logger *slog.Logger

	mu     sync.Mutex
	topics map[id.SessionToken]*fanout
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		bus:    evbus.New(),
		logger: logger,
		topics: make(map[id.SessionToken]*fanout),
	}
}

func (b *Bus) Publish(_ context.Context, d models.Deletion) error {
	b.bus.Publish(topicFor(d.SessionToken), d)
	return nil
}

func (b *Bus) Subscribe(_ context.Context, token id.SessionToken) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.topics[token]
	if !ok {
		f = &fanout{subs: make(map[*subscription]struct{})}
		f.handler = func(d models.Deletion) { b.dispatch(f, d) }
		if err := b.bus.Subscribe(topicFor(token), f.handler); err != nil {
			return nil, err
		}
		b.topics[token] = f
	}

	var sub *subscription
	sub = newSubscription(func() { b.remove(token, sub) })
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

// Watching reports whether any subscription is open for token.
func (b *Bus) Watching(token id.SessionToken) bool {
	return b.bus.HasCallback(topicFor(token))
}

func (b *Bus) dispatch(f *fanout, d models.Deletion) {
	f.mu.Lock()
	targets := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		if !sub.offer(d) {
			b.logger.Warn("deletion event dropped", "row_id", d.RowID.String())
		}
	}
}

func (b *Bus) remove(token id.SessionToken, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.topics[token]
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.subs, sub)
	empty := len(f.subs) == 0
	f.mu.Unlock()
	if !empty {
		return
	}
	delete(b.topics, token)
	_ = b.bus.Unsubscribe(topicFor(token), f.handler)
}
