package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	audit "acsadmin/pkg/platform/audit"
)

// Publisher appends audit events to a Store, optionally through a buffered
// channel drained by a background goroutine.
type Publisher struct {
	store  audit.Store
	events chan audit.Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer queues up to size events for background persistence.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"account_id", event.AccountID.String(),
			)
		}
	}
}

// Close drains pending events and stops the background goroutine.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !p.async {
		return p.store.Append(ctx, event)
	}
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped", "action", event.Action)
		}
		return dErrors.New(dErrors.CodeUnavailable, "audit buffer full")
	}
}

func (p *Publisher) List(ctx context.Context, accountID id.AccountID) ([]audit.Event, error) {
	return p.store.ListByAccount(ctx, accountID)
}
