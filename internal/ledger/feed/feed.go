// Package feed delivers ledger DELETE events to whoever watches a single
// session token. Filtering happens at the source: a subscriber never sees
// deletions of other tokens, even for the same account.
package feed

import (
	"context"
	"sync"

	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

// subscriberBuffer bounds undelivered events per subscriber. Overflow is
// dropped; watchers fall back to polling the ledger.
const subscriberBuffer = 8

type Publisher interface {
	Publish(ctx context.Context, deletion models.Deletion) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, token id.SessionToken) (Subscription, error)
}

// Subscription yields deletions for one token until Close. Events is closed
// after Close returns.
type Subscription interface {
	Events() <-chan models.Deletion
	Close()
}

type subscription struct {
	events  chan models.Deletion
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	onClose func()
}

func newSubscription(onClose func()) *subscription {
	return &subscription{events: make(chan models.Deletion, subscriberBuffer), onClose: onClose}
}

func (s *subscription) Events() <-chan models.Deletion { return s.events }

// offer delivers without blocking and reports whether the event was queued.
func (s *subscription) offer(d models.Deletion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- d:
		return true
	default:
		return false
	}
}

func (s *subscription) Close() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func topicFor(token id.SessionToken) string {
	return "ledger.deleted:" + token.String()
}
