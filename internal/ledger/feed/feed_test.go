package feed

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

type feed interface {
	Publisher
	Subscriber
}

// FeedSuite pins token-scoped delivery for both feed implementations.
type FeedSuite struct {
	suite.Suite
	newFeed func(t *testing.T) feed
	feed    feed
	ctx     context.Context
}

func TestBusFeed(t *testing.T) {
	suite.Run(t, &FeedSuite{newFeed: func(*testing.T) feed { return NewBus(nil) }})
}

func TestRedisFeed(t *testing.T) {
	suite.Run(t, &FeedSuite{newFeed: func(t *testing.T) feed {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedis(client, nil)
	}})
}

func (s *FeedSuite) SetupTest() {
	s.feed = s.newFeed(s.T())
	s.ctx = context.Background()
}

func deletionFor(token string) models.Deletion {
	return models.Deletion{RowID: id.NewRowID(), AccountID: id.NewAccountID(), SessionToken: id.SessionToken(token)}
}

func (s *FeedSuite) receive(sub Subscription) (models.Deletion, bool) {
	select {
	case d, ok := <-sub.Events():
		return d, ok
	case <-time.After(time.Second):
		return models.Deletion{}, false
	}
}

func (s *FeedSuite) nothing(sub Subscription) {
	select {
	case d := <-sub.Events():
		s.Failf("unexpected event", "got deletion for %s", d.SessionToken)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *FeedSuite) TestDeliversOnlyMatchingToken() {
	a, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	defer a.Close()
	b, err := s.feed.Subscribe(s.ctx, "tab-b")
	s.Require().NoError(err)
	defer b.Close()

	sent := deletionFor("tab-a")
	s.Require().NoError(s.feed.Publish(s.ctx, sent))

	got, ok := s.receive(a)
	s.Require().True(ok)
	s.Equal(sent, got)
	s.nothing(b)
}

func (s *FeedSuite) TestEverySubscriberOfATokenReceives() {
	first, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	defer first.Close()
	second, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	defer second.Close()

	s.Require().NoError(s.feed.Publish(s.ctx, deletionFor("tab-a")))

	_, ok := s.receive(first)
	s.True(ok)
	_, ok = s.receive(second)
	s.True(ok)
}

func (s *FeedSuite) TestCloseStopsDeliveryAndClosesChannel() {
	sub, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	sub.Close()
	sub.Close()

	s.Require().NoError(s.feed.Publish(s.ctx, deletionFor("tab-a")))
	_, ok := <-sub.Events()
	s.False(ok)
}

func (s *FeedSuite) TestClosingOneLeavesOthersSubscribed() {
	closed, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	open, err := s.feed.Subscribe(s.ctx, "tab-a")
	s.Require().NoError(err)
	defer open.Close()
	closed.Close()

	s.Require().NoError(s.feed.Publish(s.ctx, deletionFor("tab-a")))
	_, ok := s.receive(open)
	s.True(ok)
}

func TestBus_WatchingTracksSubscriptions(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(context.Background(), "tab-a")
	if err != nil {
		t.Fatal(err)
	}
	if !bus.Watching("tab-a") {
		t.Fatal("expected tab-a to be watched")
	}
	sub.Close()
	if bus.Watching("tab-a") {
		t.Fatal("expected tab-a to be released")
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(context.Background(), "tab-a")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for range subscriberBuffer * 3 {
			_ = bus.Publish(context.Background(), deletionFor("tab-a"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if got := len(sub.Events()); got != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, got)
	}
}
