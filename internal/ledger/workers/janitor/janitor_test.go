package janitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/service"
	"acsadmin/internal/ledger/store"
	id "acsadmin/pkg/domain"
	"acsadmin/pkg/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestJanitor_RunOnce_ReapsOnlyStaleRows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rows := store.NewInMemory()
	bus := feed.NewBus(quiet)
	ledger, err := service.New(rows, bus, service.WithLogger(quiet))
	require.NoError(t, err)

	account := id.NewAccountID()
	require.NoError(t, rows.Insert(ctx, testutil.NewRow(account).WithToken("crashed").WithLastActive(now.Add(-25*time.Hour)).Build()))
	require.NoError(t, rows.Insert(ctx, testutil.NewRow(account).WithToken("idle-but-fresh").WithLastActive(now.Add(-23*time.Hour)).Build()))
	require.NoError(t, rows.Insert(ctx, testutil.NewRow(account).WithToken("live").WithLastActive(now).Build()))

	// A tab still watching a stale row learns about the reap through the feed.
	sub, err := bus.Subscribe(ctx, "crashed")
	require.NoError(t, err)
	defer sub.Close()

	j, err := New(ledger, WithStaleAfter(24*time.Hour), WithLogger(quiet), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case d := <-sub.Events():
		assert.Equal(t, id.SessionToken("crashed"), d.SessionToken)
	case <-time.After(time.Second):
		t.Fatal("stale deletion was not published")
	}

	remaining, err := rows.ListByAccount(ctx, account)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestJanitor_ZeroStaleAfterDisables(t *testing.T) {
	p := &countingPurger{}
	j, err := New(p, WithStaleAfter(0))
	require.NoError(t, err)
	assert.False(t, j.Enabled())

	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.calls)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, j.Start(ctx), context.DeadlineExceeded)
}

func TestJanitor_RunOnceReportsFailure(t *testing.T) {
	obs := &recordingObserver{}
	j, err := New(&countingPurger{err: errors.New("db down")}, WithObserver(obs), WithLogger(quiet))
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, []bool{false}, obs.runs)
}

func TestJanitor_StartSweepsOnInterval(t *testing.T) {
	p := &countingPurger{}
	j, err := New(p, WithInterval(5*time.Millisecond), WithLogger(quiet))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = j.Start(ctx)
	assert.GreaterOrEqual(t, p.calls, 2)
}

func TestNew_RequiresPurger(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

type countingPurger struct {
	calls int
	err   error
}

func (p *countingPurger) PurgeStale(context.Context, time.Time) (int, error) {
	p.calls++
	return 0, p.err
}

type recordingObserver struct{ runs []bool }

func (o *recordingObserver) ObserveJanitorRun(ok bool) { o.runs = append(o.runs, ok) }
