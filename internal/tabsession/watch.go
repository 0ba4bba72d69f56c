package tabsession

import (
	"context"
	"time"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/platform/privacy"
	id "acsadmin/pkg/domain"
)

// startWatchers replaces any running watchers with a push listener on the
// token's deletions, the fallback poll and the heartbeat. The feed is
// subscribed before returning so a deletion right after login is not missed.
func (t *Tab) startWatchers(ctx context.Context, cred *Credential, token id.SessionToken) {
	t.stopWatchers()
	if cred == nil || token == "" {
		return
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	t.stopWatch = cancel
	t.mu.Unlock()
	t.browser.watchStarted()

	sub, err := t.backend.Watch(watchCtx, cred, token)
	if err != nil {
		t.logger.WarnContext(ctx, "realtime watch unavailable, relying on polling",
			"error", err,
			"tab", privacy.MaskToken(token.String()),
		)
	} else {
		t.watchers.Go(func() { t.listen(watchCtx, sub) })
	}

	t.watchers.Go(func() { t.every(watchCtx, t.browser.cfg.PollInterval, t.CheckValidity) })
	t.watchers.Go(func() { t.every(watchCtx, t.browser.cfg.HeartbeatInterval, t.Touch) })
}

func (t *Tab) stopWatchers() {
	t.mu.Lock()
	cancel := t.stopWatch
	t.stopWatch = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.browser.watchStopped()
	}
}

// listen ends the tab on the first deletion not caused by this tab itself.
// Events that arrive after the watchers were stopped belong to a row the tab
// already let go of.
func (t *Tab) listen(ctx context.Context, sub feed.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok || ctx.Err() != nil {
				return
			}
			if t.selfLogout.Load() {
				continue
			}
			t.terminate(ctx, SourcePush)
			return
		}
	}
}

func (t *Tab) every(ctx context.Context, interval time.Duration, fn func(context.Context) Outcome) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
