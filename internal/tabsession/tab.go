package tabsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"acsadmin/internal/directory"
	"acsadmin/internal/platform/privacy"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

// Termination states. A tab moves forward only, and only the first
// transition out of stateLive runs side effects.
const (
	stateLive int32 = iota
	stateTerminating
	stateTerminated
)

// Detection sources for a remote termination.
const (
	SourcePush = "push"
	SourcePoll = "poll"
)

// Operation labels for background outcomes.
const (
	opRegister = "register"
	opTouch    = "touch"
	opActivity = "activity"
	opCheck    = "check"
)

// Tab is one browser tab. Its token, credential and watchers are private to
// it; nothing a tab does reads another tab's storage.
type Tab struct {
	browser *Browser
	backend Backend
	store   TabStore
	screen  Screen
	logger  *slog.Logger

	mu           sync.Mutex
	token        id.SessionToken
	cred         *Credential
	visible      bool
	lastActivity time.Time
	stopWatch    context.CancelFunc

	watchers   sync.WaitGroup
	selfLogout atomic.Bool
	state      atomic.Int32
}

// Screen returns where the tab shows notices and navigates.
func (t *Tab) Screen() Screen { return t.screen }

// Store returns the tab's transient storage.
func (t *Tab) Store() TabStore { return t.store }

// Token is the in-memory tab token, empty when none has been allocated.
func (t *Tab) Token() id.SessionToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// Credential is the tab's bearer, nil when signed out.
func (t *Tab) Credential() *Credential {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cred
}

// Ended reports whether a remote termination has run.
func (t *Tab) Ended() bool {
	return t.state.Load() != stateLive
}

// SetVisible records whether the tab is in the foreground. Hidden tabs skip
// heartbeats and validity checks.
func (t *Tab) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = visible
}

// EnsureTabID returns the tab token, restoring it from transient storage or
// allocating a fresh random one.
func (t *Tab) EnsureTabID() id.SessionToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureTabIDLocked()
}

func (t *Tab) ensureTabIDLocked() id.SessionToken {
	if t.token != "" {
		return t.token
	}
	if v, ok := t.store.Get(keyTabID); ok && v != "" {
		t.token = id.SessionToken(v)
		return t.token
	}
	return t.rotateLocked()
}

func (t *Tab) rotateLocked() id.SessionToken {
	t.token = id.NewSessionToken()
	t.store.Set(keyTabID, t.token.String())
	return t.token
}

func (t *Tab) snapshot() (*Credential, id.SessionToken, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cred, t.token, t.visible
}

func (t *Tab) setCredential(cred *Credential) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cred = cred
	if data, err := json.Marshal(cred); err == nil {
		t.store.Set(keyCredential, string(data))
	}
}

// clearLocal drops this tab's token and credential, in memory and in storage.
func (t *Tab) clearLocal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.cred = nil
	t.store.Remove(keyTabID)
	t.store.Remove(keyCredential)
}

func (t *Tab) resetTermination() {
	t.selfLogout.Store(false)
	t.state.Store(stateLive)
}

// Login signs in with an email or ACS-NN code, registers this tab's row,
// remembers the account on the device and starts the termination watchers.
// Signing in over another account's session ends that account's row first.
func (t *Tab) Login(ctx context.Context, identifier, password string) (*Credential, error) {
	cred, err := t.backend.SignIn(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	prev, prevToken, _ := t.snapshot()
	replacing := prev != nil && prev.AccountID != cred.AccountID

	t.selfLogout.Store(replacing)
	t.stopWatchers()
	if replacing && prevToken != "" {
		if err := t.backend.Delete(ctx, prev, prevToken); err != nil {
			t.logger.WarnContext(ctx, "failed to delete previous account's row", "error", err)
		}
	}
	t.resetTermination()
	t.setCredential(cred)
	t.register(ctx, cred, replacing)
	t.remember(ctx, cred)
	t.startWatchers(ctx, cred, t.Token())
	t.screen.Navigate(DashboardPath)

	t.logger.InfoContext(ctx, "tab signed in",
		"account_id", cred.AccountID.String(),
		"tab", privacy.MaskToken(t.Token().String()),
	)
	return cred, nil
}

// Register ties the tab to accountID's ledger. An existing row for the tab's
// token is refreshed; otherwise the token is rotated and a new row inserted.
// Failures never block the caller.
func (t *Tab) Register(ctx context.Context, accountID id.AccountID) Outcome {
	cred, _, _ := t.snapshot()
	if cred == nil || cred.AccountID != accountID {
		return t.browser.observe(opRegister, Outcome{Disposition: Skipped, Err: ErrNotSignedIn})
	}
	return t.register(ctx, cred, false)
}

// register with fresh set skips the lookup and always inserts under a new token.
func (t *Tab) register(ctx context.Context, cred *Credential, fresh bool) Outcome {
	deviceInfo := t.browser.DeviceInfo()

	if !fresh {
		token := t.EnsureTabID()
		row, err := t.backend.Lookup(ctx, cred, token)
		if err != nil {
			// An unreadable ledger is treated as "no row"; a new one is inserted.
			t.logger.WarnContext(ctx, "session lookup failed during registration", "error", err)
		}
		if err == nil && row != nil {
			if err := t.backend.Touch(ctx, cred, token, deviceInfo); err != nil {
				return t.recovered(ctx, opRegister, err)
			}
			return t.browser.observe(opRegister, Outcome{Disposition: Succeeded})
		}
	}

	t.mu.Lock()
	token := t.rotateLocked()
	t.mu.Unlock()

	client := Client{DeviceInfo: deviceInfo, IPAddress: t.browser.IP, UserAgent: t.browser.UserAgent}
	if err := t.backend.Insert(ctx, cred, token, client); err != nil {
		return t.recovered(ctx, opRegister, err)
	}
	t.logger.DebugContext(ctx, "tab session registered", "tab", privacy.MaskToken(token.String()))
	return t.browser.observe(opRegister, Outcome{Disposition: Succeeded})
}

// Touch refreshes last_active for this tab's row. It never creates a row.
func (t *Tab) Touch(ctx context.Context) Outcome {
	return t.touch(ctx, opTouch)
}

// Activity is Touch driven by user input, throttled to one refresh per
// ActivityThrottle.
func (t *Tab) Activity(ctx context.Context) Outcome {
	now := t.browser.now()
	t.mu.Lock()
	if !t.lastActivity.IsZero() && now.Sub(t.lastActivity) < t.browser.cfg.ActivityThrottle {
		t.mu.Unlock()
		return t.browser.observe(opActivity, Outcome{Disposition: Skipped, Err: ErrThrottled})
	}
	t.lastActivity = now
	t.mu.Unlock()
	return t.touch(ctx, opActivity)
}

func (t *Tab) touch(ctx context.Context, op string) Outcome {
	cred, token, visible := t.snapshot()
	if skip := t.skipReason(cred, token, visible); skip != nil {
		return t.browser.observe(op, Outcome{Disposition: Skipped, Err: skip})
	}
	if err := t.backend.Touch(ctx, cred, token, ""); err != nil {
		return t.recovered(ctx, op, err)
	}
	return t.browser.observe(op, Outcome{Disposition: Succeeded})
}

// CheckValidity is the fallback poll. A missing row ends the tab, and so does
// a rejected bearer: after a global sign-out the row can no longer be read.
// Any other lookup failure is logged and the session is assumed still valid.
func (t *Tab) CheckValidity(ctx context.Context) Outcome {
	cred, token, visible := t.snapshot()
	if skip := t.skipReason(cred, token, visible); skip != nil {
		return t.browser.observe(opCheck, Outcome{Disposition: Skipped, Err: skip})
	}
	row, err := t.backend.Lookup(ctx, cred, token)
	if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		t.logger.InfoContext(ctx, "tab bearer rejected, ending session", "error", err)
		row, err = nil, nil
	}
	if err != nil {
		return t.recovered(ctx, opCheck, err)
	}
	if row == nil {
		t.terminate(ctx, SourcePoll)
	}
	return t.browser.observe(opCheck, Outcome{Disposition: Succeeded})
}

func (t *Tab) skipReason(cred *Credential, token id.SessionToken, visible bool) error {
	switch {
	case cred == nil || token == "":
		return ErrNotSignedIn
	case t.selfLogout.Load():
		return ErrLoggingOut
	case t.Ended():
		return ErrTerminated
	case !visible:
		return ErrHidden
	}
	return nil
}

func (t *Tab) recovered(ctx context.Context, op string, err error) Outcome {
	t.logger.WarnContext(ctx, "tab session operation failed", "operation", op, "error", err)
	return t.browser.observe(op, Outcome{Disposition: Recovered, Err: err})
}

// terminate runs the remote-logout side effects once. Later signals, from
// either source, are counted and dropped.
func (t *Tab) terminate(ctx context.Context, source string) bool {
	if t.selfLogout.Load() {
		return false
	}
	if !t.state.CompareAndSwap(stateLive, stateTerminating) {
		t.browser.terminated(source, false)
		return false
	}
	_, token, _ := t.snapshot()

	t.stopWatchers()
	t.clearLocal()
	t.screen.Notify(RemoteLogoutTitle, RemoteLogoutMessage)
	t.screen.Navigate(SignInPath)
	t.state.Store(stateTerminated)

	t.browser.terminated(source, true)
	t.logger.InfoContext(ctx, "tab session ended remotely",
		"source", source,
		"tab", privacy.MaskToken(token.String()),
	)
	return true
}

// Logout ends this tab only. Other tabs of the same account, in this browser
// or elsewhere, keep their sessions.
func (t *Tab) Logout(ctx context.Context) error {
	t.selfLogout.Store(true)
	t.stopWatchers()

	cred, token, _ := t.snapshot()
	if cred != nil && token != "" {
		if err := t.backend.Delete(ctx, cred, token); err != nil {
			t.selfLogout.Store(false)
			t.startWatchers(ctx, cred, token)
			t.logger.WarnContext(ctx, "logout failed", "error", err)
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to end session")
		}
	}

	t.clearLocal()
	t.screen.Navigate(SignInPath)
	return nil
}

// LogoutAll ends every session of the account on every device, invalidates
// its bearers and forgets the account on this device.
func (t *Tab) LogoutAll(ctx context.Context) error {
	cred, token, _ := t.snapshot()
	if cred == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "not signed in")
	}

	t.selfLogout.Store(true)
	t.stopWatchers()

	if err := t.backend.DeleteAll(ctx, cred); err != nil {
		t.selfLogout.Store(false)
		t.startWatchers(ctx, cred, token)
		t.logger.WarnContext(ctx, "logout all failed", "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to end sessions")
	}

	// The only caller of the global sign-out.
	signOutErr := t.backend.GlobalSignOut(ctx, cred)
	if signOutErr != nil {
		t.logger.WarnContext(ctx, "global sign-out failed after sessions were deleted", "error", signOutErr)
	}
	if err := t.browser.Directory.Forget(ctx, cred.AccountID); err != nil {
		t.logger.WarnContext(ctx, "failed to forget account on device", "error", err)
	}

	t.clearLocal()
	t.screen.Navigate(SignInPath)

	if signOutErr != nil {
		return dErrors.Wrap(signOutErr, dErrors.CodeUnavailable, "sessions ended but global sign-out failed")
	}
	return nil
}

// SwitchTo signs this tab into another saved account. The password is always
// asked for; on failure the current session is left exactly as it was.
func (t *Tab) SwitchTo(ctx context.Context, entry directory.Entry, password string) error {
	identifier := entry.Email
	if identifier == "" {
		identifier = entry.Code.String()
	}
	next, err := t.backend.SignIn(ctx, identifier, password)
	if err != nil {
		return err
	}

	prev, prevToken, _ := t.snapshot()

	t.selfLogout.Store(true)
	t.stopWatchers()
	t.setCredential(next)
	t.register(ctx, next, true)

	if prev != nil && prevToken != "" {
		if err := t.backend.Delete(ctx, prev, prevToken); err != nil {
			t.logger.WarnContext(ctx, "failed to delete previous account's row", "error", err)
		}
	}

	t.resetTermination()
	t.startWatchers(ctx, next, t.Token())
	t.remember(ctx, next)
	t.screen.Navigate(DashboardPath)

	t.logger.InfoContext(ctx, "tab switched account",
		"account_id", next.AccountID.String(),
		"tab", privacy.MaskToken(t.Token().String()),
	)
	return nil
}

func (t *Tab) remember(ctx context.Context, cred *Credential) {
	if _, err := t.browser.Directory.Remember(ctx, cred.account()); err != nil {
		t.logger.WarnContext(ctx, "failed to remember account on device", "error", err)
	}
}

// Close stops the tab's watchers and waits for them to exit. Storage is kept,
// as when a browser tab is closed.
func (t *Tab) Close() {
	t.stopWatchers()
	t.watchers.Wait()
}
