package tabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cucumber/godog"

	"acsadmin/internal/directory"
	"acsadmin/internal/tabsession"
)

const settle = 3 * time.Second

var userAgents = map[string]string{
	"Chrome on macOS":    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Firefox on Windows": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Safari on iOS":      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GetBaseURL() string
	PasswordFor(identifier string) string
	Do(method, path string, body any, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers browser and tab steps. Tabs talk to the API over
// HTTP and the websocket feed exactly like the admin panel does.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &tabSteps{tc: tc, browsers: map[string]*tabsession.Browser{}, tabs: map[string]*tabsession.Tab{},
		browserOf: map[string]*tabsession.Browser{},
	}

	ctx.Step(`^a browser "([^"]*)" running (.+)$`, steps.browserRunning)
	ctx.Step(`^tab "([^"]*)" signs in as "([^"]*)" in browser "([^"]*)"$`, steps.tabSignsIn)
	ctx.Step(`^tab "([^"]*)" logs out$`, steps.tabLogsOut)
	ctx.Step(`^tab "([^"]*)" logs out of all devices$`, steps.tabLogsOutAll)
	ctx.Step(`^tab "([^"]*)" switches to "([^"]*)"$`, steps.tabSwitches)
	ctx.Step(`^tab "([^"]*)" should show "([^"]*)"$`, steps.tabShouldShow)
	ctx.Step(`^tab "([^"]*)" should show nothing$`, steps.tabShouldShowNothing)
	ctx.Step(`^tab "([^"]*)" should be on "([^"]*)"$`, steps.tabShouldBeOn)
	ctx.Step(`^tab "([^"]*)" should still be signed in as "([^"]*)"$`, steps.tabStillSignedIn)
	ctx.Step(`^"([^"]*)" should have (\d+) active sessions?$`, steps.activeSessions)
	ctx.Step(`^browser "([^"]*)" should remember (\d+) accounts?$`, steps.remembers)

	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		for _, tab := range steps.tabs {
			tab.Close()
		}
		return ctx, err
	})
}

type tabSteps struct {
	tc       TestContext
	browsers map[string]*tabsession.Browser
	tabs     map[string]*tabsession.Tab
	// browserOf maps a tab name to the browser it was opened in.
	browserOf map[string]*tabsession.Browser
}

func (s *tabSteps) browserRunning(ctx context.Context, name, device string) error {
	ua, ok := userAgents[device]
	if !ok {
		return fmt.Errorf("unknown device %q", device)
	}
	remote := tabsession.NewRemote(tabsession.RemoteConfig{BaseURL: s.tc.GetBaseURL(), UserAgent: ua})
	s.browsers[name] = tabsession.NewBrowser(remote, directory.New(directory.NewInMemory()),
		tabsession.WithUserAgent(ua),
		tabsession.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		// Push delivers remote terminations; the poll is a slow safety net.
		tabsession.WithConfig(tabsession.Config{HeartbeatInterval: time.Minute, PollInterval: time.Second}),
	)
	return nil
}

func (s *tabSteps) tab(name string) (*tabsession.Tab, error) {
	tab, ok := s.tabs[name]
	if !ok {
		return nil, fmt.Errorf("no tab %q", name)
	}
	return tab, nil
}

func (s *tabSteps) tabSignsIn(ctx context.Context, tabName, identifier, browserName string) error {
	browser, ok := s.browsers[browserName]
	if !ok {
		return fmt.Errorf("no browser %q", browserName)
	}
	tab := browser.OpenTab()
	if _, err := tab.Login(ctx, identifier, s.tc.PasswordFor(identifier)); err != nil {
		return fmt.Errorf("tab %s sign-in: %w", tabName, err)
	}
	s.tabs[tabName] = tab
	s.browserOf[tabName] = browser
	return nil
}

func (s *tabSteps) tabLogsOut(ctx context.Context, name string) error {
	tab, err := s.tab(name)
	if err != nil {
		return err
	}
	return tab.Logout(ctx)
}

func (s *tabSteps) tabLogsOutAll(ctx context.Context, name string) error {
	tab, err := s.tab(name)
	if err != nil {
		return err
	}
	return tab.LogoutAll(ctx)
}

func (s *tabSteps) tabSwitches(ctx context.Context, name, email string) error {
	tab, err := s.tab(name)
	if err != nil {
		return err
	}
	cred := tab.Credential()
	if cred == nil {
		return fmt.Errorf("tab %s is not signed in", name)
	}
	others, err := s.browserOf[name].Directory.Others(ctx, cred.AccountID)
	if err != nil {
		return err
	}
	for _, entry := range others {
		if entry.Email == email {
			return tab.SwitchTo(ctx, entry, s.tc.PasswordFor(email))
		}
	}
	return fmt.Errorf("%s is not a remembered account", email)
}

func (s *tabSteps) recorder(name string) (*tabsession.Recorder, error) {
	tab, err := s.tab(name)
	if err != nil {
		return nil, err
	}
	rec, ok := tab.Screen().(*tabsession.Recorder)
	if !ok {
		return nil, fmt.Errorf("tab %s has no recording screen", name)
	}
	return rec, nil
}

func (s *tabSteps) tabShouldShow(ctx context.Context, name, title string) error {
	rec, err := s.recorder(name)
	if err != nil {
		return err
	}
	return eventually(func() error {
		notices := rec.Notices()
		for _, n := range notices {
			if n.Title == title {
				return nil
			}
		}
		return fmt.Errorf("tab %s was shown %v, want %q", name, notices, title)
	})
}

func (s *tabSteps) tabShouldShowNothing(ctx context.Context, name string) error {
	rec, err := s.recorder(name)
	if err != nil {
		return err
	}
	if notices := rec.Notices(); len(notices) > 0 {
		return fmt.Errorf("tab %s was shown %v", name, notices)
	}
	return nil
}

func (s *tabSteps) tabShouldBeOn(ctx context.Context, name, path string) error {
	rec, err := s.recorder(name)
	if err != nil {
		return err
	}
	return eventually(func() error {
		if loc := rec.Location(); loc != path {
			return fmt.Errorf("tab %s is on %s, want %s", name, loc, path)
		}
		return nil
	})
}

func (s *tabSteps) tabStillSignedIn(ctx context.Context, name, email string) error {
	tab, err := s.tab(name)
	if err != nil {
		return err
	}
	cred := tab.Credential()
	if tab.Ended() || cred == nil {
		return fmt.Errorf("tab %s is no longer signed in", name)
	}
	if cred.Email != email {
		return fmt.Errorf("tab %s is signed in as %s, want %s", name, cred.Email, email)
	}
	if out := tab.CheckValidity(ctx); !out.OK() {
		return fmt.Errorf("tab %s failed its validity check: %v", name, out.Err)
	}
	return nil
}

// activeSessions signs in afresh, since a sign-out everywhere revokes the
// bearers the tabs held.
func (s *tabSteps) activeSessions(ctx context.Context, email string, want int) error {
	err := s.tc.Do(http.MethodPost, "/auth/token", map[string]string{
		"identifier": email,
		"password":   s.tc.PasswordFor(email),
	}, nil)
	if err != nil {
		return err
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &token); err != nil || token.AccessToken == "" {
		return fmt.Errorf("sign-in for %s failed: %s", email, s.tc.GetLastResponseBody())
	}

	return eventually(func() error {
		if err := s.tc.Do(http.MethodGet, "/sessions", nil, map[string]string{"Authorization": "Bearer " + token.AccessToken}); err != nil {
			return err
		}
		var list struct {
			Sessions []json.RawMessage `json:"sessions"`
		}
		if err := json.Unmarshal(s.tc.GetLastResponseBody(), &list); err != nil {
			return err
		}
		if len(list.Sessions) != want {
			return fmt.Errorf("%s has %d active sessions, want %d", email, len(list.Sessions), want)
		}
		return nil
	})
}

func (s *tabSteps) remembers(ctx context.Context, name string, want int) error {
	browser, ok := s.browsers[name]
	if !ok {
		return fmt.Errorf("no browser %q", name)
	}
	entries, err := browser.Directory.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) != want {
		return fmt.Errorf("browser %s remembers %d accounts, want %d", name, len(entries), want)
	}
	return nil
}

func eventually(check func() error) error {
	deadline := time.Now().Add(settle)
	for {
		err := check()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
}
