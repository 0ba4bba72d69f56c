// Package main simulates admin browser tabs against a running API: it opens
// tabs, signs them in and reports what each tab's screen is asked to show as
// sessions end elsewhere.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acsadmin/internal/directory"
	"acsadmin/internal/platform/logger"
	"acsadmin/internal/tabsession"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type common struct {
	server     string
	identifier string
	password   string
	userAgent  string
	ip         string
	directory  string
	logLevel   string
}

func (c *common) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.server, "server", "http://localhost:8080", "API base URL")
	fs.StringVar(&c.identifier, "identifier", "", "Admin email or code, e.g. ACS-07")
	fs.StringVar(&c.password, "password", os.Getenv("TABSIM_PASSWORD"), "Password (or TABSIM_PASSWORD)")
	fs.StringVar(&c.userAgent, "ua", defaultUserAgent, "User agent the browser reports")
	fs.StringVar(&c.ip, "ip", "", "Client IP sent as X-Forwarded-For")
	fs.StringVar(&c.directory, "directory", "", "SQLite file for remembered accounts; in-memory when empty")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "logout-all":
		err = runLogoutAll(ctx, os.Args[2:])
	case "accounts":
		err = runAccounts(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tabsim - Simulate admin browser tabs against the ACS admin API

Usage:
  tabsim <command> [flags]

Commands:
  watch        Sign in one or more tabs and report until every tab has ended
  logout-all   Sign in a tab, then end every session of the account
  accounts     List accounts remembered in a directory file

Examples:
  # Two tabs on one laptop, ended when another device logs out everywhere
  tabsim watch -identifier ACS-07 -password secret -tabs 2

  # From another terminal
  tabsim logout-all -identifier ACS-07 -password secret -ip 198.51.100.20`)
}

func runWatch(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	c.bind(fs)
	tabs := fs.Int("tabs", 1, "Number of tabs to open")
	heartbeat := fs.Duration("heartbeat", tabsession.DefaultHeartbeatInterval, "Heartbeat interval")
	poll := fs.Duration("poll", tabsession.DefaultPollInterval, "Validity poll interval")
	_ = fs.Parse(args) //nolint:errcheck // ExitOnError

	log := logger.New(c.logLevel)
	browser, closeDir, err := c.browser(log, tabsession.Config{HeartbeatInterval: *heartbeat, PollInterval: *poll})
	if err != nil {
		return err
	}
	defer closeDir()

	open := make([]*tabsession.Tab, 0, *tabs)
	defer func() {
		for _, tab := range open {
			tab.Close()
		}
	}()
	for i := range *tabs {
		tab := browser.OpenTab(tabsession.WithScreen(newLogScreen(log.With("tab", i+1))))
		cred, err := tab.Login(ctx, c.identifier, c.password)
		if err != nil {
			return fmt.Errorf("tab %d sign-in: %w", i+1, err)
		}
		open = append(open, tab)
		log.Info("tab signed in", "tab", i+1, "account", cred.Code, "device", browser.DeviceInfo())
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted, logging out remaining tabs")
			for _, tab := range open {
				if tab.Ended() || tab.Credential() == nil {
					continue
				}
				if err := tab.Logout(context.WithoutCancel(ctx)); err != nil {
					log.Warn("logout failed", "error", err)
				}
			}
			return nil
		case <-ticker.C:
			if allEnded(open) {
				log.Info("every tab ended")
				return nil
			}
		}
	}
}

func allEnded(tabs []*tabsession.Tab) bool {
	for _, tab := range tabs {
		if !tab.Ended() {
			return false
		}
	}
	return true
}

func runLogoutAll(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("logout-all", flag.ExitOnError)
	c.bind(fs)
	_ = fs.Parse(args) //nolint:errcheck // ExitOnError

	log := logger.New(c.logLevel)
	browser, closeDir, err := c.browser(log, tabsession.DefaultConfig())
	if err != nil {
		return err
	}
	defer closeDir()

	tab := browser.OpenTab(tabsession.WithScreen(newLogScreen(log)))
	defer tab.Close()
	if _, err := tab.Login(ctx, c.identifier, c.password); err != nil {
		return fmt.Errorf("sign-in: %w", err)
	}
	if err := tab.LogoutAll(ctx); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	log.Info("every session of the account ended")
	return nil
}

func runAccounts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	path := fs.String("directory", "", "SQLite file for remembered accounts")
	_ = fs.Parse(args) //nolint:errcheck // ExitOnError
	if *path == "" {
		return errors.New("-directory is required")
	}

	store, err := directory.OpenSQLite(*path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := directory.New(store).List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No remembered accounts")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("[%s %s] %-8s %-24s %s  last used %s\n",
			e.Initial, e.Color, e.Code, e.FullName, e.Email, e.LastUsedAt.Format(time.RFC3339))
	}
	return nil
}

func (c *common) browser(log *slog.Logger, cfg tabsession.Config) (*tabsession.Browser, func(), error) {
	if c.identifier == "" || c.password == "" {
		return nil, nil, errors.New("-identifier and -password are required")
	}

	var (
		store    directory.Store = directory.NewInMemory()
		closeDir                 = func() {}
	)
	if c.directory != "" {
		sqlite, err := directory.OpenSQLite(c.directory)
		if err != nil {
			return nil, nil, err
		}
		store = sqlite
		closeDir = func() {
			if err := sqlite.Close(); err != nil {
				log.Warn("failed to close directory", "error", err)
			}
		}
	}

	remote := tabsession.NewRemote(tabsession.RemoteConfig{
		BaseURL:      c.server,
		UserAgent:    c.userAgent,
		ForwardedFor: c.ip,
	})
	browser := tabsession.NewBrowser(remote, directory.New(store),
		tabsession.WithUserAgent(c.userAgent),
		tabsession.WithIP(c.ip),
		tabsession.WithConfig(cfg),
		tabsession.WithLogger(log),
	)
	return browser, closeDir, nil
}

// logScreen shows notices and navigations as log lines.
type logScreen struct {
	log *slog.Logger
}

func newLogScreen(log *slog.Logger) *logScreen {
	return &logScreen{log: log}
}

func (s *logScreen) Notify(title, message string) {
	s.log.Warn(title, "message", message)
}

func (s *logScreen) Navigate(path string) {
	s.log.Info("navigate", "path", path)
}
