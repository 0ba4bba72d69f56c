package tabsession

import "time"

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 30 * time.Second
	DefaultActivityThrottle  = time.Minute
)

// Paths the tab navigates to.
const (
	SignInPath    = "/"
	DashboardPath = "/dashboard"
)

// Notice shown when another device ends this tab's session.
const (
	RemoteLogoutTitle   = "Session Ended"
	RemoteLogoutMessage = "Your session was logged out from another device."
)

type Config struct {
	// HeartbeatInterval paces last_active refreshes while the tab is visible.
	HeartbeatInterval time.Duration
	// PollInterval paces the fallback validity check.
	PollInterval time.Duration
	// ActivityThrottle is the minimum gap between input-driven refreshes.
	ActivityThrottle time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PollInterval:      DefaultPollInterval,
		ActivityThrottle:  DefaultActivityThrottle,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ActivityThrottle < 0 {
		c.ActivityThrottle = d.ActivityThrottle
	}
	return c
}
