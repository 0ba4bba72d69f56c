package tabsession

import "errors"

// Disposition classifies how a background operation ended.
type Disposition string

const (
	// Succeeded means the operation reached the backend and took effect.
	Succeeded Disposition = "succeeded"
	// Skipped means a precondition made the operation a no-op. No network
	// call was made.
	Skipped Disposition = "skipped"
	// Recovered means the operation failed and the tab carried on. The error
	// has been logged.
	Recovered Disposition = "recovered"
	// Surfaced means the caller must show the error to the user.
	Surfaced Disposition = "surfaced"
)

// Outcome is the result of registration, heartbeat and validity checks.
// Foreground operations (login, logout, switch) return plain errors instead.
type Outcome struct {
	Disposition Disposition
	Err         error
}

func (o Outcome) OK() bool { return o.Disposition == Succeeded }

var (
	// ErrNotSignedIn is the Skipped reason when the tab holds no credential.
	ErrNotSignedIn = errors.New("tab is not signed in")
	ErrHidden      = errors.New("tab is not visible")
	ErrLoggingOut  = errors.New("tab is logging out")
	ErrTerminated  = errors.New("tab session has ended")
	ErrThrottled   = errors.New("activity update throttled")
)
