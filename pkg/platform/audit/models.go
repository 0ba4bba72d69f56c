package audit

import (
	"context"
	"time"

	id "acsadmin/pkg/domain"
)

// Event is emitted from domain logic to capture account and session lifecycle
// actions. It stays transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time    `json:"timestamp"`
	AccountID id.AccountID `json:"account_id"`
	Action    Action       `json:"action"`

	// Subject is the identifier the caller used: email, account code or masked token.
	Subject   string `json:"subject,omitempty"`
	Device    string `json:"device,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Action string

const (
	ActionAccountCreated      Action = "account_created"
	ActionAccountActivated    Action = "account_activated"
	ActionActivationRejected  Action = "activation_rejected"
	ActionVerificationSent    Action = "verification_sent"
	ActionSignInSucceeded     Action = "signin_succeeded"
	ActionSignInFailed        Action = "signin_failed"
	ActionSignInLocked        Action = "signin_locked"
	ActionSignedOutEverywhere Action = "signed_out_everywhere"
	ActionSessionRegistered   Action = "session_registered"
	ActionSessionEnded        Action = "session_ended"
	ActionSessionsEndedAll    Action = "sessions_ended_all"
	ActionSessionsPurged      Action = "sessions_purged"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]Event, error)
}

// Emitter is satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
