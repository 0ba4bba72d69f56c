package audit

import (
	"context"
	"log/slog"
	"time"

	"acsadmin/internal/platform/middleware"
	"acsadmin/internal/platform/privacy"
)

// Logger writes an audit line to the text log and forwards the event to an Emitter.
// Services hold a Logger rather than an Emitter so both sinks stay in step.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. emitter may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{textLogger: textLogger, emitter: emitter}
}

// Record enriches the event with the request ID and timestamp, anonymizes the
// IP address, logs it and emits it. Emission failures are logged, never returned.
func (l *Logger) Record(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.IPAddress != "" {
		event.IPAddress = privacy.AnonymizeIP(event.IPAddress)
	}

	if l.textLogger != nil {
		l.textLogger.InfoContext(ctx, string(event.Action),
			"log_type", "audit",
			"account_id", event.AccountID.String(),
			"subject", event.Subject,
			"device", event.Device,
			"ip", event.IPAddress,
			"reason", event.Reason,
			"request_id", event.RequestID,
		)
	}

	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, event); err != nil && l.textLogger != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
		)
	}
}
