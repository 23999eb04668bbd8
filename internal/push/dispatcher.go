package push

import (
	"context"
	"log/slog"
)

// Pusher delivers one event to one session.
type Pusher interface {
	Push(ctx context.Context, sid, event string, payload any) error
}

// Dispatcher fans an event out to a list of session ids. A failure for one
// recipient (disconnected session, full queue) is logged and swallowed; it
// never aborts delivery to the rest. No retries, no ordering across sids.
type Dispatcher struct {
	pusher Pusher
	logger *slog.Logger
}

// NewDispatcher wraps a pusher with fan-out semantics.
func NewDispatcher(p Pusher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pusher: p, logger: logger}
}

// Emit delivers event to every sid independently.
func (d *Dispatcher) Emit(ctx context.Context, sids []string, event string, payload map[string]any) {
	for _, sid := range sids {
		if err := d.pusher.Push(ctx, sid, event, payload); err != nil {
			d.logger.Debug("dispatch failed", "sid", sid, "event", event, "error", err)
		}
	}
}
