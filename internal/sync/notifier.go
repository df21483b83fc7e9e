package sync

import "log/slog"

// Notifier is invoked when new inbound messages are observed on a
// session the agent is not looking at. Implementations may fail
// silently; a broken alert must never fail a synchronization tick.
type Notifier interface {
	NewInboundMessage(sessionID string)
}

// SlogNotifier logs new-activity alerts. A UI replaces this with an
// audible or visual alert.
type SlogNotifier struct{}

// NewInboundMessage logs the alert.
func (SlogNotifier) NewInboundMessage(sessionID string) {
	slog.Info("new inbound message", "session_id", sessionID)
}

// safeNotify shields the synchronizer from notifier panics.
func safeNotify(n Notifier, sessionID string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("notifier panicked", "session_id", sessionID, "panic", r)
		}
	}()
	n.NewInboundMessage(sessionID)
}
