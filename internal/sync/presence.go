package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PresenceSetter is the store operation the controller depends on.
type PresenceSetter interface {
	SetPresence(ctx context.Context, online bool) error
}

// PresenceController tracks the agent's online/offline flag. The local
// state only flips after the store confirms the update; on failure the
// previous state is kept and the error is returned so the caller can
// retry.
type PresenceController struct {
	mu     sync.RWMutex
	store  PresenceSetter
	online bool
}

// NewPresenceController creates a controller starting offline.
func NewPresenceController(store PresenceSetter) *PresenceController {
	return &PresenceController{store: store}
}

// SetOnline updates the flag on the store and, on success, locally.
func (p *PresenceController) SetOnline(ctx context.Context, online bool) error {
	if err := p.store.SetPresence(ctx, online); err != nil {
		return fmt.Errorf("presence update failed: %w", err)
	}

	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
	return nil
}

// Online returns the last successfully confirmed state.
func (p *PresenceController) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

const shutdownTimeout = 3 * time.Second

// Shutdown makes a best-effort attempt to go offline. It never blocks
// past its own deadline; a failure is logged, not returned.
func (p *PresenceController) Shutdown() {
	if !p.Online() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := p.SetOnline(ctx, false); err != nil {
		slog.Warn("best-effort offline on shutdown failed", "error", err)
	}
}
