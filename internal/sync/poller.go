package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avoronin/chatdesk/internal/client"
	"github.com/avoronin/chatdesk/internal/domain"
)

// StoreClient is the subset of the store client the synchronizer uses.
type StoreClient interface {
	ListSessions(ctx context.Context) ([]domain.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, afterID int64) ([]domain.ChatMessage, error)
	AppendMessage(ctx context.Context, sessionID string, req client.AppendRequest) (*domain.ChatMessage, error)
	MarkRead(ctx context.Context, sessionID string, sender domain.SenderType) error
}

// State is the focused-conversation loop's sync state.
type State string

const (
	StateIdle    State = "idle"    // no conversation focused
	StateSyncing State = "syncing" // fetch in flight
	StateSynced  State = "synced"  // buffer up to date, waiting for next tick
)

// Options configures a Synchronizer.
type Options struct {
	// ChatInterval is the focused-conversation poll period.
	ChatInterval time.Duration
	// SessionInterval is the session-list poll period.
	SessionInterval time.Duration
	// AgentName is attached to outbound messages.
	AgentName string
}

// Synchronizer keeps the agent's local view consistent with the store
// using two independent periodic poll loops: one for the focused
// conversation's messages, one for the session list. Presence gates
// both loops; while the agent is offline no new poll starts, though an
// in-flight one is left to complete. User-initiated operations (send,
// focus, mark read) are not gated.
type Synchronizer struct {
	store    StoreClient
	registry *Registry
	presence *PresenceController
	notifier Notifier

	chatInterval    time.Duration
	sessionInterval time.Duration
	agentName       string

	// mu guards the focused conversation's buffer, cursor, and focus
	// generation. The generation tags every fetch so a response that
	// arrives after a focus switch is recognized as stale and dropped.
	mu      sync.Mutex
	focused string
	gen     uint64
	buffer  []domain.ChatMessage
	seen    map[int64]struct{}
	cursor  int64
	state   State

	chatBusy atomic.Bool
	listBusy atomic.Bool
}

// NewSynchronizer creates a synchronizer. The presence controller and
// notifier may be nil; a nil presence controller disables gating.
func NewSynchronizer(store StoreClient, registry *Registry, presence *PresenceController, notifier Notifier, opts Options) *Synchronizer {
	if opts.ChatInterval <= 0 {
		opts.ChatInterval = 2 * time.Second
	}
	if opts.SessionInterval <= 0 {
		opts.SessionInterval = 5 * time.Second
	}
	return &Synchronizer{
		store:           store,
		registry:        registry,
		presence:        presence,
		notifier:        notifier,
		chatInterval:    opts.ChatInterval,
		sessionInterval: opts.SessionInterval,
		agentName:       opts.AgentName,
		seen:            make(map[int64]struct{}),
		state:           StateIdle,
	}
}

// Run starts both poll loops and blocks until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.chatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PollMessages(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.sessionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PollSessions(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	slog.Info("synchronizer stopped", "reason", ctx.Err())
}

// Focus switches to a conversation: any previous conversation's poll
// results become stale, the cursor resets, and the full history is
// fetched. On fetch failure the focus sticks and the next tick retries
// the full fetch (the cursor is still unset).
func (s *Synchronizer) Focus(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.focused = sessionID
	s.buffer = nil
	s.seen = make(map[int64]struct{})
	s.cursor = 0
	s.state = StateSyncing
	s.mu.Unlock()

	s.registry.MarkFocused(sessionID)

	msgs, err := s.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateSynced
		}
		s.mu.Unlock()
		return fmt.Errorf("focus %s: %w", sessionID, err)
	}

	s.merge(gen, sessionID, msgs)
	return nil
}

// Unfocus clears the focused conversation and discards its buffer.
func (s *Synchronizer) Unfocus() {
	s.mu.Lock()
	s.gen++
	s.focused = ""
	s.buffer = nil
	s.seen = make(map[int64]struct{})
	s.cursor = 0
	s.state = StateIdle
	s.mu.Unlock()

	s.registry.ClearFocus()
}

// PollMessages runs one focused-conversation tick: fetch messages
// after the cursor and merge them. Skipped when idle, offline, or when
// the previous poll is still in flight.
func (s *Synchronizer) PollMessages(ctx context.Context) {
	if s.presence != nil && !s.presence.Online() {
		return
	}

	s.mu.Lock()
	focused := s.focused
	gen := s.gen
	cursor := s.cursor
	s.mu.Unlock()

	if focused == "" {
		return
	}
	if !s.chatBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.chatBusy.Store(false)

	s.setState(gen, StateSyncing)

	msgs, err := s.store.ListMessages(ctx, focused, cursor)
	if err != nil {
		// Cursor stays put; the next tick retries.
		slog.Warn("message poll failed", "session_id", focused, "error", err)
		s.setState(gen, StateSynced)
		return
	}

	s.merge(gen, focused, msgs)
}

// merge appends messages to the buffer, deduplicating by message id
// and keeping ascending order. Results tagged with a superseded focus
// generation are dropped silently. Returns the number of messages
// actually merged.
func (s *Synchronizer) merge(gen uint64, sessionID string, msgs []domain.ChatMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.focused != sessionID {
		// Stale result from before a focus switch.
		slog.Debug("dropping stale poll result", "session_id", sessionID)
		return 0
	}

	merged := 0
	for _, msg := range msgs {
		// Defensive dedup: the cursor should already exclude seen
		// messages, but the store is not trusted to honor afterId.
		if _, dup := s.seen[msg.MessageID]; dup {
			continue
		}
		s.seen[msg.MessageID] = struct{}{}
		s.buffer = append(s.buffer, msg)
		if msg.MessageID > s.cursor {
			s.cursor = msg.MessageID
		}
		merged++
	}

	if merged > 0 {
		// A user send can race ahead of a poll covering earlier ids;
		// restore ascending order after the batch append.
		sort.Slice(s.buffer, func(i, j int) bool {
			return s.buffer[i].MessageID < s.buffer[j].MessageID
		})
	}

	s.state = StateSynced
	return merged
}

func (s *Synchronizer) setState(gen uint64, st State) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = st
	}
	s.mu.Unlock()
}

// PollSessions runs one session-list tick: refresh the registry and
// raise a notification for every non-focused session that gained
// messages. Skipped while offline or while the previous refresh is in
// flight.
func (s *Synchronizer) PollSessions(ctx context.Context) {
	if s.presence != nil && !s.presence.Online() {
		return
	}
	if !s.listBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.listBusy.Store(false)

	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		slog.Warn("session list poll failed", "error", err)
		return
	}

	deltas := s.registry.Replace(sessions)

	// One consistent focus read for the whole tick.
	focused := s.registry.Focused()
	for _, d := range deltas {
		if d.SessionID == focused {
			continue
		}
		safeNotify(s.notifier, d.SessionID)
	}
}

// Send appends an agent text message to the focused conversation. Only
// the confirmed store response is merged into the buffer; on failure
// nothing is merged and the caller keeps the compose state.
func (s *Synchronizer) Send(ctx context.Context, text string) (*domain.ChatMessage, error) {
	return s.send(ctx, client.AppendRequest{
		SenderType:  domain.SenderAgent,
		SenderName:  s.agentName,
		ContentType: domain.ContentText,
		TextContent: text,
	})
}

// SendImage appends an agent image message referencing a staged
// attachment.
func (s *Synchronizer) SendImage(ctx context.Context, att *domain.Attachment, caption string) (*domain.ChatMessage, error) {
	return s.send(ctx, client.AppendRequest{
		SenderType:  domain.SenderAgent,
		SenderName:  s.agentName,
		ContentType: domain.ContentImage,
		TextContent: caption,
		Attachment:  att,
	})
}

func (s *Synchronizer) send(ctx context.Context, req client.AppendRequest) (*domain.ChatMessage, error) {
	s.mu.Lock()
	focused := s.focused
	gen := s.gen
	s.mu.Unlock()

	if focused == "" {
		return nil, fmt.Errorf("no focused conversation: %w", errdefs.ErrFailedPrecondition)
	}

	msg, err := s.store.AppendMessage(ctx, focused, req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	// Same dedup key as the poll merge, so the next poll covering
	// this id does not duplicate it.
	s.merge(gen, focused, []domain.ChatMessage{*msg})
	s.registry.Invalidate()
	return msg, nil
}

// MarkRead marks the focused conversation's client messages as read.
func (s *Synchronizer) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	focused := s.focused
	s.mu.Unlock()

	if focused == "" {
		return fmt.Errorf("no focused conversation: %w", errdefs.ErrFailedPrecondition)
	}

	if err := s.store.MarkRead(ctx, focused, domain.SenderClient); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	s.registry.Invalidate()
	return nil
}

// Messages returns a snapshot of the focused conversation's buffer.
func (s *Synchronizer) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatMessage, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Cursor returns the highest message id merged so far.
func (s *Synchronizer) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// State returns the focused-conversation loop's current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
