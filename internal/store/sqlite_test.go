package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avoronin/chatdesk/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return repo
}

func appendText(t *testing.T, repo Repository, sessionID string, sender domain.SenderType, text string) *domain.ChatMessage {
	t.Helper()

	msg, err := repo.AppendMessage(context.Background(), &domain.ChatMessage{
		SessionID:   sessionID,
		SenderType:  sender,
		SenderName:  "tester",
		ContentType: domain.ContentText,
		TextContent: text,
	})
	if err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	return msg
}

func TestAppendAndListRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Alice", "alice@example.com", "555-0100")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	sent := appendText(t, repo, sess.SessionID, domain.SenderClient, "hello")

	msgs, err := repo.ListMessages(ctx, sess.SessionID, sent.MessageID-1)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly one message, got %d", len(msgs))
	}

	got := msgs[0]
	if got.MessageID != sent.MessageID {
		t.Errorf("Expected message id %d, got %d", sent.MessageID, got.MessageID)
	}
	if got.TextContent != "hello" || got.SenderType != domain.SenderClient ||
		got.SenderName != "tester" || got.ContentType != domain.ContentText {
		t.Errorf("Round-tripped message differs: %+v", got)
	}
	if !got.SentAt.Equal(sent.SentAt) {
		t.Errorf("Expected sent_at %v, got %v", sent.SentAt, got.SentAt)
	}
}

func TestListMessagesCursorFilter(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Bob", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var ids []int64
	for _, text := range []string{"one", "two", "three"} {
		ids = append(ids, appendText(t, repo, sess.SessionID, domain.SenderClient, text).MessageID)
	}

	full, err := repo.ListMessages(ctx, sess.SessionID, 0)
	if err != nil {
		t.Fatalf("Failed to list full history: %v", err)
	}
	if len(full) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(full))
	}
	for i := 1; i < len(full); i++ {
		if full[i].MessageID <= full[i-1].MessageID {
			t.Errorf("Messages not strictly ascending: %d then %d", full[i-1].MessageID, full[i].MessageID)
		}
	}

	tail, err := repo.ListMessages(ctx, sess.SessionID, ids[0])
	if err != nil {
		t.Fatalf("Failed to list after cursor: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("Expected 2 messages after cursor, got %d", len(tail))
	}
	for _, msg := range tail {
		if msg.MessageID <= ids[0] {
			t.Errorf("Cursor filter leaked message id %d (cursor %d)", msg.MessageID, ids[0])
		}
	}
}

func TestAppendImageMessage(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Carol", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	att := &domain.Attachment{URL: "/api/attachments/abc", Name: "photo.png", Size: 1234}
	sent, err := repo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID:   sess.SessionID,
		SenderType:  domain.SenderClient,
		SenderName:  "Carol",
		ContentType: domain.ContentImage,
		Attachment:  att,
	})
	if err != nil {
		t.Fatalf("Failed to append image message: %v", err)
	}

	msgs, err := repo.ListMessages(ctx, sess.SessionID, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Attachment == nil {
		t.Fatalf("Expected one image message with attachment, got %+v", msgs)
	}
	if *msgs[0].Attachment != *att {
		t.Errorf("Expected attachment %+v, got %+v", att, msgs[0].Attachment)
	}
	if msgs[0].MessageID != sent.MessageID {
		t.Errorf("Expected message id %d, got %d", sent.MessageID, msgs[0].MessageID)
	}
}

func TestSessionCountersTrackAppends(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Dave", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	for i := 0; i < 4; i++ {
		appendText(t, repo, sess.SessionID, domain.SenderClient, "msg")
	}
	if err := repo.MarkRead(ctx, sess.SessionID, domain.SenderClient); err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}

	// A fifth client message arrives: message_count 4 -> 5, unread 0 -> 1.
	appendText(t, repo, sess.SessionID, domain.SenderClient, "new one")

	got, err := repo.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.MessageCount != 5 {
		t.Errorf("Expected message_count 5, got %d", got.MessageCount)
	}
	if got.UnreadCount != 1 {
		t.Errorf("Expected unread_count 1, got %d", got.UnreadCount)
	}

	// Agent replies do not touch the unread counter.
	appendText(t, repo, sess.SessionID, domain.SenderAgent, "reply")
	got, err = repo.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.UnreadCount != 1 {
		t.Errorf("Expected unread_count unchanged at 1, got %d", got.UnreadCount)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Eve", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	appendText(t, repo, sess.SessionID, domain.SenderClient, "unread me")
	appendText(t, repo, sess.SessionID, domain.SenderClient, "me too")

	if err := repo.MarkRead(ctx, sess.SessionID, domain.SenderClient); err != nil {
		t.Fatalf("First mark read failed: %v", err)
	}
	if err := repo.MarkRead(ctx, sess.SessionID, domain.SenderClient); err != nil {
		t.Fatalf("Second mark read failed: %v", err)
	}

	got, err := repo.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.UnreadCount != 0 {
		t.Errorf("Expected unread_count 0, got %d", got.UnreadCount)
	}

	msgs, err := repo.ListMessages(ctx, sess.SessionID, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	for _, msg := range msgs {
		if !msg.IsRead {
			t.Errorf("Expected message %d to be read", msg.MessageID)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Frank", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// archive before close must fail
	if err := repo.ArchiveSession(ctx, sess.SessionID); !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict archiving active session, got %v", err)
	}

	if err := repo.CloseSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	// appending to a closed session is rejected
	_, err = repo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID:   sess.SessionID,
		SenderType:  domain.SenderClient,
		ContentType: domain.ContentText,
		TextContent: "too late",
	})
	if !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict appending to closed session, got %v", err)
	}

	if err := repo.ArchiveSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("Failed to archive session: %v", err)
	}

	// archived is terminal
	if err := repo.CloseSession(ctx, sess.SessionID); !errdefs.IsConflict(err) {
		t.Errorf("Expected conflict closing archived session, got %v", err)
	}
}

func TestListSessionsOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first, err := repo.CreateSession(ctx, "Old", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	second, err := repo.CreateSession(ctx, "New", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Activity on the first session should move it to the front.
	// Session timestamps have second resolution, so wait for a new one.
	time.Sleep(1100 * time.Millisecond)
	appendText(t, repo, first.SessionID, domain.SenderClient, "bump")

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != first.SessionID {
		t.Errorf("Expected most recently active session %s first, got %s", first.SessionID, sessions[0].SessionID)
	}
	if sessions[1].SessionID != second.SessionID {
		t.Errorf("Expected session %s second, got %s", second.SessionID, sessions[1].SessionID)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	repo := newTestStore(t)

	_, err := repo.GetSession(context.Background(), "missing")
	if !errdefs.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestAppendRejectsInvalidMessage(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Grace", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	_, err = repo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID:   sess.SessionID,
		SenderType:  "robot",
		ContentType: domain.ContentText,
		TextContent: "beep",
	})
	if !errdefs.IsInvalidArgument(err) {
		t.Errorf("Expected invalid-argument error, got %v", err)
	}

	// image without attachment
	_, err = repo.AppendMessage(ctx, &domain.ChatMessage{
		SessionID:   sess.SessionID,
		SenderType:  domain.SenderClient,
		ContentType: domain.ContentImage,
	})
	if !errdefs.IsInvalidArgument(err) {
		t.Errorf("Expected invalid-argument error for image without attachment, got %v", err)
	}
}

func TestPresenceRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.GetPresence(ctx)
	if err != nil {
		t.Fatalf("Failed to get presence: %v", err)
	}
	if p.Online {
		t.Error("Expected fresh store to report offline")
	}

	if err := repo.SetPresence(ctx, true); err != nil {
		t.Fatalf("Failed to set presence: %v", err)
	}
	p, err = repo.GetPresence(ctx)
	if err != nil {
		t.Fatalf("Failed to get presence: %v", err)
	}
	if !p.Online {
		t.Error("Expected online after SetPresence(true)")
	}

	if err := repo.SetPresence(ctx, false); err != nil {
		t.Fatalf("Failed to set presence: %v", err)
	}
	p, err = repo.GetPresence(ctx)
	if err != nil {
		t.Fatalf("Failed to get presence: %v", err)
	}
	if p.Online {
		t.Error("Expected offline after SetPresence(false)")
	}
}

func TestArchiveClosedBefore(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, "Heidi", "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := repo.CloseSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	// Cutoff in the past: nothing to archive yet.
	archived, err := repo.ArchiveClosedBefore(ctx, time.Now().Add(-time.Hour).Unix())
	if err != nil {
		t.Fatalf("Failed to archive: %v", err)
	}
	if archived != 0 {
		t.Errorf("Expected 0 archived, got %d", archived)
	}

	// Cutoff in the future: the closed session qualifies.
	archived, err = repo.ArchiveClosedBefore(ctx, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("Failed to archive: %v", err)
	}
	if archived != 1 {
		t.Errorf("Expected 1 archived, got %d", archived)
	}

	got, err := repo.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.Status != domain.StatusArchived {
		t.Errorf("Expected archived status, got %s", got.Status)
	}
}
