package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoOp(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.BeginSession(ctx, Session{ID: "s1"}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendSegment(ctx, Segment{SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}
	text, err := es.SessionTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if text != "" {
		t.Fatalf("ephemeral store must not retain anything, got %q", text)
	}
}

func TestSegmentsRebuildTranscript(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "voxkey.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sessionID := "session-123"
	if err := es.BeginSession(ctx, Session{ID: sessionID, Device: "default", Policy: "append_only"}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	for i, text := range []string{"the quick", "brown fox", "jumps"} {
		if err := es.AppendSegment(ctx, Segment{SessionID: sessionID, WindowIndex: i, Text: text}); err != nil {
			t.Fatalf("append segment %d: %v", i, err)
		}
	}

	text, err := es.SessionTranscript(ctx, sessionID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if text != "the quick brown fox jumps" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "voxkey.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sessionID := "session-events"
	if err := es.BeginSession(ctx, Session{ID: sessionID}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: "overrun", Count: 3}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "overrun" || events[0].Count != 3 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(tmp, "voxkey.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginSession(ctx, Session{ID: "old-session"}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendSegment(ctx, Segment{SessionID: "old-session", Text: "stale"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginSession(ctx, Session{ID: "new-session"}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	// Cascade removes the old session's segments with the session row.
	text, err := es.SessionTranscript(ctx, "old-session")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if text != "" {
		t.Fatalf("expected old session pruned, got %q", text)
	}
}
