package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-mic/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.StartSession(ctx, "s", "loqa-mic", SessionStarted{}); err != nil {
		t.Fatalf("ephemeral start session: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing recorded, got %v %v", events, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "session"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.StartSession(ctx, sessionID, "loqa-mic", SessionStarted{Device: "mic", SampleRate: 16000, Format: "i16", Engine: "mock"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.RecordFault(ctx, sessionID, errors.New("input overflow")); err != nil {
		t.Fatalf("record fault: %v", err)
	}
	if err := es.StopSession(ctx, sessionID, SessionStopped{Captured: 30, Decoded: 30, Finals: 1}); err != nil {
		t.Fatalf("stop session: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{TypeSessionStarted, TypeStreamFault, TypeSessionStopped}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], evt.Type)
		}
	}

	var started SessionStarted
	if err := json.Unmarshal(events[0].Payload, &started); err != nil {
		t.Fatalf("decode started: %v", err)
	}
	if started.SampleRate != 16000 || started.Device != "mic" {
		t.Fatalf("unexpected started payload %+v", started)
	}
	var stopped SessionStopped
	if err := json.Unmarshal(events[2].Payload, &stopped); err != nil {
		t.Fatalf("decode stopped: %v", err)
	}
	if stopped.Captured != 30 || stopped.Finals != 1 {
		t.Fatalf("unexpected stopped payload %+v", stopped)
	}
}

func TestAppendEventRequiresType(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(context.Background(), Event{SessionID: "s"}); err == nil {
		t.Fatal("expected error for empty type")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "old-session", "loqa-mic", SessionStarted{}); err != nil {
		t.Fatalf("start session: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "new-session", "loqa-mic", SessionStarted{}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	events, err = es.ListSessionEvents(ctx, "new-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected new session kept, got %d events", len(events))
	}
}
