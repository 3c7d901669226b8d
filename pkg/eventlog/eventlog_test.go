package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"agentd/pkg/logx"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"), logx.NewLogger("eventlog-test"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndReadBack(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	l.Append(ctx, "T1", KindRunStarted, "")
	l.Append(ctx, "T1", KindPhaseStarted, "planning")
	l.Append(ctx, "T2", KindRunStarted, "")
	l.Append(ctx, "T1", KindRunFinished, "done")

	events, err := l.Events(ctx, "T1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Kind != KindRunStarted || events[1].Detail != "planning" || events[2].Kind != KindRunFinished {
		t.Errorf("unexpected events: %+v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Errorf("events out of append order: %+v", events)
		}
	}
}

func TestEventsEmptyForUnknownTicket(t *testing.T) {
	l := openTestLog(t)
	events, err := l.Events(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %+v", events)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.db")
	logger := logx.NewLogger("eventlog-test")

	l, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Append(context.Background(), "T1", KindActivity, "Planning complete.")
	l.Close()

	l2, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()
	events, err := l2.Events(context.Background(), "T1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Detail != "Planning complete." {
		t.Errorf("persisted events wrong: %+v", events)
	}
}
