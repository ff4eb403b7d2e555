package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := NewScheduler(testLogger())
	if err := s.AddJob("not a cron spec", "broken", func(context.Context) {}); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestJobRuns(t *testing.T) {
	s := NewScheduler(testLogger())
	var runs atomic.Int32
	if err := s.AddJob("@every 10ms", "ticker", func(context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runs.Load() == 0 {
		t.Error("job never ran")
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := NewScheduler(testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
