package asr

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
)

func driverConfig() config.ASRConfig {
	return config.ASRConfig{
		Mode:             "mock",
		ContextSeconds:   12,
		MaxContextSecs:   30,
		CadenceMS:        10,
		BufferBlocks:     8,
		CommitSilenceMS:  40,
		FailureThreshold: 3,
	}
}

func waitUpdate(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-updates:
		if !ok {
			t.Fatal("update channel closed unexpectedly")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestDriverEmitsPartialThenCommitsOnSilence(t *testing.T) {
	rec := NewMockRecognizer([]Result{
		{Text: "hel"},
		{Text: "hello"},
	})
	d := NewDriver(driverConfig(), rec, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Push(make([]float32, 1024))

	u := waitUpdate(t, d.Updates())
	if u.Final {
		t.Fatalf("expected a partial first, got final %q", u.Text)
	}
	if u.WindowIndex != 0 {
		t.Fatalf("expected window 0, got %d", u.WindowIndex)
	}

	// No further audio: the silence gap commits the window as final.
	u = waitUpdate(t, d.Updates())
	if !u.Final {
		t.Fatalf("expected a final after silence, got partial %q", u.Text)
	}
	if u.WindowIndex != 0 {
		t.Fatalf("final should commit window 0, got %d", u.WindowIndex)
	}

	// New speech starts a fresh window.
	d.Push(make([]float32, 1024))
	u = waitUpdate(t, d.Updates())
	if u.Final || u.WindowIndex != 1 {
		t.Fatalf("expected partial in window 1, got final=%v window=%d", u.Final, u.WindowIndex)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDriverDropsOldestWhenBufferFull(t *testing.T) {
	cfg := driverConfig()
	cfg.BufferBlocks = 4

	var overrunEvents atomic.Uint64
	onEvent := func(eventType string, _ uint64) {
		if eventType == protocol.EventContextOverrun {
			overrunEvents.Add(1)
		}
	}
	d := NewDriver(cfg, NewMockRecognizer(nil), onEvent, slog.Default())

	// Run is not started, so nothing drains the buffer.
	for i := 0; i <= cfg.BufferBlocks; i++ {
		d.Push(make([]float32, 16))
	}

	if got := d.Overruns(); got != 1 {
		t.Fatalf("expected exactly 1 dropped block, got %d", got)
	}
	if got := overrunEvents.Load(); got != 1 {
		t.Fatalf("expected 1 context overrun event, got %d", got)
	}
}

func TestDriverFaultsAfterConsecutiveFailures(t *testing.T) {
	rec := NewMockRecognizer(nil)
	backendErr := errors.New("backend unavailable")
	for i := 0; i < 10; i++ {
		rec.FailCall(i, backendErr)
	}

	var inferenceErrors atomic.Uint64
	onEvent := func(eventType string, _ uint64) {
		if eventType == protocol.EventInferenceError {
			inferenceErrors.Add(1)
		}
	}
	d := NewDriver(driverConfig(), rec, onEvent, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Keep feeding so the cadence keeps attempting inference.
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go func() {
		for {
			select {
			case <-feedCtx.Done():
				return
			case <-time.After(5 * time.Millisecond):
				d.Push(make([]float32, 64))
			}
		}
	}()

	err := <-done
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a fault error, got %v", err)
	}
	if !errors.Is(err, backendErr) {
		t.Fatalf("fault should wrap the backend error, got %v", err)
	}
	if got := inferenceErrors.Load(); got < 3 {
		t.Fatalf("expected at least 3 inference error events, got %d", got)
	}
}

func TestDriverDrainCommitsRemainingAudio(t *testing.T) {
	rec := NewMockRecognizer([]Result{{Text: "goodbye"}})
	cfg := driverConfig()
	cfg.CommitSilenceMS = 60000 // never commit on silence in this test
	d := NewDriver(cfg, rec, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Push(make([]float32, 1024))
	d.CloseInput()

	var final *Update
	for {
		u, ok := <-d.Updates()
		if !ok {
			break
		}
		if u.Final {
			final = &u
		}
	}
	if final == nil {
		t.Fatal("expected a final hypothesis on drain")
	}
	if final.Text != "goodbye" {
		t.Fatalf("expected drained final %q, got %q", "goodbye", final.Text)
	}
	if err := <-done; err != nil {
		t.Fatalf("drain should end the run cleanly, got %v", err)
	}
}
