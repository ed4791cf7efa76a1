package typist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
	"github.com/voxkey-labs/voxkey-core/internal/transcript"
)

// recorder captures injected events instead of touching the real keyboard.
type recorder struct {
	mu     sync.Mutex
	events []string
	fail   map[int]error
	calls  int
}

func (r *recorder) record(ev string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.calls
	r.calls++
	if err, ok := r.fail[n]; ok {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) TypeRune(ru rune) error { return r.record(string(ru)) }
func (r *recorder) Backspace() error       { return r.record("<bs>") }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func emitterConfig() config.TypistConfig {
	return config.TypistConfig{RateCPM: 6000} // 10ms per character
}

func startEmitter(t *testing.T, cfg config.TypistConfig, rec *recorder, onEvent EventFunc) (*Emitter, chan error) {
	t.Helper()
	e := NewEmitter(cfg, rec, onEvent, slog.Default())
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { done <- e.Run(ctx) }()
	return e, done
}

func TestEmitterTypesDeltaInOrder(t *testing.T) {
	rec := &recorder{}
	e, done := startEmitter(t, emitterConfig(), rec, nil)

	e.Enqueue(transcript.Delta{Text: "hi!"})
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.snapshot()
	want := []string{"h", "i", "!"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
	if e.Typed() != 3 {
		t.Fatalf("expected 3 typed runes, got %d", e.Typed())
	}
}

func TestEmitterPacingMatchesRate(t *testing.T) {
	rec := &recorder{}
	cfg := config.TypistConfig{RateCPM: 3000} // 20ms per character
	e, done := startEmitter(t, cfg, rec, nil)

	const n = 10
	text := make([]byte, n)
	for i := range text {
		text[i] = 'a'
	}

	start := time.Now()
	e.Enqueue(transcript.Delta{Text: string(text)})
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	// N characters at R cpm take about N*60/R seconds.
	want := n * 20 * time.Millisecond
	if elapsed < want/2 {
		t.Fatalf("emission too fast: %v for target %v", elapsed, want)
	}
	if elapsed > 4*want {
		t.Fatalf("emission too slow: %v for target %v", elapsed, want)
	}
}

func TestEmitterSafeModeCapsRate(t *testing.T) {
	rec := &recorder{}
	cfg := config.TypistConfig{RateCPM: 60000, SafeMode: true, SafeRateCPM: 3000}
	e, done := startEmitter(t, cfg, rec, nil)

	start := time.Now()
	e.Enqueue(transcript.Delta{Text: "aaaaa"})
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	// 5 chars at the 3000 cpm cap need about 100ms; the uncapped rate
	// would finish in about 5ms.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("safe mode did not throttle: finished in %v", elapsed)
	}
}

func TestEmitterAbortStopsAllOutput(t *testing.T) {
	rec := &recorder{}
	e, _ := startEmitter(t, emitterConfig(), rec, nil)

	e.Enqueue(transcript.Delta{Text: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	e.Enqueue(transcript.Delta{Text: "bbbbbbbbbb"})

	// Let a few characters out, then abort mid-stream.
	time.Sleep(35 * time.Millisecond)
	e.Abort()

	after := len(rec.snapshot())
	time.Sleep(100 * time.Millisecond)
	if got := len(rec.snapshot()); got != after {
		t.Fatalf("events emitted after abort: %d -> %d", after, got)
	}
	if after >= 40 {
		t.Fatal("abort did not discard queued characters")
	}
}

func TestEmitterPauseAndResume(t *testing.T) {
	rec := &recorder{}
	e, done := startEmitter(t, emitterConfig(), rec, nil)

	e.Pause()
	e.Enqueue(transcript.Delta{Text: "abc"})

	time.Sleep(60 * time.Millisecond)
	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("paused emitter typed %d events", got)
	}

	e.Resume()
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.snapshot(); len(got) != 3 {
		t.Fatalf("expected all 3 characters after resume, got %v", got)
	}
}

func TestEmitterCorrectionErasesThenTypes(t *testing.T) {
	rec := &recorder{}
	e, done := startEmitter(t, emitterConfig(), rec, nil)

	e.Enqueue(transcript.Delta{Text: "ack", Erase: 3, Correction: true})
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.snapshot()
	want := []string{"<bs>", "<bs>", "<bs>", "a", "c", "k"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestEmitterAbandonsDeltaOnInjectionFailure(t *testing.T) {
	rec := &recorder{fail: map[int]error{1: errors.New("target gone")}}

	var failureEvents int
	var mu sync.Mutex
	onEvent := func(eventType string, _ uint64) {
		if eventType == protocol.EventEmissionFailure {
			mu.Lock()
			failureEvents++
			mu.Unlock()
		}
	}
	e, done := startEmitter(t, emitterConfig(), rec, onEvent)

	e.Enqueue(transcript.Delta{Text: "abc"}) // fails at 'b'
	e.Enqueue(transcript.Delta{Text: "xy"})  // next delta still goes out
	e.CloseInput()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	got := rec.snapshot()
	want := []string{"a", "x", "y"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if failureEvents != 1 {
		t.Fatalf("expected 1 emission failure event, got %d", failureEvents)
	}
}
