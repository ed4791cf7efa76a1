// Package typist turns confirmed transcript deltas into paced synthetic
// keystrokes with pause, resume and abort controls.
package typist

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
	"github.com/voxkey-labs/voxkey-core/internal/transcript"
)

// EventFunc receives pipeline events the emitter raises. It must not block.
type EventFunc func(eventType string, count uint64)

// Emitter types confirmed deltas one rune at a time. The inter-key delay is
// derived from a characters-per-minute rate; safe mode caps the rate for
// remote-desktop targets where fast emission corrupts output. Pause, resume
// and abort are honored between every single rune, including mid-delay.
type Emitter struct {
	cfg     config.TypistConfig
	inj     Injector
	log     *slog.Logger
	onEvent EventFunc

	deltas chan transcript.Delta

	rate     atomic.Int64
	safeMode atomic.Bool
	typed    atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	paused  bool
	abort   bool
	counted bool
	stateCh chan struct{}
}

func NewEmitter(cfg config.TypistConfig, inj Injector, onEvent EventFunc, log *slog.Logger) *Emitter {
	if onEvent == nil {
		onEvent = func(string, uint64) {}
	}
	e := &Emitter{
		cfg:     cfg,
		inj:     inj,
		log:     log.With(slog.String("component", "typist")),
		onEvent: onEvent,
		deltas:  make(chan transcript.Delta, 64),
		stateCh: make(chan struct{}),
	}
	e.rate.Store(int64(cfg.RateCPM))
	e.safeMode.Store(cfg.SafeMode)
	return e
}

// Enqueue queues one confirmed delta for emission.
func (e *Emitter) Enqueue(d transcript.Delta) {
	if d.Text == "" && d.Erase == 0 {
		return
	}
	e.deltas <- d
}

// CloseInput ends the delta stream; Run returns once the queue drains.
func (e *Emitter) CloseInput() { close(e.deltas) }

// SetRate changes the target characters-per-minute rate.
func (e *Emitter) SetRate(cpm int) {
	if cpm > 0 {
		e.rate.Store(int64(cpm))
	}
}

// SetSafeMode toggles the remote-desktop-safe rate cap.
func (e *Emitter) SetSafeMode(on bool) { e.safeMode.Store(on) }

// Typed reports the total runes emitted this process.
func (e *Emitter) Typed() uint64 { return e.typed.Load() }

// Pause suspends emission. Queued characters stay queued.
func (e *Emitter) Pause() { e.setState(func() { e.paused = true }) }

// Resume continues from the exact next unsent character.
func (e *Emitter) Resume() { e.setState(func() { e.paused = false }) }

// Abort discards every queued character and returns the emitter to idle.
func (e *Emitter) Abort() {
	e.setState(func() { e.abort = true; e.paused = false })
	for {
		select {
		case <-e.deltas:
		default:
			return
		}
	}
}

// BeginSession clears abort state and re-arms the countdown for a new
// capture session.
func (e *Emitter) BeginSession() {
	e.setState(func() {
		e.abort = false
		e.paused = false
		e.counted = false
	})
}

func (e *Emitter) setState(mutate func()) {
	e.mu.Lock()
	mutate()
	close(e.stateCh)
	e.stateCh = make(chan struct{})
	e.mu.Unlock()
}

// Run consumes the delta queue until the context is cancelled or the input
// is closed and drained.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-e.deltas:
			if !ok {
				return nil
			}
			e.emit(ctx, d)
		}
	}
}

// emit types one delta as an atomic retry unit: an injection failure
// abandons the remainder of this delta but not the session.
func (e *Emitter) emit(ctx context.Context, d transcript.Delta) {
	if !e.countdown(ctx) {
		return
	}

	for i := 0; i < d.Erase; i++ {
		if !e.gate(ctx) {
			return
		}
		if err := e.inj.Backspace(); err != nil {
			e.reportFailure(err)
			return
		}
		if !e.delay(ctx, e.interKeyDelay()) {
			return
		}
	}

	for _, r := range d.Text {
		if !e.gate(ctx) {
			return
		}
		if err := e.inj.TypeRune(r); err != nil {
			e.reportFailure(err)
			return
		}
		e.typed.Add(1)
		if !e.delay(ctx, e.runeDelay(r)) {
			return
		}
	}
}

// countdown gives the user time to focus the target window before the first
// character of a session goes out.
func (e *Emitter) countdown(ctx context.Context) bool {
	e.mu.Lock()
	pending := !e.counted && e.cfg.CountdownSeconds > 0
	e.counted = true
	e.mu.Unlock()
	if !pending {
		return true
	}
	e.log.Info("typing starts soon, focus the target window",
		slog.Int("seconds", e.cfg.CountdownSeconds))
	for i := 0; i < e.cfg.CountdownSeconds; i++ {
		if !e.delay(ctx, time.Second) {
			return false
		}
	}
	return true
}

func (e *Emitter) reportFailure(err error) {
	total := e.failures.Add(1)
	e.onEvent(protocol.EventEmissionFailure, total)
	e.log.Error("key injection failed, abandoning delta",
		slog.String("error", err.Error()))
}

func (e *Emitter) interKeyDelay() time.Duration {
	rate := e.rate.Load()
	if e.safeMode.Load() && e.cfg.SafeRateCPM > 0 && rate > int64(e.cfg.SafeRateCPM) {
		rate = int64(e.cfg.SafeRateCPM)
	}
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(time.Minute) / float64(rate))
}

// runeDelay stretches the pause after word boundaries so output reads like
// human typing and gives slow targets a breather.
func (e *Emitter) runeDelay(r rune) time.Duration {
	d := e.interKeyDelay()
	if e.cfg.SmartPause && (r == ' ' || r == '\n' || r == '\t') {
		return 2 * d
	}
	return d
}

// gate blocks while paused and reports false once aborted or cancelled.
func (e *Emitter) gate(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if e.abort {
			e.mu.Unlock()
			return false
		}
		if !e.paused {
			e.mu.Unlock()
			return true
		}
		ch := e.stateCh
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

// delay sleeps d but wakes immediately on abort or cancellation.
func (e *Emitter) delay(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		e.mu.Lock()
		aborted := e.abort
		ch := e.stateCh
		e.mu.Unlock()
		if aborted {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return e.gate(ctx)
		case <-ch:
		}
	}
}
