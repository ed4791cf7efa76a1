// Package failsafe watches for the global abort triggers: a double tap of
// the Escape key and the pointer entering any screen corner.
package failsafe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/voxkey-labs/voxkey-core/internal/config"
)

// AbortFunc is invoked once per trigger with a human-readable reason.
type AbortFunc func(reason string)

// Watcher listens to global input events while the pipeline runs. It never
// consumes events, only observes them, so normal typing is unaffected.
type Watcher struct {
	cfg     config.FailsafeConfig
	log     *slog.Logger
	onAbort AbortFunc
	onRate  func(deltaCPM int)
	clock   func() time.Time

	mu         sync.Mutex
	lastEsc    time.Time
	lastCorner time.Time
}

func NewWatcher(cfg config.FailsafeConfig, onAbort AbortFunc, log *slog.Logger) *Watcher {
	return &Watcher{
		cfg:     cfg,
		log:     log.With(slog.String("component", "failsafe")),
		onAbort: onAbort,
		clock:   time.Now,
	}
}

// OnRateChange installs a callback for the speed hotkeys (Alt+Shift+= and
// Alt+Shift+-). Must be called before Run.
func (w *Watcher) OnRateChange(f func(deltaCPM int)) {
	w.onRate = f
}

// Run installs the global hooks until the context is cancelled. With the
// failsafe disabled it blocks without installing anything.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	hook.Register(hook.KeyDown, []string{"esc"}, func(hook.Event) {
		w.escTap()
	})
	hook.Register(hook.MouseMove, []string{}, func(e hook.Event) {
		w.pointerMove(int(e.X), int(e.Y))
	})
	if w.onRate != nil && w.cfg.RateStepCPM > 0 {
		hook.Register(hook.KeyDown, []string{"alt", "shift", "="}, func(hook.Event) {
			w.onRate(w.cfg.RateStepCPM)
		})
		hook.Register(hook.KeyDown, []string{"alt", "shift", "-"}, func(hook.Event) {
			w.onRate(-w.cfg.RateStepCPM)
		})
	}

	events := hook.Start()
	defer hook.End()

	go func() {
		<-ctx.Done()
		hook.End()
	}()

	w.log.Info("failsafe armed",
		slog.Int("double_tap_ms", w.cfg.DoubleTapMS),
		slog.Int("corner_margin", w.cfg.CornerMargin))
	<-hook.Process(events)
	return ctx.Err()
}

func (w *Watcher) escTap() {
	now := w.clock()
	w.mu.Lock()
	tapped := doubleTap(w.lastEsc, now, time.Duration(w.cfg.DoubleTapMS)*time.Millisecond)
	w.lastEsc = now
	w.mu.Unlock()
	if tapped {
		w.log.Warn("double escape detected, aborting emission")
		w.onAbort("double-esc")
	}
}

func (w *Watcher) pointerMove(x, y int) {
	if !inCorner(x, y, w.cfg) {
		return
	}
	now := w.clock()
	w.mu.Lock()
	// Debounce: a pointer parked in a corner fires once, not per pixel.
	recent := now.Sub(w.lastCorner) < time.Second
	w.lastCorner = now
	w.mu.Unlock()
	if recent {
		return
	}
	w.log.Warn("pointer entered screen corner, aborting emission",
		slog.Int("x", x), slog.Int("y", y))
	w.onAbort("pointer-corner")
}

func doubleTap(prev, now time.Time, window time.Duration) bool {
	return !prev.IsZero() && now.Sub(prev) <= window
}

// inCorner reports whether the pointer is within the configured margin of
// any of the four screen corners.
func inCorner(x, y int, cfg config.FailsafeConfig) bool {
	m := cfg.CornerMargin
	nearLeft := x <= m
	nearRight := cfg.ScreenWidth > 0 && x >= cfg.ScreenWidth-1-m
	nearTop := y <= m
	nearBottom := cfg.ScreenHeight > 0 && y >= cfg.ScreenHeight-1-m
	return (nearLeft || nearRight) && (nearTop || nearBottom)
}
