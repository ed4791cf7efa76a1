package asr

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
	"github.com/voxkey-labs/voxkey-core/internal/resample"
)

// Update is one hypothesis from the driver. Partial updates carry the
// recognizer's current reading of the rolling window; a final update commits
// the window and advances WindowIndex so downstream consumers can tell
// hypotheses from different windows apart.
type Update struct {
	Text        string
	Confidence  float64
	Final       bool
	WindowIndex int
}

// EventFunc receives pipeline events the driver raises while running.
// It must not block.
type EventFunc func(eventType string, count uint64)

// Driver paces inference over a rolling audio window. Audio arrives through
// Push, which never blocks: when the intake buffer is full the oldest block
// is dropped and a context_overrun event is raised. Inference runs on a
// wall-clock cadence rather than per block, so a slow recognizer skips
// windows instead of building an unbounded backlog.
type Driver struct {
	cfg     config.ASRConfig
	rec     Recognizer
	log     *slog.Logger
	onEvent EventFunc

	in       chan []float32
	updates  chan Update
	overruns atomic.Uint64

	clock func() time.Time
}

func NewDriver(cfg config.ASRConfig, rec Recognizer, onEvent EventFunc, log *slog.Logger) *Driver {
	if onEvent == nil {
		onEvent = func(string, uint64) {}
	}
	return &Driver{
		cfg:     cfg,
		rec:     rec,
		log:     log.With(slog.String("component", "asr-driver")),
		onEvent: onEvent,
		in:      make(chan []float32, cfg.BufferBlocks),
		updates: make(chan Update, 16),
		clock:   time.Now,
	}
}

// Push enqueues a block of 16 kHz mono samples. When the buffer is full the
// oldest pending block is discarded so capture never stalls.
func (d *Driver) Push(samples []float32) {
	for {
		select {
		case d.in <- samples:
			return
		default:
		}
		select {
		case <-d.in:
			total := d.overruns.Add(1)
			d.onEvent(protocol.EventContextOverrun, total)
		default:
		}
	}
}

// CloseInput signals that no more audio will arrive. Run drains the buffer,
// produces one last final hypothesis and returns.
func (d *Driver) CloseInput() { close(d.in) }

// Updates returns the hypothesis stream. It is closed when Run returns.
func (d *Driver) Updates() <-chan Update { return d.updates }

func (d *Driver) Overruns() uint64 { return d.overruns.Load() }

// Run drives inference until the context is cancelled or the input is
// closed and drained. Consecutive inference failures beyond the configured
// threshold are treated as an unrecoverable backend fault.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.updates)

	maxWindow := d.cfg.MaxContextSecs * resample.TargetRate
	ctxWindow := d.cfg.ContextSeconds * resample.TargetRate
	cadence := time.Duration(d.cfg.CadenceMS) * time.Millisecond
	commitGap := time.Duration(d.cfg.CommitSilenceMS) * time.Millisecond

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	var (
		window    []float32
		lastAudio time.Time
		dirty     bool // audio arrived since the last inference
		active    bool // window holds uncommitted speech
		windowIdx int
		failures  int
	)

	emit := func(u Update) bool {
		select {
		case d.updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error) error {
		failures++
		d.onEvent(protocol.EventInferenceError, uint64(failures))
		d.log.Error("inference failed",
			slog.Int("consecutive", failures),
			slog.String("error", err.Error()))
		if failures >= d.cfg.FailureThreshold {
			return fmt.Errorf("recognizer faulted after %d consecutive failures: %w", failures, err)
		}
		return nil
	}

	finalize := func() error {
		if !active || len(window) == 0 {
			return nil
		}
		res, err := d.rec.Transcribe(ctx, window, true)
		if err != nil {
			window = nil
			active = false
			dirty = false
			return fail(err)
		}
		failures = 0
		emit(Update{Text: res.Text, Confidence: res.Confidence, Final: true, WindowIndex: windowIdx})
		windowIdx++
		window = nil
		active = false
		dirty = false
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case samples, ok := <-d.in:
			if !ok {
				// Drained: commit whatever is left.
				return finalize()
			}
			window = append(window, samples...)
			if len(window) > maxWindow {
				window = window[len(window)-maxWindow:]
			}
			lastAudio = d.clock()
			dirty = true
			active = true

		case <-ticker.C:
			if active && !dirty && !lastAudio.IsZero() && d.clock().Sub(lastAudio) >= commitGap {
				if err := finalize(); err != nil {
					return err
				}
				continue
			}
			if !dirty {
				continue
			}
			dirty = false
			infer := window
			if len(infer) > ctxWindow {
				infer = infer[len(infer)-ctxWindow:]
			}
			res, err := d.rec.Transcribe(ctx, infer, false)
			if err != nil {
				if ferr := fail(err); ferr != nil {
					return ferr
				}
				continue
			}
			failures = 0
			if !emit(Update{Text: res.Text, Confidence: res.Confidence, WindowIndex: windowIdx}) {
				return ctx.Err()
			}
		}
	}
}
