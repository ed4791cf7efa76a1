package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxkey-labs/voxkey-core/internal/asr"
	"github.com/voxkey-labs/voxkey-core/internal/audio"
	"github.com/voxkey-labs/voxkey-core/internal/eventstore"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
	"github.com/voxkey-labs/voxkey-core/internal/resample"
	"github.com/voxkey-labs/voxkey-core/internal/transcript"
	"github.com/voxkey-labs/voxkey-core/internal/typist"
)

// session wires one capture run: source -> accumulator -> resampler ->
// driver -> stabilizer -> emitter. It lives from a start command until the
// drain completes or a stage faults.
type session struct {
	id  string
	sup *Supervisor
	log *slog.Logger

	source     audio.Source
	recognizer asr.Recognizer
	acc        *audio.Accumulator
	conv       *resample.Converter
	driver     *asr.Driver
	stab       *transcript.Stabilizer
	emitter    *typist.Emitter

	blockSize int
	dumpDir   string
	dump      []float32

	draining   atomic.Bool
	pumpReady  chan struct{}
	cancelPump context.CancelFunc
	drainOnce  sync.Once
	done       chan struct{}
	err        error
}

// run executes the pipeline stages until they all return. The first stage
// error cancels the rest through the group context.
func (ss *session) run(ctx context.Context) {
	defer close(ss.done)
	defer ss.recognizer.Close()

	g, gctx := errgroup.WithContext(ctx)
	pumpCtx, cancel := context.WithCancel(gctx)
	ss.cancelPump = cancel
	close(ss.pumpReady)

	g.Go(func() error { return ss.pump(pumpCtx) })
	g.Go(func() error { return ss.driver.Run(gctx) })
	g.Go(func() error { return ss.consume(gctx) })
	g.Go(func() error { return ss.emitter.Run(gctx) })

	ss.err = g.Wait()
	ss.writeDump()
}

// beginDrain stops capture and lets the pump hand its remaining audio to
// the driver before closing the driver's input.
func (ss *session) beginDrain() {
	ss.drainOnce.Do(func() {
		ss.draining.Store(true)
		if err := ss.source.Stop(); err != nil {
			ss.log.Warn("stopping audio source failed", slog.String("error", err.Error()))
		}
		<-ss.pumpReady
		ss.cancelPump()
	})
}

// pump moves audio from the capture queue through the accumulator and
// resampler into the inference driver.
func (ss *session) pump(ctx context.Context) error {
	q := ss.source.Queue()
	var seenOverruns uint64

	for {
		b, ok := q.Pop(ctx)
		if !ok {
			if !ss.draining.Load() {
				return ctx.Err()
			}
			// Drain: flush the queue remainder and the partial block.
			for _, rest := range q.Drain() {
				if err := ss.process(rest); err != nil {
					ss.driver.CloseInput()
					return err
				}
			}
			if fb, flushed := ss.acc.Flush(); flushed {
				if err := ss.process(fb); err != nil {
					ss.driver.CloseInput()
					return err
				}
			}
			ss.driver.CloseInput()
			return nil
		}

		if o := q.Overruns(); o > seenOverruns {
			ss.sup.raiseEvent(ss.id, protocol.EventOverrun, "capture queue full", o)
			seenOverruns = o
		}
		if err := ss.process(b); err != nil {
			return err
		}
	}
}

// process pushes one native block through accumulation and resampling. A
// mid-session format change rebuilds both stages and raises a
// reconfiguration event instead of resampling incorrectly.
func (ss *session) process(b audio.Block) error {
	blocks, err := ss.acc.Push(b)
	if errors.Is(err, audio.ErrReconfigureRequired) {
		ss.sup.raiseEvent(ss.id, protocol.EventReconfigNeeded,
			fmt.Sprintf("input changed to %d Hz, %d channels", b.SampleRate, b.Channels), 0)
		ss.acc.Reset()
		conv, cerr := resample.NewConverter(b.SampleRate, b.Channels, ss.blockSize)
		if cerr != nil {
			return fmt.Errorf("rebuild resampler: %w", cerr)
		}
		ss.conv = conv
		blocks, err = ss.acc.Push(b)
	}
	if err != nil {
		return err
	}

	for _, fb := range blocks {
		mono, err := ss.conv.Convert(fb.Samples)
		if err != nil {
			return fmt.Errorf("resample block: %w", err)
		}
		ss.driver.Push(mono)
		if ss.dumpDir != "" {
			ss.dump = append(ss.dump, mono...)
		}
	}
	return nil
}

// consume reconciles driver hypotheses into the transcript and forwards
// confirmed deltas to the emitter.
func (ss *session) consume(ctx context.Context) error {
	for u := range ss.driver.Updates() {
		res := ss.stab.Reconcile(transcript.Hypothesis{
			Text:        u.Text,
			WindowIndex: u.WindowIndex,
			Final:       u.Final,
		})
		now := time.Now().UTC()

		if u.Final {
			ss.sup.metrics.recordConfirmed(ctx, len([]rune(res.Delta.Text)))
			ss.sup.publish(protocol.SubjectTranscriptDelta, protocol.TranscriptUpdate{
				SessionID:   ss.id,
				Delta:       res.Delta.Text,
				WindowIndex: uint64(u.WindowIndex),
				Correction:  res.Delta.Correction,
				Erase:       res.Delta.Erase,
				Timestamp:   now,
			})
			if err := ss.sup.store.AppendSegment(ctx, eventstore.Segment{
				SessionID:   ss.id,
				WindowIndex: u.WindowIndex,
				Text:        u.Text,
				Correction:  res.Delta.Correction,
			}); err != nil {
				ss.log.Warn("failed to persist segment", slog.String("error", err.Error()))
			}
		} else {
			ss.sup.publish(protocol.SubjectTranscriptUpdate, protocol.TranscriptUpdate{
				SessionID:   ss.id,
				Pending:     res.Pending,
				WindowIndex: uint64(u.WindowIndex),
				Timestamp:   now,
			})
		}

		if res.Delta.Text != "" || res.Delta.Erase > 0 {
			ss.emitter.Enqueue(res.Delta)
		}
	}
	ss.emitter.CloseInput()
	return nil
}

// writeDump saves the session's resampled audio for debugging when a dump
// directory is configured.
func (ss *session) writeDump() {
	if ss.dumpDir == "" || len(ss.dump) == 0 {
		return
	}
	path := filepath.Join(ss.dumpDir, ss.id+".wav")
	if err := audio.WriteWAV(path, ss.dump, resample.TargetRate, 1); err != nil {
		ss.log.Warn("failed to write session audio dump",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	ss.log.Info("session audio dumped", slog.String("path", path))
}
