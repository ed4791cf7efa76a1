// Package supervisor owns the dictation pipeline lifecycle: it starts and
// stops capture sessions, routes control commands, and propagates failures.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"

	"github.com/voxkey-labs/voxkey-core/internal/asr"
	"github.com/voxkey-labs/voxkey-core/internal/audio"
	"github.com/voxkey-labs/voxkey-core/internal/bus"
	"github.com/voxkey-labs/voxkey-core/internal/config"
	"github.com/voxkey-labs/voxkey-core/internal/eventstore"
	"github.com/voxkey-labs/voxkey-core/internal/failsafe"
	"github.com/voxkey-labs/voxkey-core/internal/protocol"
	"github.com/voxkey-labs/voxkey-core/internal/resample"
	"github.com/voxkey-labs/voxkey-core/internal/transcript"
	"github.com/voxkey-labs/voxkey-core/internal/typist"
)

// Deps are the pluggable collaborators. Factories run once per session so a
// faulted backend gets a fresh start on the next capture.
type Deps struct {
	NewSource     func() (audio.Source, error)
	NewRecognizer func() (asr.Recognizer, error)
	NewInjector   func() (typist.Injector, error)
	Bus           *bus.Client
	Store         *eventstore.Store
	Log           *slog.Logger
}

// Supervisor is the single owner of PipelineState. All control flows through
// its command queue; stages never talk to each other's lifecycle directly.
type Supervisor struct {
	cfg     config.Config
	log     *slog.Logger
	bus     *bus.Client
	store   *eventstore.Store
	metrics *pipelineMetrics

	newSource     func() (audio.Source, error)
	newRecognizer func() (asr.Recognizer, error)
	newInjector   func() (typist.Injector, error)

	cmds chan protocol.Command

	mu      sync.Mutex
	state   State
	current *session

	rateCPM  int
	safeMode bool
}

func New(cfg config.Config, deps Deps) *Supervisor {
	return &Supervisor{
		cfg:           cfg,
		log:           deps.Log.With(slog.String("component", "supervisor")),
		bus:           deps.Bus,
		store:         deps.Store,
		metrics:       newPipelineMetrics(deps.Log),
		newSource:     deps.NewSource,
		newRecognizer: deps.NewRecognizer,
		newInjector:   deps.NewInjector,
		cmds:          make(chan protocol.Command, 16),
		state:         StateIdle,
		rateCPM:       cfg.Typist.RateCPM,
		safeMode:      cfg.Typist.SafeMode,
	}
}

// State returns the current pipeline state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch queues a control command. It never blocks; a full queue drops
// the command with a warning since control traffic is tiny in practice.
func (s *Supervisor) Dispatch(cmd protocol.Command) {
	select {
	case s.cmds <- cmd:
	default:
		s.log.Warn("control queue full, dropping command", slog.String("action", cmd.Action))
	}
}

// Run processes control commands until the context is cancelled. It also
// subscribes to the bus control subject and arms the failsafe watcher.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.bus.Healthy() {
		unsub, err := s.bus.Subscribe(protocol.SubjectControl, func(data []byte) {
			var cmd protocol.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.log.Warn("malformed control message", slog.String("error", err.Error()))
				return
			}
			s.Dispatch(cmd)
		})
		if err != nil {
			return err
		}
		defer unsub()
	}

	watcher := failsafe.NewWatcher(s.cfg.Failsafe, func(reason string) {
		s.Dispatch(protocol.Command{Action: protocol.ActionAbort, Timestamp: time.Now()})
	}, s.log)
	watcher.OnRateChange(func(deltaCPM int) {
		s.mu.Lock()
		next := s.rateCPM + deltaCPM
		s.mu.Unlock()
		s.Dispatch(protocol.Command{Action: protocol.ActionSetRate, RateCPM: next, Timestamp: time.Now()})
	})
	wctx, wcancel := context.WithCancel(ctx)
	defer wcancel()
	go func() {
		if err := watcher.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("failsafe watcher exited", slog.String("error", err.Error()))
		}
	}()

	for {
		s.mu.Lock()
		var done chan struct{}
		if s.current != nil {
			done = s.current.done
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case cmd := <-s.cmds:
			s.apply(ctx, cmd)
		case <-done:
			s.finishSession(ctx)
		}
	}
}

func (s *Supervisor) apply(ctx context.Context, cmd protocol.Command) {
	s.log.Debug("control command", slog.String("action", cmd.Action))
	switch cmd.Action {
	case protocol.ActionStart:
		s.startSession(ctx)
	case protocol.ActionStop:
		s.stopSession("stop requested")
	case protocol.ActionAbort:
		s.abortSession()
	case protocol.ActionPause:
		s.pauseSession()
	case protocol.ActionResume:
		s.resumeSession()
	case protocol.ActionReset:
		s.resetFault()
	case protocol.ActionSetRate:
		s.setRate(cmd.RateCPM)
	case protocol.ActionSetMode:
		s.setMode(cmd.Mode)
	default:
		s.log.Warn("unknown control action", slog.String("action", cmd.Action))
	}
}

func (s *Supervisor) startSession(ctx context.Context) {
	s.mu.Lock()
	if !s.state.CanTransition(StateCapturing) {
		state := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring start command", slog.String("state", string(state)))
		return
	}
	rate := s.rateCPM
	safe := s.safeMode
	s.mu.Unlock()

	source, err := s.newSource()
	if err != nil {
		s.log.Error("failed to create audio source", slog.String("error", err.Error()))
		return
	}
	if err := source.Start(); err != nil {
		s.log.Error("failed to start audio capture", slog.String("error", err.Error()))
		return
	}

	recognizer, err := s.newRecognizer()
	if err != nil {
		source.Stop()
		s.log.Error("failed to create recognizer", slog.String("error", err.Error()))
		return
	}
	injector, err := s.newInjector()
	if err != nil {
		source.Stop()
		recognizer.Close()
		s.log.Error("failed to create key injector", slog.String("error", err.Error()))
		return
	}

	format := source.Format()
	conv, err := resample.NewConverter(format.SampleRate, format.Channels, s.cfg.Audio.BlockSize)
	if err != nil {
		source.Stop()
		recognizer.Close()
		s.log.Error("unsupported capture format", slog.String("error", err.Error()))
		return
	}
	acc, err := audio.NewAccumulator(s.cfg.Audio.BlockSize)
	if err != nil {
		source.Stop()
		recognizer.Close()
		s.log.Error("invalid block size", slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()
	sessionLog := s.log.With(slog.String("session_id", id))

	typistCfg := s.cfg.Typist
	typistCfg.RateCPM = rate
	typistCfg.SafeMode = safe
	emitter := typist.NewEmitter(typistCfg, injector, s.eventFunc(id), sessionLog)
	emitter.BeginSession()

	ss := &session{
		id:         id,
		sup:        s,
		log:        sessionLog,
		source:     source,
		recognizer: recognizer,
		acc:        acc,
		conv:       conv,
		driver:     asr.NewDriver(s.cfg.ASR, recognizer, s.eventFunc(id), sessionLog),
		stab:       transcript.NewStabilizer(s.cfg.Transcript.Policy),
		emitter:    emitter,
		blockSize:  s.cfg.Audio.BlockSize,
		dumpDir:    s.cfg.Audio.DumpDir,
		pumpReady:  make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := s.store.BeginSession(ctx, eventstore.Session{
		ID:     id,
		Device: s.cfg.Audio.Device,
		Policy: s.cfg.Transcript.Policy,
	}); err != nil {
		s.log.Warn("failed to persist session start", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.current = ss
	s.mu.Unlock()
	s.metrics.recordSessionStart(ctx)
	s.setState(StateCapturing, "", id)

	go ss.run(ctx)
	sessionLog.Info("capture session started",
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels))
}

func (s *Supervisor) stopSession(reason string) {
	s.mu.Lock()
	ss := s.current
	state := s.state
	s.mu.Unlock()
	if ss == nil || !state.CanTransition(StateDraining) {
		s.log.Warn("ignoring stop command", slog.String("state", string(state)))
		return
	}
	s.setState(StateDraining, reason, ss.id)
	ss.emitter.Resume()
	ss.beginDrain()
}

func (s *Supervisor) abortSession() {
	s.mu.Lock()
	ss := s.current
	state := s.state
	s.mu.Unlock()
	if ss == nil || !state.CanTransition(StateDraining) {
		return
	}
	ss.emitter.Abort()
	s.setState(StateDraining, "abort", ss.id)
	ss.beginDrain()
}

func (s *Supervisor) pauseSession() {
	s.mu.Lock()
	ss := s.current
	ok := s.state == StateCapturing
	s.mu.Unlock()
	if ss == nil || !ok {
		return
	}
	ss.emitter.Pause()
	s.setState(StatePaused, "", ss.id)
}

func (s *Supervisor) resumeSession() {
	s.mu.Lock()
	ss := s.current
	ok := s.state == StatePaused
	s.mu.Unlock()
	if ss == nil || !ok {
		return
	}
	ss.emitter.Resume()
	s.setState(StateCapturing, "", ss.id)
}

func (s *Supervisor) resetFault() {
	s.mu.Lock()
	ok := s.state == StateFaulted
	s.mu.Unlock()
	if !ok {
		return
	}
	s.setState(StateIdle, "reset", "")
}

func (s *Supervisor) setRate(cpm int) {
	if cpm <= 0 {
		return
	}
	s.mu.Lock()
	s.rateCPM = cpm
	ss := s.current
	s.mu.Unlock()
	if ss != nil {
		ss.emitter.SetRate(cpm)
	}
	s.log.Info("emission rate changed", slog.Int("rate_cpm", cpm))
}

func (s *Supervisor) setMode(mode string) {
	safe := mode == "safe"
	s.mu.Lock()
	s.safeMode = safe
	ss := s.current
	s.mu.Unlock()
	if ss != nil {
		ss.emitter.SetSafeMode(safe)
	}
	s.log.Info("pacing mode changed", slog.String("mode", mode))
}

// finishSession runs after a session's goroutines have all returned.
func (s *Supervisor) finishSession(ctx context.Context) {
	s.mu.Lock()
	ss := s.current
	s.current = nil
	state := s.state
	s.mu.Unlock()
	if ss == nil {
		return
	}
	s.metrics.recordKeys(ctx, ss.emitter.Typed())

	if ss.err != nil && !errors.Is(ss.err, context.Canceled) {
		s.setState(StateFaulted, ss.err.Error(), ss.id)
		s.raiseEvent(ss.id, protocol.EventFault, ss.err.Error(), 0)
		if err := beeep.Alert("VoxKey", "dictation pipeline faulted: "+ss.err.Error(), ""); err != nil {
			s.log.Debug("desktop notification failed", slog.String("error", err.Error()))
		}
		return
	}

	if state == StateDraining {
		s.setState(StateStopped, "", ss.id)
	}
	s.setState(StateIdle, "", "")

	if text, err := s.store.SessionTranscript(ctx, ss.id); err == nil && text != "" {
		ss.log.Info("session transcript persisted", slog.Int("chars", len(text)))
	}
}

// shutdown drains the active session during daemon exit.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	ss := s.current
	s.mu.Unlock()
	if ss == nil {
		return
	}
	s.setState(StateDraining, "shutdown", ss.id)
	ss.beginDrain()
	select {
	case <-ss.done:
	case <-time.After(5 * time.Second):
		s.log.Warn("session did not drain before shutdown deadline")
	}
}

// setState applies a lifecycle transition and announces it on the bus.
func (s *Supervisor) setState(next State, reason, sessionID string) {
	s.mu.Lock()
	if !s.state.CanTransition(next) {
		prev := s.state
		s.mu.Unlock()
		s.log.Warn("illegal state transition",
			slog.String("from", string(prev)),
			slog.String("to", string(next)))
		return
	}
	s.state = next
	s.mu.Unlock()

	s.log.Info("pipeline state changed",
		slog.String("state", string(next)),
		slog.String("reason", reason))
	s.publish(protocol.SubjectPipelineState, protocol.StateChange{
		SessionID: sessionID,
		State:     string(next),
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// eventFunc builds the callback pipeline stages use to report events.
func (s *Supervisor) eventFunc(sessionID string) func(string, uint64) {
	return func(eventType string, count uint64) {
		s.raiseEvent(sessionID, eventType, "", count)
	}
}

// raiseEvent publishes a pipeline event and records it in the store. The
// store write runs off the caller's goroutine so audio paths never wait on
// the database.
func (s *Supervisor) raiseEvent(sessionID, eventType, detail string, count uint64) {
	s.metrics.recordEvent(context.Background(), eventType)
	s.publish(protocol.SubjectPipelineEvent, protocol.PipelineEvent{
		SessionID: sessionID,
		Type:      eventType,
		Detail:    detail,
		Count:     count,
		Timestamp: time.Now().UTC(),
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.AppendEvent(ctx, eventstore.Event{
			SessionID: sessionID,
			Type:      eventType,
			Detail:    detail,
			Count:     count,
		}); err != nil {
			s.log.Warn("failed to persist event", slog.String("error", err.Error()))
		}
	}()
}

func (s *Supervisor) publish(subject string, v any) {
	if s.bus == nil {
		return
	}
	s.bus.PublishJSON(subject, v)
}
