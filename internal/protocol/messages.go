package protocol

import "time"

// Command is a control-plane message from the GUI/CLI collaborator.
type Command struct {
	Action    string    `json:"action"` // start, stop, pause, resume, abort, reset, set_rate, set_mode
	RateCPM   int       `json:"rate_cpm,omitempty"`
	Mode      string    `json:"mode,omitempty"` // normal, safe
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptUpdate is broadcast whenever the stabilizer changes state.
// Pending text may still be revised; Delta text never will.
type TranscriptUpdate struct {
	SessionID   string    `json:"session_id"`
	Delta       string    `json:"delta,omitempty"`
	Pending     string    `json:"pending,omitempty"`
	WindowIndex uint64    `json:"window_index"`
	Correction  bool      `json:"correction,omitempty"`
	Erase       int       `json:"erase,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PipelineEvent reports recoverable and fatal pipeline conditions to the
// observability collaborator.
type PipelineEvent struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Count     uint64    `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateChange announces supervisor state transitions.
type StateChange struct {
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectControl          = "voxkey.control"
	SubjectTranscriptDelta  = "voxkey.transcript.confirmed"
	SubjectTranscriptUpdate = "voxkey.transcript.pending"
	SubjectPipelineEvent    = "voxkey.pipeline.event"
	SubjectPipelineState    = "voxkey.pipeline.state"
)

// Pipeline event types, matching the error taxonomy.
const (
	EventOverrun         = "overrun"
	EventContextOverrun  = "context_overrun"
	EventReconfigNeeded  = "reconfiguration_required"
	EventInferenceError  = "inference_error"
	EventEmissionFailure = "emission_failure"
	EventFault           = "fault"
)

// Command actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionAbort   = "abort"
	ActionReset   = "reset"
	ActionSetRate = "set_rate"
	ActionSetMode = "set_mode"
)
