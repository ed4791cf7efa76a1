// Package asr runs speech recognition over a rolling window of 16 kHz mono
// audio and emits partial and final hypotheses.
package asr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxkey-labs/voxkey-core/internal/config"
)

// Result captures recognizer output for one inference pass.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts speech-to-text backends. Samples are 16 kHz mono
// float32 in [-1, 1]. Implementations may be stateful across calls but must
// be safe for use from a single goroutine.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, final bool) (Result, error)
	Close() error
}

// NewRecognizer constructs the backend selected by cfg.Mode.
func NewRecognizer(cfg config.ASRConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "whisper":
		return NewWhisperRecognizer(cfg, log)
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(nil), nil
	default:
		return nil, fmt.Errorf("unknown asr mode: %s", cfg.Mode)
	}
}
