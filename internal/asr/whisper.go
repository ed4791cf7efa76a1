package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxkey-labs/voxkey-core/internal/config"
)

// whisperRecognizer runs inference through the whisper.cpp CGO bindings.
// The model is loaded once; each Transcribe call creates a fresh context
// because whisper contexts are not reusable across inferences.
type whisperRecognizer struct {
	model    whisperlib.Model
	language string
	log      *slog.Logger
}

func NewWhisperRecognizer(cfg config.ASRConfig, log *slog.Logger) (Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper model path is empty")
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, err)
	}
	return &whisperRecognizer{
		model:    model,
		language: cfg.Language,
		log:      log.With(slog.String("component", "whisper")),
	}, nil
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, samples []float32, _ bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("create whisper context: %w", err)
	}
	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			w.log.Warn("failed to set language, using model default",
				slog.String("language", w.language),
				slog.String("error", err.Error()))
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper inference: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read whisper segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return Result{Text: strings.Join(parts, " ")}, nil
}

func (w *whisperRecognizer) Close() error {
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}
