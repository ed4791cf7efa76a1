package asr

import (
	"context"
	"fmt"
	"sync"
)

// MockRecognizer returns scripted results in order, then repeats the last
// one. With no script it echoes the window length, which is enough to run
// the daemon without a model.
type MockRecognizer struct {
	mu     sync.Mutex
	script []Result
	errs   map[int]error
	calls  int
}

func NewMockRecognizer(script []Result) *MockRecognizer {
	return &MockRecognizer{script: script}
}

// FailCall makes the nth Transcribe call (zero-based) return err.
func (m *MockRecognizer) FailCall(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errs == nil {
		m.errs = make(map[int]error)
	}
	m.errs[n] = err
}

func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockRecognizer) Transcribe(_ context.Context, samples []float32, final bool) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.calls
	m.calls++

	if err, ok := m.errs[n]; ok {
		return Result{}, err
	}
	if len(m.script) == 0 {
		mode := "partial"
		if final {
			mode = "final"
		}
		return Result{Text: fmt.Sprintf("[%s window=%d]", mode, len(samples))}, nil
	}
	if n >= len(m.script) {
		return m.script[len(m.script)-1], nil
	}
	return m.script[n], nil
}

func (m *MockRecognizer) Close() error { return nil }
