package audio

import "sync/atomic"

// MockSource feeds scripted blocks through the same queue a real device
// would, for tests and for running the daemon without hardware.
type MockSource struct {
	queue   *BlockQueue
	format  Format
	seq     atomic.Uint64
	started atomic.Bool
}

var _ Source = (*MockSource)(nil)

func NewMockSource(format Format, queueDepth int) *MockSource {
	return &MockSource{
		queue:  NewBlockQueue(queueDepth),
		format: format,
	}
}

func (m *MockSource) Start() error {
	m.started.Store(true)
	return nil
}

func (m *MockSource) Stop() error {
	m.started.Store(false)
	return nil
}

func (m *MockSource) Queue() *BlockQueue { return m.queue }

func (m *MockSource) Format() Format { return m.format }

// Feed enqueues samples as one block in the source's native format.
func (m *MockSource) Feed(samples []float32) {
	m.queue.Push(Block{
		Samples:    samples,
		Channels:   m.format.Channels,
		SampleRate: m.format.SampleRate,
		Seq:        m.seq.Add(1) - 1,
	})
}
