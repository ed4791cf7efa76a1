package audio

import (
	"errors"
	"fmt"
)

// ErrReconfigureRequired is returned when the input format changes
// mid-session (device hot-swap). The pipeline must be reset with the new
// format; resampling with stale parameters would silently corrupt audio.
var ErrReconfigureRequired = errors.New("audio: input format changed, reconfiguration required")

// Accumulator re-blocks irregularly sized capture blocks into fixed-size
// blocks of blockSize frames. The remainder below one block is retained
// between pushes, never dropped and never duplicated.
type Accumulator struct {
	blockSize  int
	channels   int
	sampleRate int
	buf        []float32
	seq        uint64
}

func NewAccumulator(blockSize int) (*Accumulator, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("audio: block size must be positive, got %d", blockSize)
	}
	return &Accumulator{blockSize: blockSize}, nil
}

// Push appends the incoming block and extracts as many fixed-size blocks as
// the buffer now holds. Emitted blocks carry consecutive sequence numbers.
func (a *Accumulator) Push(b Block) ([]Block, error) {
	if b.Channels <= 0 || b.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid block format %dch@%dHz", b.Channels, b.SampleRate)
	}
	if a.channels == 0 {
		// Format latches on the first block of a session.
		a.channels = b.Channels
		a.sampleRate = b.SampleRate
	} else if b.Channels != a.channels || b.SampleRate != a.sampleRate {
		return nil, ErrReconfigureRequired
	}

	a.buf = append(a.buf, b.Samples...)

	need := a.blockSize * a.channels
	var out []Block
	for len(a.buf) >= need {
		samples := make([]float32, need)
		copy(samples, a.buf[:need])
		a.buf = a.buf[:copy(a.buf, a.buf[need:])]
		out = append(out, Block{
			Samples:    samples,
			Channels:   a.channels,
			SampleRate: a.sampleRate,
			Seq:        a.seq,
		})
		a.seq++
	}
	return out, nil
}

// Flush pads the retained remainder with silence to a full block. Used when
// draining a stopping session so trailing audio reaches inference. Returns
// ok=false when nothing is buffered.
func (a *Accumulator) Flush() (Block, bool) {
	if len(a.buf) == 0 || a.channels == 0 {
		return Block{}, false
	}
	need := a.blockSize * a.channels
	samples := make([]float32, need)
	copy(samples, a.buf)
	a.buf = a.buf[:0]
	b := Block{
		Samples:    samples,
		Channels:   a.channels,
		SampleRate: a.sampleRate,
		Seq:        a.seq,
	}
	a.seq++
	return b, true
}

// Pending reports how many samples are buffered below one block.
func (a *Accumulator) Pending() int { return len(a.buf) }

// Reset clears buffered samples and unlatches the input format.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
	a.channels = 0
	a.sampleRate = 0
	a.seq = 0
}
