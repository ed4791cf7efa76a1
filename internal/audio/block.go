package audio

// Block is a chunk of interleaved float32 PCM as delivered by a capture
// device or re-blocked by the Accumulator. Seq is strictly increasing per
// source; a block is never reordered once enqueued.
type Block struct {
	Samples    []float32
	Channels   int
	SampleRate int
	Seq        uint64
}

// Frames returns the number of sample frames (samples per channel).
func (b Block) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}
