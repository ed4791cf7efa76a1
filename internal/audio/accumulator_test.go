package audio

import (
	"errors"
	"testing"
)

func nativeBlock(seq uint64, frames, channels, rate int, fill float32) Block {
	samples := make([]float32, frames*channels)
	for i := range samples {
		samples[i] = fill
	}
	return Block{Samples: samples, Channels: channels, SampleRate: rate, Seq: seq}
}

func TestAccumulatorReblocks480Into1024(t *testing.T) {
	acc, err := NewAccumulator(1024)
	if err != nil {
		t.Fatalf("new accumulator: %v", err)
	}

	var emitted []Block
	for i := 0; i < 3; i++ {
		out, err := acc.Push(nativeBlock(uint64(i), 480, 1, 48000, float32(i+1)))
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		emitted = append(emitted, out...)
	}

	// 3 * 480 = 1440 samples: exactly one 1024 block out, 416 retained.
	if len(emitted) != 1 {
		t.Fatalf("expected 1 emitted block, got %d", len(emitted))
	}
	if len(emitted[0].Samples) != 1024 {
		t.Fatalf("expected 1024 samples, got %d", len(emitted[0].Samples))
	}
	if acc.Pending() != 416 {
		t.Fatalf("expected 416 retained samples, got %d", acc.Pending())
	}
}

func TestAccumulatorConservesSamples(t *testing.T) {
	acc, err := NewAccumulator(64)
	if err != nil {
		t.Fatalf("new accumulator: %v", err)
	}

	var input []float32
	var output []float32
	next := float32(0)
	for _, frames := range []int{17, 200, 3, 64, 129, 50} {
		samples := make([]float32, frames)
		for i := range samples {
			samples[i] = next
			next++
		}
		input = append(input, samples...)
		out, err := acc.Push(Block{Samples: samples, Channels: 1, SampleRate: 16000})
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		for _, b := range out {
			if len(b.Samples) != 64 {
				t.Fatalf("short block emitted: %d samples", len(b.Samples))
			}
			output = append(output, b.Samples...)
		}
	}

	if len(input)-len(output) != acc.Pending() {
		t.Fatalf("sample count mismatch: in=%d out=%d pending=%d", len(input), len(output), acc.Pending())
	}
	for i := range output {
		if output[i] != input[i] {
			t.Fatalf("sample %d reordered or corrupted: got %f want %f", i, output[i], input[i])
		}
	}
}

func TestAccumulatorSequenceNumbers(t *testing.T) {
	acc, _ := NewAccumulator(32)
	out, err := acc.Push(nativeBlock(0, 100, 1, 16000, 0.5))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 blocks from 100 frames at size 32, got %d", len(out))
	}
	for i, b := range out {
		if b.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, b.Seq)
		}
	}
}

func TestAccumulatorMultiChannel(t *testing.T) {
	acc, _ := NewAccumulator(16)
	// 16 frames of stereo = 32 samples per block.
	out, err := acc.Push(nativeBlock(0, 40, 2, 44100, 0.1))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 stereo blocks, got %d", len(out))
	}
	if len(out[0].Samples) != 32 {
		t.Fatalf("expected 32 samples per stereo block, got %d", len(out[0].Samples))
	}
	if acc.Pending() != 16 { // 8 frames * 2 channels
		t.Fatalf("expected 16 retained samples, got %d", acc.Pending())
	}
}

func TestAccumulatorDetectsFormatChange(t *testing.T) {
	acc, _ := NewAccumulator(1024)
	if _, err := acc.Push(nativeBlock(0, 480, 1, 48000, 0)); err != nil {
		t.Fatalf("first push: %v", err)
	}
	_, err := acc.Push(nativeBlock(1, 480, 2, 48000, 0))
	if !errors.Is(err, ErrReconfigureRequired) {
		t.Fatalf("expected ErrReconfigureRequired on channel change, got %v", err)
	}
	_, err = acc.Push(nativeBlock(2, 480, 1, 44100, 0))
	if !errors.Is(err, ErrReconfigureRequired) {
		t.Fatalf("expected ErrReconfigureRequired on rate change, got %v", err)
	}
}

func TestAccumulatorFlushPadsRemainder(t *testing.T) {
	acc, _ := NewAccumulator(1024)
	if _, err := acc.Push(nativeBlock(0, 480, 1, 48000, 1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	b, ok := acc.Flush()
	if !ok {
		t.Fatal("expected flush to emit the padded remainder")
	}
	if len(b.Samples) != 1024 {
		t.Fatalf("expected padded 1024-sample block, got %d", len(b.Samples))
	}
	for i := 0; i < 480; i++ {
		if b.Samples[i] != 1 {
			t.Fatalf("retained sample %d lost during flush", i)
		}
	}
	for i := 480; i < 1024; i++ {
		if b.Samples[i] != 0 {
			t.Fatalf("expected silence padding at %d", i)
		}
	}
	if _, ok := acc.Flush(); ok {
		t.Fatal("second flush should report nothing buffered")
	}
}

func TestAccumulatorResetClearsFormat(t *testing.T) {
	acc, _ := NewAccumulator(256)
	if _, err := acc.Push(nativeBlock(0, 100, 2, 44100, 0)); err != nil {
		t.Fatalf("push: %v", err)
	}
	acc.Reset()
	if acc.Pending() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", acc.Pending())
	}
	// A different format is accepted after reset.
	if _, err := acc.Push(nativeBlock(0, 100, 1, 48000, 0)); err != nil {
		t.Fatalf("push after reset: %v", err)
	}
}
