package audio

// Format describes the native sample rate and channel count of a capture
// device. Both are device-determined and may change on hot-swap.
type Format struct {
	SampleRate int
	Channels   int
}

// Source abstracts the capture side of the pipeline. Implementations own a
// BlockQueue and push into it from their capture callback; the callback must
// never block on downstream work.
type Source interface {
	// Start begins capture. Format is valid after Start returns.
	Start() error
	// Stop ends capture and releases the device.
	Stop() error
	// Queue returns the outbound block queue.
	Queue() *BlockQueue
	// Format reports the native device format.
	Format() Format
}
