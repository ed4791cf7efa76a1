package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureSource captures from a PortAudio input device. The stream callback
// runs on the audio thread: it copies the driver buffer into a Block and
// pushes it onto the queue, nothing else. PortAudio chooses the callback
// buffer size, so blocks arrive in driver-dependent, irregular sizes.
type CaptureSource struct {
	deviceName string
	queue      *BlockQueue
	log        *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	format  Format
	seq     uint64
	started bool
}

var _ Source = (*CaptureSource)(nil)

// NewCaptureSource prepares a capture source for the named device, or the
// default input device when name is empty.
func NewCaptureSource(deviceName string, queueDepth int, log *slog.Logger) *CaptureSource {
	return &CaptureSource{
		deviceName: deviceName,
		queue:      NewBlockQueue(queueDepth),
		log:        log.With(slog.String("component", "capture")),
	}
}

func (c *CaptureSource) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := c.findDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	channels := device.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		portaudio.Terminate()
		return fmt.Errorf("device %q has no input channels", device.Name)
	}
	sampleRate := int(device.DefaultSampleRate)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		// Audio-thread callback: copy out of the driver buffer and enqueue.
		samples := make([]float32, len(in))
		copy(samples, in)
		c.queue.Push(Block{
			Samples:    samples,
			Channels:   channels,
			SampleRate: sampleRate,
			Seq:        c.seq,
		})
		c.seq++
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	c.stream = stream
	c.format = Format{SampleRate: sampleRate, Channels: channels}
	c.started = true
	c.log.Info("audio capture started",
		slog.String("device", device.Name),
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels))
	return nil
}

func (c *CaptureSource) findDevice() (*portaudio.DeviceInfo, error) {
	if c.deviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == c.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", c.deviceName)
}

func (c *CaptureSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	var firstErr error
	if err := c.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stop input stream: %w", err)
	}
	if err := c.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close input stream: %w", err)
	}
	c.stream = nil
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("terminate portaudio: %w", err)
	}
	c.log.Info("audio capture stopped")
	return firstErr
}

func (c *CaptureSource) Queue() *BlockQueue { return c.queue }

func (c *CaptureSource) Format() Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}
