// Package capture owns the input half of the voice pipeline: microphone →
// analysis tap → fixed-size chunker → PCM16 encoder → outbound channel.
//
// The pipeline never blocks the device's data callback. Encoded chunks are
// handed off through a buffered channel with drop-on-full semantics, so a
// missing or slow consumer (e.g. no active session) costs chunks, never
// latency. This package is internal because it encapsulates pipeline wiring
// that is not meant to be driven directly by external code.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/analysis"
	"github.com/MrWong99/voicelink/pkg/codec"
)

const (
	// DefaultChunkSize is the number of samples per outbound chunk.
	DefaultChunkSize = 4096

	// StreamSampleRate is the sample rate the remote model expects for input
	// audio. Device input at any other rate is resampled.
	StreamSampleRate = 16000

	// defaultChunkBuffer is the outbound channel depth. At 4096 samples per
	// chunk and 16 kHz this holds about two seconds of speech.
	defaultChunkBuffer = 8
)

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithChunkSize overrides the samples-per-chunk count. Values < 1 are ignored.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithChunkBuffer overrides the outbound channel depth. Values < 1 are ignored.
func WithChunkBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkBuf = n
		}
	}
}

// WithDropHook registers fn to be invoked once per discarded chunk. fn runs
// on the device callback goroutine and must not block.
func WithDropHook(fn func()) Option {
	return func(p *Pipeline) { p.onDrop = fn }
}

// Pipeline continuously acquires microphone audio and emits fixed-size
// PCM16 chunks on [Pipeline.Chunks].
//
// The pipeline owns its device exclusively from [Pipeline.Start] until
// [Pipeline.Close]. All exported methods are safe for concurrent use; the
// accumulation state is touched only by the device callback.
type Pipeline struct {
	dev       audio.InputDevice
	tap       *analysis.Tap
	chunkSize int
	chunkBuf  int

	out     chan []byte
	muted   atomic.Bool
	dropped atomic.Uint64
	onDrop  func()

	// pending accumulates resampled samples between chunk boundaries.
	// Only the device callback touches it.
	pending []float32

	mu        sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

// New creates a Pipeline reading from dev. The device must be mono; its
// sample rate may differ from [StreamSampleRate], in which case frames are
// resampled before chunking. Capture does not begin until [Pipeline.Start].
func New(dev audio.InputDevice, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:       dev,
		tap:       analysis.NewTap(analysis.DefaultWindowSize),
		chunkSize: DefaultChunkSize,
		chunkBuf:  defaultChunkBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	p.out = make(chan []byte, p.chunkBuf)
	return p
}

// Start begins capture. It may be called once per Pipeline.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("capture: pipeline closed")
	}
	if p.started {
		return fmt.Errorf("capture: already started")
	}
	if err := p.dev.Start(p.onFrame); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	p.started = true
	return nil
}

// onFrame is the device data callback. It must not block.
func (p *Pipeline) onFrame(samples []float32) {
	// The tap sees raw input even while muted so the visualiser stays live.
	p.tap.Push(samples)

	if p.muted.Load() {
		return
	}

	if rate := p.dev.Format().SampleRate; rate != StreamSampleRate {
		samples = codec.ResampleMono(samples, rate, StreamSampleRate)
	}
	p.pending = append(p.pending, samples...)

	for len(p.pending) >= p.chunkSize {
		chunk := codec.EncodePCM16(p.pending[:p.chunkSize])
		p.pending = p.pending[p.chunkSize:]

		select {
		case p.out <- chunk:
		default:
			// No consumer keeping up (or none at all): drop rather than
			// buffer unboundedly while disconnected.
			p.dropped.Add(1)
			if p.onDrop != nil {
				p.onDrop()
			}
		}
	}
}

// Chunks returns the outbound channel of encoded PCM16 chunks. The channel
// is closed by [Pipeline.Close].
func (p *Pipeline) Chunks() <-chan []byte { return p.out }

// Tap returns the pre-chunking analysis tap on the raw microphone signal.
func (p *Pipeline) Tap() *analysis.Tap { return p.tap }

// SetMuted gates chunk emission. While muted, no chunks are produced (the
// analysis tap keeps receiving input). Safe to toggle at any time.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports whether chunk emission is currently gated.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Dropped returns the number of chunks discarded because the outbound
// channel was full.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Close stops capture, releases the microphone and closes the chunk channel.
// Idempotent.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		// Stop device callbacks before closing the channel they feed.
		err = p.dev.Close()
		close(p.out)
	})
	return err
}
