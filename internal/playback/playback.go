// Package playback owns the output half of the voice pipeline: decoded
// buffers → gapless scheduler → gain stage → analysis tap → speaker.
//
// The scheduler keeps a cursor (nextStart) on the output clock and places
// each enqueued buffer at max(nextStart, now), so chunks play back-to-back
// with no gap or overlap regardless of how irregularly they arrive from the
// network. Interrupt cuts everything that is playing or scheduled and resets
// the cursor, so the next chunk starts at "now" — the barge-in path.
//
// The output clock is the device's own render cadence: every sample the
// device pulls advances the clock by exactly one sample, which keeps
// scheduling drift-free relative to actual playback.
package playback

import (
	"fmt"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/analysis"
	"github.com/MrWong99/voicelink/pkg/codec"
)

// StreamSampleRate is the sample rate of audio returned by the remote model.
const StreamSampleRate = 24000

// source is one scheduled playback buffer: samples plus the output-clock
// sample index at which it starts. It lives in the scheduler's live-set from
// Enqueue until its last sample has been rendered (natural completion) or
// until Interrupt removes it.
type source struct {
	samples []float32
	start   int64
}

func (s *source) end() int64 { return s.start + int64(len(s.samples)) }

// Scheduler plays decoded audio buffers back-to-back in enqueue order.
// All exported methods are safe for concurrent use.
type Scheduler struct {
	dev audio.OutputDevice
	tap *analysis.Tap

	mu        sync.Mutex
	cursor    int64 // output clock: samples rendered since Start
	nextStart int64 // where the next enqueued buffer begins
	live      []*source
	gain      float32
	started   bool

	closeOnce sync.Once
}

// New creates a Scheduler rendering into dev. Playback does not begin until
// [Scheduler.Start]. The device format's sample rate defines the output
// clock; buffers at other rates are resampled on enqueue.
func New(dev audio.OutputDevice) *Scheduler {
	return &Scheduler{
		dev:  dev,
		tap:  analysis.NewTap(analysis.DefaultWindowSize),
		gain: 1,
	}
}

// Start begins pulling render blocks from the device. It may be called once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("playback: already started")
	}
	if err := s.dev.Start(s.render); err != nil {
		return fmt.Errorf("playback: start device: %w", err)
	}
	s.started = true
	return nil
}

// Enqueue schedules buf for gapless playback after everything already
// enqueued. The start position is max(nextStart, now) — never in the past —
// and the cursor then advances by exactly the buffer's length, so consecutive
// chunks are seamless and never overlap.
func (s *Scheduler) Enqueue(buf *codec.Buffer) {
	samples := buf.Samples
	if rate := s.dev.Format().SampleRate; buf.SampleRate != rate {
		samples = codec.ResampleMono(samples, buf.SampleRate, rate)
	}
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.nextStart
	if s.cursor > start {
		start = s.cursor
	}
	s.live = append(s.live, &source{samples: samples, start: start})
	s.nextStart = start + int64(len(samples))
}

// Interrupt immediately stops every playing and scheduled source, empties the
// live-set and resets the cursor to zero so the next enqueued chunk starts at
// "now" instead of a stale future offset. Idempotent: interrupting an idle or
// already-interrupted scheduler is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = nil
	s.nextStart = 0
}

// render is the device pull callback. It fills out from the live sources at
// the current clock position, applies the gain stage, feeds the post-mix tap
// and retires sources whose last sample has played.
func (s *Scheduler) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	s.mu.Lock()
	blockStart := s.cursor
	blockEnd := blockStart + int64(len(out))

	remaining := s.live[:0]
	for _, src := range s.live {
		lo, hi := src.start, src.end()
		if lo < blockStart {
			lo = blockStart
		}
		if hi > blockEnd {
			hi = blockEnd
		}
		for i := lo; i < hi; i++ {
			out[i-blockStart] += src.samples[i-src.start]
		}
		if src.end() > blockEnd {
			remaining = append(remaining, src)
		}
		// else: natural completion — the source is released here.
	}
	s.live = remaining
	s.cursor = blockEnd

	gain := s.gain
	s.mu.Unlock()

	if gain != 1 {
		for i := range out {
			out[i] *= gain
		}
	}
	s.tap.Push(out)
}

// SetGain sets the output gain stage. Negative values are clamped to zero.
// Scheduling is unaffected; gain applies at render time only.
func (s *Scheduler) SetGain(g float64) {
	if g < 0 {
		g = 0
	}
	s.mu.Lock()
	s.gain = float32(g)
	s.mu.Unlock()
}

// Gain returns the current output gain.
func (s *Scheduler) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.gain)
}

// Live returns the number of sources that are scheduled or playing and have
// not yet completed.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// NextStart returns the cursor position, in samples on the output clock, at
// which the next enqueued buffer would be placed at the earliest.
func (s *Scheduler) NextStart() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Position returns the current output-clock position in samples.
func (s *Scheduler) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Tap returns the post-mix analysis tap, downstream of the gain stage.
func (s *Scheduler) Tap() *analysis.Tap { return s.tap }

// Close stops playback and releases the output device. Idempotent.
func (s *Scheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.dev.Close()
		s.mu.Lock()
		s.live = nil
		s.mu.Unlock()
	})
	return err
}
