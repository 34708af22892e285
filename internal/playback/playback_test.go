package playback_test

import (
	"testing"

	"github.com/MrWong99/voicelink/internal/playback"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/mock"
	"github.com/MrWong99/voicelink/pkg/codec"
)

const rate = playback.StreamSampleRate

func newScheduler(t *testing.T) (*playback.Scheduler, *mock.OutputDevice) {
	t.Helper()
	dev := &mock.OutputDevice{DeviceFormat: audio.Format{SampleRate: rate, Channels: 1}}
	s := playback.New(dev)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dev
}

// buffer creates a mono buffer of n samples all set to value.
func buffer(n int, value float32) *codec.Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return &codec.Buffer{Samples: samples, SampleRate: rate, Channels: 1}
}

func TestEnqueue_BackToBackOrdering(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)

	// A: 1.0s, B: 0.5s. B must start exactly at A's end.
	s.Enqueue(buffer(rate, 0.5))
	if got, want := s.NextStart(), int64(rate); got != want {
		t.Fatalf("NextStart after A = %d, want %d", got, want)
	}

	s.Enqueue(buffer(rate/2, 0.25))
	if got, want := s.NextStart(), int64(rate+rate/2); got != want {
		t.Fatalf("NextStart after B = %d, want %d", got, want)
	}
	if got := s.Live(); got != 2 {
		t.Errorf("Live = %d, want 2", got)
	}
}

func TestRender_GaplessChunkBoundary(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	s.Enqueue(buffer(100, 0.5))
	s.Enqueue(buffer(100, -0.5))

	// Render across the boundary: samples 0..149.
	out := dev.Render(150)
	for i := range 100 {
		if out[i] != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5 (first chunk)", i, out[i])
		}
	}
	for i := 100; i < 150; i++ {
		if out[i] != -0.5 {
			t.Fatalf("sample %d = %v, want -0.5 (second chunk, no gap)", i, out[i])
		}
	}

	// First chunk completed naturally and was released; second is still live.
	if got := s.Live(); got != 1 {
		t.Errorf("Live after partial render = %d, want 1", got)
	}

	out = dev.Render(100)
	for i := range 50 {
		if out[i] != -0.5 {
			t.Fatalf("sample %d = %v, want -0.5 (tail of second chunk)", i, out[i])
		}
	}
	for i := 50; i < 100; i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %v, want silence after queue drained", i, out[i])
		}
	}
	if got := s.Live(); got != 0 {
		t.Errorf("Live after full drain = %d, want 0", got)
	}
}

func TestEnqueue_LateChunkStartsAtNow(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	// Let the clock run past any prior activity, then enqueue.
	dev.Render(500)
	s.Enqueue(buffer(100, 1))

	// The chunk must start at the current clock position, not at zero.
	if got, want := s.NextStart(), int64(600); got != want {
		t.Fatalf("NextStart = %d, want %d (clock 500 + 100 samples)", got, want)
	}
	out := dev.Render(100)
	if out[0] != 1 {
		t.Errorf("first rendered sample = %v, want 1 (starts immediately)", out[0])
	}
}

func TestInterrupt_StopsEverythingAndResetsCursor(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	s.Enqueue(buffer(1000, 0.5))
	s.Enqueue(buffer(1000, 0.5))
	dev.Render(100) // mid-playback

	s.Interrupt()

	if got := s.Live(); got != 0 {
		t.Fatalf("Live after Interrupt = %d, want 0", got)
	}
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart after Interrupt = %d, want 0", got)
	}

	// Playback is cut immediately: next block is silence.
	out := dev.Render(100)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v after Interrupt, want silence", i, v)
		}
	}

	// The next enqueued chunk starts at "now", not at the stale cursor.
	s.Enqueue(buffer(50, 0.25))
	out = dev.Render(50)
	if out[0] != 0.25 {
		t.Errorf("post-interrupt chunk did not start immediately: sample 0 = %v", out[0])
	}
}

func TestInterrupt_Idempotent(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	// Interrupt on an idle scheduler, twice in a row, and after natural
	// completion — none of these may panic or corrupt state.
	s.Interrupt()
	s.Interrupt()

	s.Enqueue(buffer(10, 1))
	dev.Render(10) // completes naturally
	s.Interrupt()

	if got := s.Live(); got != 0 {
		t.Errorf("Live = %d, want 0", got)
	}
}

func TestGainStage(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	s.Enqueue(buffer(10, 0.8))
	s.SetGain(0.5)
	out := dev.Render(10)
	if out[0] != 0.4 {
		t.Errorf("gained sample = %v, want 0.4", out[0])
	}

	// Gain must not affect scheduling: cursor advanced normally.
	if got := s.Position(); got != 10 {
		t.Errorf("Position = %d, want 10", got)
	}

	s.SetGain(-3)
	if got := s.Gain(); got != 0 {
		t.Errorf("negative gain clamped to %v, want 0", got)
	}
}

func TestEnqueue_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)

	// 12 kHz buffer on a 24 kHz clock: duration is preserved, sample count doubles.
	s.Enqueue(&codec.Buffer{Samples: make([]float32, 600), SampleRate: rate / 2, Channels: 1})
	if got, want := s.NextStart(), int64(1200); got != want {
		t.Errorf("NextStart = %d, want %d", got, want)
	}
}

func TestScheduler_TapSeesPostGainOutput(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)

	s.Enqueue(buffer(2048, 0.5))
	dev.Render(2048)

	if s.Tap().Magnitudes() == nil {
		t.Error("output tap produced no snapshot after rendering")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	dev := &mock.OutputDevice{DeviceFormat: audio.Format{SampleRate: rate, Channels: 1}}
	s := playback.New(dev)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !dev.Closed() {
		t.Error("device not released on Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
