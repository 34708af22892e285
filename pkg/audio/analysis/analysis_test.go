package analysis_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voicelink/pkg/audio/analysis"
)

func TestNewTap_RoundsToPowerOfTwo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, analysis.DefaultWindowSize},
		{2, 2},
		{1000, 1024},
		{2048, 2048},
	}
	for _, tt := range tests {
		if got := analysis.NewTap(tt.in).WindowSize(); got != tt.want {
			t.Errorf("NewTap(%d).WindowSize() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTap_EmptyBeforeFirstPush(t *testing.T) {
	t.Parallel()

	tap := analysis.NewTap(256)
	if got := tap.Magnitudes(); got != nil {
		t.Errorf("Magnitudes before any Push = %v, want nil", got)
	}
}

func TestTap_NilIsSafe(t *testing.T) {
	t.Parallel()

	var tap *analysis.Tap
	tap.Push([]float32{0.5})
	if got := tap.Magnitudes(); got != nil {
		t.Errorf("nil tap Magnitudes = %v, want nil", got)
	}
	if got := tap.WindowSize(); got != 0 {
		t.Errorf("nil tap WindowSize = %d, want 0", got)
	}
}

func TestTap_SinePeaksInExpectedBin(t *testing.T) {
	t.Parallel()

	const (
		window = 1024
		rate   = 16000
		freq   = 1000.0
	)
	tap := analysis.NewTap(window)

	samples := make([]float32, window)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / rate))
	}
	tap.Push(samples)

	mags := tap.Magnitudes()
	if len(mags) != window/2+1 {
		t.Fatalf("len(Magnitudes) = %d, want %d", len(mags), window/2+1)
	}

	peak := 0
	for i, m := range mags {
		if m > mags[peak] {
			peak = i
		}
	}
	want := int(freq * window / rate) // expected bin index
	if peak < want-1 || peak > want+1 {
		t.Errorf("peak bin = %d, want %d±1", peak, want)
	}
}

func TestTap_PushWrapsRing(t *testing.T) {
	t.Parallel()

	tap := analysis.NewTap(64)

	// Push far more than one window; the tap must keep only the newest data
	// and still produce a finite snapshot.
	block := make([]float32, 50)
	for i := range block {
		block[i] = 0.25
	}
	for range 10 {
		tap.Push(block)
	}

	for i, m := range tap.Magnitudes() {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			t.Fatalf("bin %d is not finite: %v", i, m)
		}
	}
}
