// Package analysis implements the read-only analysis tap exposed to the
// visualisation layer.
//
// A [Tap] sits on an audio path without altering it: the owning pipeline
// pushes every sample block through the tap, and the visualiser asks for
// frequency-domain magnitude snapshots on demand. The tap keeps only a small
// ring of recent samples, so a slow (or absent) consumer never affects the
// signal path.
package analysis

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultWindowSize is the number of recent samples a [Tap] retains and
// transforms per snapshot.
const DefaultWindowSize = 2048

// Tap is a non-mutating frequency-analysis point on an audio path.
//
// Push is safe to call from a device callback: it copies into a fixed ring
// and never allocates. Snapshot computation happens entirely on the caller's
// goroutine. A nil *Tap is valid; all methods are no-ops on it.
type Tap struct {
	mu     sync.Mutex
	ring   []float64
	pos    int
	filled bool

	fft    *fourier.FFT
	window []float64 // Hann coefficients, len == len(ring)

	// scratch buffers reused across Magnitudes calls, guarded by mu.
	seq    []float64
	coeffs []complex128
}

// NewTap creates a tap with the given window size. Sizes that are not powers
// of two are rounded up; sizes < 2 fall back to [DefaultWindowSize].
func NewTap(windowSize int) *Tap {
	if windowSize < 2 {
		windowSize = DefaultWindowSize
	}
	n := 2
	for n < windowSize {
		n *= 2
	}

	window := make([]float64, n)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}

	return &Tap{
		ring:   make([]float64, n),
		fft:    fourier.NewFFT(n),
		window: window,
		seq:    make([]float64, n),
		coeffs: make([]complex128, n/2+1),
	}
}

// WindowSize returns the number of samples per analysis window.
func (t *Tap) WindowSize() int {
	if t == nil {
		return 0
	}
	return len(t.ring)
}

// Push appends samples to the analysis ring, overwriting the oldest data.
func (t *Tap) Push(samples []float32) {
	if t == nil || len(samples) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range samples {
		t.ring[t.pos] = float64(s)
		t.pos++
		if t.pos == len(t.ring) {
			t.pos = 0
			t.filled = true
		}
	}
}

// Magnitudes returns a frequency-domain magnitude snapshot of the most recent
// analysis window: WindowSize()/2+1 bins from DC to Nyquist, normalised so a
// full-scale sine peaks near 1. Returns nil before any samples have arrived
// or on a nil tap.
func (t *Tap) Magnitudes() []float64 {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.filled && t.pos == 0 {
		return nil
	}

	// Unroll the ring into time order, oldest sample first, and apply the
	// Hann window to reduce spectral leakage.
	n := len(t.ring)
	for i := range n {
		t.seq[i] = t.ring[(t.pos+i)%n] * t.window[i]
	}

	t.coeffs = t.fft.Coefficients(t.coeffs, t.seq)

	out := make([]float64, len(t.coeffs))
	scale := 2 / float64(n)
	for i, c := range t.coeffs {
		out[i] = math.Hypot(real(c), imag(c)) * scale
	}
	return out
}
