// Package mock provides test doubles for the audio device interfaces.
//
// Use [Devices] where a session controller needs an audio.Devices, and drive
// the returned [InputDevice] and [OutputDevice] by hand: PushFrame simulates
// microphone callbacks, Render simulates the speaker pulling a block.
package mock

import (
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Devices      = (*Devices)(nil)
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)

// Devices is a mock audio.Devices that hands out pre-constructed devices and
// records every open call.
type Devices struct {
	mu sync.Mutex

	// Input is returned by OpenInput. If nil, a new InputDevice echoing the
	// requested format is created per call.
	Input *InputDevice

	// Output is returned by OpenOutput. If nil, a new OutputDevice echoing
	// the requested format is created per call.
	Output *OutputDevice

	// OpenInputErr, if non-nil, is returned from OpenInput.
	OpenInputErr error

	// OpenOutputErr, if non-nil, is returned from OpenOutput.
	OpenOutputErr error

	// OpenInputCalls and OpenOutputCalls record the formats requested.
	OpenInputCalls  []audio.Format
	OpenOutputCalls []audio.Format
}

// OpenInput records the call and returns Input (or a fresh device).
func (d *Devices) OpenInput(format audio.Format) (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenInputCalls = append(d.OpenInputCalls, format)
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	if d.Input == nil {
		d.Input = &InputDevice{DeviceFormat: format}
	}
	return d.Input, nil
}

// OpenOutput records the call and returns Output (or a fresh device).
func (d *Devices) OpenOutput(format audio.Format) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls = append(d.OpenOutputCalls, format)
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	if d.Output == nil {
		d.Output = &OutputDevice{DeviceFormat: format}
	}
	return d.Output, nil
}

// ── InputDevice ────────────────────────────────────────────────────────────────

// InputDevice is a hand-driven microphone. Tests call PushFrame to deliver
// sample blocks to whatever callback the pipeline registered via Start.
type InputDevice struct {
	// DeviceFormat is reported by Format.
	DeviceFormat audio.Format

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	mu      sync.Mutex
	onFrame func([]float32)
	started bool
	closed  bool
}

func (d *InputDevice) Format() audio.Format { return d.DeviceFormat }

// Start registers the frame callback.
func (d *InputDevice) Start(onFrame func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.onFrame = onFrame
	d.started = true
	return nil
}

// Close marks the device closed. Idempotent.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.onFrame = nil
	return nil
}

// Started reports whether Start has been called.
func (d *InputDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether Close has been called.
func (d *InputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// PushFrame delivers one capture callback with the given samples. It is a
// no-op if the device has not been started or was closed.
func (d *InputDevice) PushFrame(samples []float32) {
	d.mu.Lock()
	cb := d.onFrame
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// ── OutputDevice ───────────────────────────────────────────────────────────────

// OutputDevice is a hand-driven speaker sink. Tests call Render to pull the
// next block from whatever render callback the scheduler registered.
type OutputDevice struct {
	// DeviceFormat is reported by Format.
	DeviceFormat audio.Format

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	mu      sync.Mutex
	render  func([]float32)
	started bool
	closed  bool
}

func (d *OutputDevice) Format() audio.Format { return d.DeviceFormat }

// Start registers the render callback.
func (d *OutputDevice) Start(render func(out []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.render = render
	d.started = true
	return nil
}

// Close marks the device closed. Idempotent.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.render = nil
	return nil
}

// Started reports whether Start has been called.
func (d *OutputDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether Close has been called.
func (d *OutputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Render pulls n samples through the registered render callback and returns
// them. Returns silence if the device has not been started or was closed.
func (d *OutputDevice) Render(n int) []float32 {
	out := make([]float32, n)
	d.mu.Lock()
	cb := d.render
	d.mu.Unlock()
	if cb != nil {
		cb(out)
	}
	return out
}
