// Package audio defines the device interfaces consumed by the capture and
// playback pipelines.
//
// The two primary abstractions are:
//
//   - [InputDevice] — an exclusive microphone stream that pushes fixed-format
//     sample blocks into a data callback.
//   - [OutputDevice] — an exclusive speaker sink that pulls render blocks from
//     a render callback on its own cadence.
//
// Concrete implementations are provided by adapter packages (audio/malgo for
// real hardware, audio/mock for tests). The interfaces are intentionally
// narrow: scheduling, chunking and analysis all live in the pipelines, so a
// device adapter only moves samples.
//
// This package lives under pkg/ because external hosts are expected to supply
// their own [Devices] implementation when the bundled adapters do not fit.
package audio

import "errors"

// ErrDeviceUnavailable is returned when a capture or playback device cannot
// be acquired (missing hardware, exclusive use by another session, backend
// init failure).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// InputDevice is an open microphone stream.
//
// Start begins capture and invokes onFrame with each block of normalised
// float32 samples in the device's [Format]. The slice passed to onFrame is
// only valid for the duration of the call; the callback must copy anything it
// wants to keep and must never block on I/O.
//
// Close stops capture and releases the device. It is idempotent.
type InputDevice interface {
	Start(onFrame func(samples []float32)) error
	Format() Format
	Close() error
}

// OutputDevice is an open speaker sink.
//
// Start begins playback and invokes render whenever the device needs the next
// block of samples. The callback must fill out completely (zero for silence)
// and must never block on I/O — it runs on the device's real-time thread.
//
// Close stops playback and releases the device. It is idempotent.
type OutputDevice interface {
	Start(render func(out []float32)) error
	Format() Format
	Close() error
}

// Devices opens capture and playback devices on demand. One session acquires
// exactly one input and one output device and owns both until teardown; a
// Devices implementation may reject a second concurrent open.
type Devices interface {
	// OpenInput acquires the microphone at the requested format.
	// Implementations that cannot open the exact sample rate may return a
	// device with a different [Format]; callers are expected to resample.
	OpenInput(format Format) (InputDevice, error)

	// OpenOutput acquires the speaker sink at the requested format.
	OpenOutput(format Format) (OutputDevice, error)
}
