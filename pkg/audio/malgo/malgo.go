// Package malgo adapts github.com/gen2brain/malgo (miniaudio) devices to the
// audio.Devices interface used by the voice pipelines.
//
// A single [Backend] wraps one miniaudio context and can open one capture and
// one playback device at a time — matching the one-active-session ownership
// model of the session controller. Devices deliver and consume 32-bit float
// samples so no intermediate PCM conversion happens at the device boundary.
package malgo

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Compile-time assertion that Backend satisfies audio.Devices.
var _ audio.Devices = (*Backend)(nil)

// Backend owns a miniaudio context and opens devices from it.
type Backend struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

// NewBackend initialises the miniaudio context. Call [Backend.Close] when no
// more devices will be opened.
func NewBackend() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %v: %w", err, audio.ErrDeviceUnavailable)
	}
	return &Backend{ctx: ctx}, nil
}

// OpenInput acquires the default capture device at the requested format.
func (b *Backend) OpenInput(format audio.Format) (audio.InputDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("malgo: backend closed: %w", audio.ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}

	return &inputDevice{ctx: b.ctx, cfg: cfg, format: format}, nil
}

// OpenOutput acquires the default playback device at the requested format.
func (b *Backend) OpenOutput(format audio.Format) (audio.OutputDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("malgo: backend closed: %w", audio.ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}

	return &outputDevice{ctx: b.ctx, cfg: cfg, format: format}, nil
}

// Close tears down the miniaudio context. Devices opened from this backend
// must be closed first. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.ctx.Uninit()
	b.ctx.Free()
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// ── Input ──────────────────────────────────────────────────────────────────────

type inputDevice struct {
	ctx    *malgo.AllocatedContext
	cfg    malgo.DeviceConfig
	format audio.Format

	mu     sync.Mutex
	device *malgo.Device
	closed bool
}

func (d *inputDevice) Format() audio.Format { return d.format }

func (d *inputDevice) Start(onFrame func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("malgo: input closed: %w", audio.ErrDeviceUnavailable)
	}
	if d.device != nil {
		return fmt.Errorf("malgo: input already started")
	}

	// Reused across callbacks; the callback contract forbids retention.
	var frame []float32

	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * d.format.Channels
		if cap(frame) < n {
			frame = make([]float32, n)
		}
		frame = frame[:n]
		for i := range n {
			bits := uint32(input[i*4]) | uint32(input[i*4+1])<<8 |
				uint32(input[i*4+2])<<16 | uint32(input[i*4+3])<<24
			frame[i] = math.Float32frombits(bits)
		}
		onFrame(frame)
	}

	device, err := malgo.InitDevice(d.ctx.Context, d.cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("malgo: open capture device: %v: %w", err, audio.ErrDeviceUnavailable)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo: start capture device: %v: %w", err, audio.ErrDeviceUnavailable)
	}

	d.device = device
	slog.Debug("capture device started",
		"sample_rate", d.format.SampleRate,
		"channels", d.format.Channels,
	)
	return nil
}

func (d *inputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	return nil
}

// ── Output ─────────────────────────────────────────────────────────────────────

type outputDevice struct {
	ctx    *malgo.AllocatedContext
	cfg    malgo.DeviceConfig
	format audio.Format

	mu     sync.Mutex
	device *malgo.Device
	closed bool
}

func (d *outputDevice) Format() audio.Format { return d.format }

func (d *outputDevice) Start(render func(out []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("malgo: output closed: %w", audio.ErrDeviceUnavailable)
	}
	if d.device != nil {
		return fmt.Errorf("malgo: output already started")
	}

	var block []float32

	onData := func(output, _ []byte, frameCount uint32) {
		n := int(frameCount) * d.format.Channels
		if cap(block) < n {
			block = make([]float32, n)
		}
		block = block[:n]
		render(block)
		for i, s := range block {
			bits := math.Float32bits(s)
			output[i*4] = byte(bits)
			output[i*4+1] = byte(bits >> 8)
			output[i*4+2] = byte(bits >> 16)
			output[i*4+3] = byte(bits >> 24)
		}
	}

	device, err := malgo.InitDevice(d.ctx.Context, d.cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("malgo: open playback device: %v: %w", err, audio.ErrDeviceUnavailable)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo: start playback device: %v: %w", err, audio.ErrDeviceUnavailable)
	}

	d.device = device
	slog.Debug("playback device started",
		"sample_rate", d.format.SampleRate,
		"channels", d.format.Channels,
	)
	return nil
}

func (d *outputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	return nil
}
