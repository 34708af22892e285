// Package controller manages the lifecycle of one live voice session: it
// acquires the capture and playback pipelines, opens the duplex remote
// stream, routes traffic between them and tears everything down again.
//
// State machine:
//
//	Idle → Connecting → Active → (Closing | Failed) → Idle
//
// Exactly one session can be live at a time; a second Connect while not Idle
// is rejected with [ErrBusy]. Disconnect is idempotent and callable from any
// state. Remote-driven closure (transport error or server hangup) always
// drives the controller out of Active and notifies the caller through the
// callbacks supplied at connect time — it never silently stays Active.
//
// All session and pipeline mutation funnels through the controller's mutex
// plus one event-loop goroutine consuming the stream's ordered event
// channel, so inbound audio is decoded and enqueued strictly in arrival
// order and an interruption in the same server message always lands before
// the audio that follows it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/capture"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/playback"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/analysis"
	"github.com/MrWong99/voicelink/pkg/codec"
	"github.com/MrWong99/voicelink/pkg/stream"
)

// ErrBusy is returned by Connect while a session is already connecting,
// active or closing.
var ErrBusy = errors.New("controller: session already active")

// State identifies the controller's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config is the immutable per-connection configuration.
type Config struct {
	// Voice selects the remote model's voice identity.
	Voice string

	// Instructions is the persona / system prompt for the session.
	Instructions string
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithMetrics overrides the metrics instance used by the controller.
// Primarily used in tests to avoid the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCaptureOptions forwards options to the capture pipeline of every
// session this controller opens.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(c *Controller) { c.captureOpts = opts }
}

// liveSession bundles everything owned by one connection. It is created by
// Connect and released exactly once by teardown, regardless of whether the
// local caller or the remote end initiates closure.
type liveSession struct {
	cap    *capture.Pipeline
	sched  *playback.Scheduler
	handle stream.Handle

	onDisconnect func()
	onError      func(error)

	startedAt    time.Time
	wg           sync.WaitGroup
	teardownOnce sync.Once
	notifyOnce   sync.Once
}

// Controller owns at most one live voice session. The zero value is not
// usable; construct with [New]. All exported methods are safe for concurrent
// use.
type Controller struct {
	provider    stream.Provider
	devices     audio.Devices
	metrics     *observe.Metrics
	captureOpts []capture.Option

	mu    sync.Mutex
	state State
	sess  *liveSession
}

// New creates a Controller that opens sessions against provider and acquires
// audio hardware from devices.
func New(provider stream.Provider, devices audio.Devices, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		devices:  devices,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Connect acquires the microphone and speaker, opens the remote stream and
// starts routing audio. On any setup failure every resource acquired so far
// is released and the controller returns to Idle.
//
// onDisconnect fires exactly once when the session ends, whether by
// [Controller.Disconnect] or by the remote end. onError fires before it when
// the session ended abnormally. Both may be nil.
//
// A Connect while a prior session is still up returns [ErrBusy]; a session
// left in Failed state may be reconnected directly.
func (c *Controller) Connect(ctx context.Context, cfg Config, onDisconnect func(), onError func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && c.state != StateFailed {
		return ErrBusy
	}
	c.state = StateConnecting

	sess, err := c.setupLocked(ctx, cfg)
	if err != nil {
		c.state = StateIdle
		return err
	}

	sess.onDisconnect = onDisconnect
	sess.onError = onError
	c.sess = sess
	c.state = StateActive
	c.metrics.ActiveSessions.Add(ctx, 1)

	sess.wg.Add(2)
	go c.sendLoop(sess)
	go c.eventLoop(sess)

	slog.Info("session active", "voice", cfg.Voice)
	return nil
}

// setupLocked acquires devices, pipelines and the remote stream in order,
// unwinding everything on the first failure.
func (c *Controller) setupLocked(ctx context.Context, cfg Config) (*liveSession, error) {
	in, err := c.devices.OpenInput(audio.Format{
		SampleRate: capture.StreamSampleRate,
		Channels:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: acquire microphone: %w", err)
	}

	capOpts := make([]capture.Option, 0, len(c.captureOpts)+1)
	capOpts = append(capOpts, capture.WithDropHook(func() {
		c.metrics.ChunksDropped.Add(context.Background(), 1)
	}))
	capOpts = append(capOpts, c.captureOpts...)
	pipe := capture.New(in, capOpts...)
	if err := pipe.Start(); err != nil {
		pipe.Close()
		return nil, fmt.Errorf("controller: start capture: %w", err)
	}

	out, err := c.devices.OpenOutput(audio.Format{
		SampleRate: playback.StreamSampleRate,
		Channels:   1,
	})
	if err != nil {
		pipe.Close()
		return nil, fmt.Errorf("controller: acquire speaker: %w", err)
	}

	sched := playback.New(out)
	if err := sched.Start(); err != nil {
		pipe.Close()
		sched.Close()
		return nil, fmt.Errorf("controller: start playback: %w", err)
	}

	handle, err := c.provider.Connect(ctx, stream.Config{
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
	})
	if err != nil {
		pipe.Close()
		sched.Close()
		return nil, fmt.Errorf("controller: open stream: %w", err)
	}

	return &liveSession{
		cap:       pipe,
		sched:     sched,
		handle:    handle,
		startedAt: time.Now(),
	}, nil
}

// sendLoop forwards capture chunks to the remote stream. A failed send is
// logged and dropped — one lost chunk must not abort the session.
func (c *Controller) sendLoop(sess *liveSession) {
	defer sess.wg.Done()

	ctx := context.Background()
	for chunk := range sess.cap.Chunks() {
		if err := sess.handle.SendAudio(chunk); err != nil {
			slog.Warn("dropping outbound chunk", "err", err)
			c.metrics.SendErrors.Add(ctx, 1)
			continue
		}
		c.metrics.ChunksSent.Add(ctx, 1)
	}
}

// eventLoop consumes the ordered inbound event stream. When the channel
// closes, the remote end is gone and the session is wound down.
func (c *Controller) eventLoop(sess *liveSession) {
	defer sess.wg.Done()

	ctx := context.Background()
	for ev := range sess.handle.Events() {
		if ev.Interrupted {
			sess.sched.Interrupt()
			c.metrics.Interrupts.Add(ctx, 1)
		}
		if len(ev.Audio) == 0 {
			continue
		}
		buf, err := codec.DecodePCM16(ev.Audio, playback.StreamSampleRate, 1)
		if err != nil {
			slog.Warn("dropping malformed inbound chunk", "err", err)
			c.metrics.DecodeErrors.Add(ctx, 1)
			continue
		}
		sess.sched.Enqueue(buf)
		c.metrics.ChunksReceived.Add(ctx, 1)
	}

	c.remoteClosed(sess)
}

// remoteClosed handles the stream ending from the far side. It is a no-op if
// a local Disconnect already claimed the session.
func (c *Controller) remoteClosed(sess *liveSession) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateClosing
	c.mu.Unlock()

	streamErr := sess.handle.Err()
	c.teardown(sess)

	c.mu.Lock()
	if streamErr != nil {
		c.state = StateFailed
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.notify(sess, streamErr)
}

// Disconnect tears down the current session: stops playback, closes the
// remote stream best-effort, releases both audio devices and returns the
// controller to Idle. Safe to call from any state, any number of times.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateFailed || c.sess == nil {
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.sess = nil
	c.state = StateClosing
	c.mu.Unlock()

	c.teardown(sess)
	sess.wg.Wait()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.notify(sess, nil)
	return nil
}

// teardown releases every session resource exactly once. Closing the stream
// handle ends the event loop; closing the capture pipeline ends the send
// loop. All closes are idempotent, so racing a remote closure is harmless.
func (c *Controller) teardown(sess *liveSession) {
	sess.teardownOnce.Do(func() {
		sess.sched.Interrupt()

		if err := sess.handle.Close(); err != nil {
			slog.Warn("stream close", "err", err)
		}
		if err := sess.cap.Close(); err != nil {
			slog.Warn("capture close", "err", err)
		}
		if err := sess.sched.Close(); err != nil {
			slog.Warn("playback close", "err", err)
		}

		ctx := context.Background()
		c.metrics.ActiveSessions.Add(ctx, -1)
		c.metrics.SessionDuration.Record(ctx, time.Since(sess.startedAt).Seconds())
		slog.Info("session closed", "duration", time.Since(sess.startedAt).Round(time.Millisecond))
	})
}

// notify fires the session callbacks exactly once per session: onError first
// when the session ended abnormally, then onDisconnect.
func (c *Controller) notify(sess *liveSession, streamErr error) {
	sess.notifyOnce.Do(func() {
		if streamErr != nil && sess.onError != nil {
			sess.onError(fmt.Errorf("controller: stream closed: %w", streamErr))
		}
		if sess.onDisconnect != nil {
			sess.onDisconnect()
		}
	})
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetMuted gates microphone chunk emission for the current session. A no-op
// when no session is live.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.cap.SetMuted(muted)
	}
}

// Muted reports whether the current session's capture path is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.cap.Muted()
}

// SetGain sets the playback gain stage for the current session. A no-op when
// no session is live.
func (c *Controller) SetGain(gain float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.sched.SetGain(gain)
	}
}

// InputTap returns the live session's microphone analysis tap, or nil when
// no session is live. The tap is read-only and safe to poll from a
// visualiser at any rate.
func (c *Controller) InputTap() *analysis.Tap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.cap.Tap()
}

// OutputTap returns the live session's post-mix analysis tap, or nil when no
// session is live.
func (c *Controller) OutputTap() *analysis.Tap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.sched.Tap()
}

// Stats is a point-in-time snapshot of the live session for dashboards and
// tests.
type Stats struct {
	State         State
	LiveSources   int
	NextStart     int64
	DroppedChunks uint64
}

// Stats returns a snapshot of the controller and, when a session is live,
// its pipelines.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	sess := c.sess
	st := c.state
	c.mu.Unlock()

	stats := Stats{State: st}
	if sess != nil {
		stats.LiveSources = sess.sched.Live()
		stats.NextStart = sess.sched.NextStart()
		stats.DroppedChunks = sess.cap.Dropped()
	}
	return stats
}
