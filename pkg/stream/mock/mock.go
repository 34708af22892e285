// Package mock provides test doubles for the stream package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Handle to script inbound events and inspect the audio chunks the
// pipeline sent.
//
// Example:
//
//	h := mock.NewHandle()
//	p := &mock.Provider{Handle: h}
//	// ... connect the controller against p ...
//	h.EmitAudio(pcm)
//	h.EmitInterrupted()
//	h.Finish(nil)
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voicelink/pkg/stream"
)

// Compile-time interface assertions.
var (
	_ stream.Provider = (*Provider)(nil)
	_ stream.Handle   = (*Handle)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg stream.Config
}

// Provider is a mock implementation of stream.Provider.
type Provider struct {
	mu sync.Mutex

	// Handle is returned by Connect. If nil, Connect returns a fresh
	// [NewHandle] per call.
	Handle stream.Handle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Handle, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg stream.Config) (stream.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Handle != nil {
		return p.Handle, nil
	}
	return NewHandle(), nil
}

// Calls returns a snapshot of recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Handle is a scriptable mock stream.Handle.
type Handle struct {
	// SendErr, if non-nil, is returned from SendAudio.
	SendErr error

	// SendBlock, when non-nil, is received from at the start of every
	// SendAudio call so tests can hold the send loop mid-flight. Close the
	// channel to release it. Must be set before the handle is used.
	SendBlock chan struct{}

	events  chan stream.Event
	blocked atomic.Int64

	mu         sync.Mutex
	sent       [][]byte
	errVal     error
	closed     bool
	closeCalls int
	finishOnce sync.Once
}

// NewHandle creates a Handle with a buffered event channel.
func NewHandle() *Handle {
	return &Handle{events: make(chan stream.Event, 64)}
}

// SendAudio records the chunk (copied) and returns SendErr. With SendBlock
// set, it blocks on the gate first.
func (h *Handle) SendAudio(chunk []byte) error {
	if h.SendBlock != nil {
		h.blocked.Add(1)
		<-h.SendBlock
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return stream.ErrClosed
	}
	if h.SendErr != nil {
		return h.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	h.sent = append(h.sent, cp)
	return nil
}

// Events returns the scripted event channel.
func (h *Handle) Events() <-chan stream.Event { return h.events }

// Err returns the error set by Finish.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errVal
}

// Close marks the handle closed. Idempotent; the events channel is closed on
// the first call so consumers observe the session ending.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.closeCalls++
	h.mu.Unlock()
	h.finishOnce.Do(func() { close(h.events) })
	return nil
}

// ── Scripting helpers ──────────────────────────────────────────────────────────

// EmitAudio delivers an inbound audio event.
func (h *Handle) EmitAudio(pcm []byte) {
	h.events <- stream.Event{Audio: pcm}
}

// EmitInterrupted delivers an inbound interruption event.
func (h *Handle) EmitInterrupted() {
	h.events <- stream.Event{Interrupted: true}
}

// Emit delivers an arbitrary event.
func (h *Handle) Emit(ev stream.Event) {
	h.events <- ev
}

// Finish simulates the remote end closing the session: sets the terminal
// error (nil for a clean close) and closes the events channel. Idempotent.
func (h *Handle) Finish(err error) {
	h.mu.Lock()
	if h.errVal == nil {
		h.errVal = err
	}
	h.mu.Unlock()
	h.finishOnce.Do(func() { close(h.events) })
}

// Sent returns a snapshot of all chunks passed to SendAudio.
func (h *Handle) Sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.sent))
	copy(out, h.sent)
	return out
}

// BlockedSends returns how many SendAudio calls have reached the SendBlock
// gate.
func (h *Handle) BlockedSends() int64 {
	return h.blocked.Load()
}

// CloseCalls returns the number of times Close was invoked.
func (h *Handle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCalls
}
