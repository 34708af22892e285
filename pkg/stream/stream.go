// Package stream defines the narrow interface between the voice pipeline and
// the remote conversational model's duplex transport.
//
// A [Provider] opens a [Handle]: a live bidirectional session that accepts
// outbound PCM16 chunks and emits an ordered series of [Event] values —
// synthesised audio and server-initiated interruption signals. The pipeline
// only ever talks to these interfaces; the concrete WebSocket protocol lives
// in stream/gemini and test doubles in stream/mock.
//
// All implementations must be safe for concurrent use.
package stream

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Handle.SendAudio] after the session has ended.
var ErrClosed = errors.New("stream: session closed")

// Config is the immutable per-session configuration supplied at connect time.
// The response modality is always audio.
type Config struct {
	// Voice selects the model's synthesised voice identity.
	Voice string

	// Instructions is the system-level persona prompt for the session.
	Instructions string
}

// Event is one inbound message from the remote model, reduced to what the
// pipeline needs. Events arrive strictly in server order on [Handle.Events].
//
// When the server couples an interruption with audio in a single message, the
// Interrupted event is delivered before the audio event so consumers cut
// playback before scheduling the new material.
type Event struct {
	// Interrupted signals that the user spoke over the model's output and all
	// scheduled playback must be cut immediately.
	Interrupted bool

	// Audio is a raw PCM16 chunk of synthesised speech (24 kHz mono), already
	// transport-decoded. Nil for non-audio events.
	Audio []byte
}

// Handle is an open duplex session with the remote model.
//
// The Events channel is the single ordered timeline of inbound traffic; it is
// closed when the session ends for any reason. After it closes, [Handle.Err]
// reports whether the session ended cleanly. Consumers must drain Events
// promptly — a stalled consumer backpressures the transport's receive loop.
//
// Callers must call Close when the session is no longer needed. Close is
// idempotent.
type Handle interface {
	// SendAudio delivers one PCM16 chunk (16 kHz mono) to the model.
	// Returns an error wrapping [ErrClosed] if the session has ended.
	SendAudio(chunk []byte) error

	// Events returns the ordered inbound event channel.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly (or is still open).
	Err() error

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// Provider opens sessions against one remote model backend.
type Provider interface {
	// Connect establishes a new duplex session. The returned Handle is ready
	// to accept audio immediately. The ctx governs only the connection
	// attempt; the session lives until Close or a transport failure.
	Connect(ctx context.Context, cfg Config) (Handle, error)
}
