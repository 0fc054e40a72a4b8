// Package link defines the vehicle transport contract and its MAVLink
// implementation.
//
// A Link carries encoded MAVLink messages in both directions. Exactly one
// Link exists per process; it is owned by the vehicle context, written by
// the command gateway and read by the drain loop.
package link

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Frame is one decoded message together with its sender.
type Frame struct {
	SystemID    uint8
	ComponentID uint8
	Message     message.Message
}

// Link is the southbound transport contract.
type Link interface {
	// Send encodes and writes msg. Failures wrap ErrTransport.
	Send(ctx context.Context, msg message.Message) error

	// Receive returns the next frame, waiting at most wait. It returns
	// ErrReceiveTimeout when nothing arrived, a *DecodeError for a frame
	// that could not be parsed, and an error wrapping ErrTransport when the
	// transport is gone. There is no automatic reconnect.
	Receive(ctx context.Context, wait time.Duration) (Frame, error)

	// Close releases the transport. Pending and later Receive calls fail
	// with ErrTransport.
	Close() error
}
