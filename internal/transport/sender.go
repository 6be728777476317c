package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lumen-gatherer/internal/protocol"
)

//go:generate mockgen -source=sender.go -destination=../../test/unit/doubles/transport/sender_mock.go -package=transport -mock_names=Sender=MockSender,Discoverer=MockDiscoverer

const DefaultMessageTimeout = 10 * time.Second

var ErrDeviceUnreachable = errors.New("device unreachable")

// ErrorCatcher receives recoverable errors while a request keeps running.
// Senders report from their own goroutines, so Add must be safe for
// concurrent use unless the caller serializes it.
type ErrorCatcher interface {
	Add(err error)
}

// ErrorCatcherFunc adapts a function to ErrorCatcher.
type ErrorCatcherFunc func(err error)

func (f ErrorCatcherFunc) Add(err error) {
	f(err)
}

type SendOptions struct {
	// MessageTimeout bounds how long to wait for the replies of one message.
	MessageTimeout time.Duration
	// Errors receives per message failures. Never nil when set by the gatherer.
	Errors ErrorCatcher
}

// Timeout returns the configured message timeout or the default.
func (o SendOptions) Timeout() time.Duration {
	if o.MessageTimeout <= 0 {
		return DefaultMessageTimeout
	}
	return o.MessageTimeout
}

// Report hands err to the configured catcher, if any.
func (o SendOptions) Report(err error) {
	if o.Errors != nil && err != nil {
		o.Errors.Add(err)
	}
}

// Sender delivers messages to one device and streams its replies.
//
// Send returns an error only when the device cannot be reached at all. The
// returned channel yields every reply and is closed once each message has
// been answered or has timed out; timeouts are reported through
// SendOptions.Errors. Implementations must stop and close the channel when
// ctx is done.
type Sender interface {
	Send(ctx context.Context, serial protocol.Serial, msgs []protocol.Message, opts SendOptions) (<-chan *protocol.Packet, error)
}

// Discoverer lists the devices currently reachable.
type Discoverer interface {
	Discover(ctx context.Context) ([]protocol.Serial, error)
}

// TimeoutError reports a message that never got all of its replies.
type TimeoutError struct {
	Serial  protocol.Serial
	Type    protocol.PacketType
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for reply to %s from %s", e.Timeout, e.Type, e.Serial)
}

// UnreachableError wraps ErrDeviceUnreachable with the device and the cause.
type UnreachableError struct {
	Serial protocol.Serial
	Err    error
}

func (e *UnreachableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDeviceUnreachable, e.Serial, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDeviceUnreachable, e.Serial)
}

func (e *UnreachableError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDeviceUnreachable, e.Err}
	}
	return []error{ErrDeviceUnreachable}
}
