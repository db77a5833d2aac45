package bridge

import (
	"context"
	"errors"
)

// ErrNormalClosure is returned (possibly wrapped) by Conn.Receive when the
// peer closed the connection with the normal status code. Any other receive
// error counts as an abnormal close and triggers recovery.
var ErrNormalClosure = errors.New("connection closed normally")

// Dialer opens the per-room duplex connection to the knowledge backend.
type Dialer interface {
	DialRoom(ctx context.Context, roomID string) (Conn, error)
}

// Conn is one persistent, ordered, bidirectional message connection.
// Implementations must support concurrent Send calls; Receive is only ever
// called from the room's single reader goroutine.
type Conn interface {
	// Send marshals v as JSON and writes one frame.
	Send(ctx context.Context, v any) error

	// Receive blocks until the next inbound frame arrives or the connection
	// closes.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the connection. normal selects the status code used by
	// explicit teardown; the peer treats anything else as abnormal.
	Close(normal bool, reason string) error
}
