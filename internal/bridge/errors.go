package bridge

import "errors"

var (
	// ErrConnectTimeout indicates the connect-level deadline elapsed before
	// the backend accepted the room's connection.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrNotConnected indicates the room has no live connection. Questions
	// and report requests require one; statements fall back to the buffer.
	ErrNotConnected = errors.New("room has no live connection")

	// ErrRequestTimeout indicates a question or report job received no
	// resolution within its timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrDisconnected rejects in-flight work during room teardown. Callers
	// can tell it apart from an empty answer and report "unavailable".
	ErrDisconnected = errors.New("room disconnected")

	// ErrReportInProgress rejects a report request while another report job
	// is still outstanding for the same room.
	ErrReportInProgress = errors.New("report already in progress")
)
