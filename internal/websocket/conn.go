package websocket

import "errors"

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is a live session bound to one authenticated user.
type Conn interface {
	ID() string
	UserID() int64
	// Send queues data for delivery without blocking.
	Send(data []byte) error
	// Close ends the session with a websocket close code. Repeated calls are no-ops.
	Close(code int, reason string) error
}
