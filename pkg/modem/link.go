// Package modem provides the cellular data link the uploader talks through.
package modem

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned when using a socket that has been closed.
	ErrNotConnected = errors.New("socket not connected")
	// ErrConnectFail is returned when the remote end refuses or cannot be reached.
	ErrConnectFail = errors.New("connect failed")
	// ErrTimeout is returned when the modem does not answer a command in time.
	ErrTimeout = errors.New("modem timeout")
)

// Link is a packet-data session that can open TCP sockets.
type Link interface {
	// Attached reports whether the packet-data session is up.
	Attached(ctx context.Context) (bool, error)
	// Attach brings the packet-data session up.
	Attach(ctx context.Context) error
	// Dial opens a TCP socket.
	Dial(ctx context.Context, host string, port int) (Socket, error)
}

// Socket is one TCP connection through a Link. Reads never block: callers
// poll Available and consume buffered bytes.
type Socket interface {
	Write(p []byte) (int, error)
	// Available returns the number of received bytes ready to read.
	Available() int
	ReadByte() (byte, error)
	// Connected is false once either side has closed the connection.
	Connected() bool
	Close() error
}

// Credentials are the access-point settings for the packet-data session.
type Credentials struct {
	APN      string
	User     string
	Password string
}
