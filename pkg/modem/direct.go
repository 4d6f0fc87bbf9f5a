package modem

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Direct is a Link over the host's own IP stack, for a modem already
// running PPP or a bench machine on Ethernet.
type Direct struct {
	iface  string
	dialer net.Dialer

	// interfaceByName is swapped in tests.
	interfaceByName func(name string) (*net.Interface, error)
}

// Ensure Direct implements Link.
var _ Link = (*Direct)(nil)

// NewDirect creates a direct link. When iface is set, the link is attached
// only while that interface is up.
func NewDirect(iface string, connectTimeout time.Duration) *Direct {
	return &Direct{
		iface:           iface,
		dialer:          net.Dialer{Timeout: connectTimeout},
		interfaceByName: net.InterfaceByName,
	}
}

// Attached reports whether the configured interface is up.
func (d *Direct) Attached(ctx context.Context) (bool, error) {
	if d.iface == "" {
		return true, nil
	}
	ifi, err := d.interfaceByName(d.iface)
	if err != nil {
		return false, nil
	}
	return ifi.Flags&net.FlagUp != 0, nil
}

// Attach cannot bring an interface up itself; it only re-checks it.
func (d *Direct) Attach(ctx context.Context) error {
	ok, err := d.Attached(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("interface %s is down", d.iface)
	}
	return nil
}

// Dial opens a TCP connection.
func (d *Direct) Dial(ctx context.Context, host string, port int) (Socket, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(ErrConnectFail, err.Error())
	}
	return newConnSocket(conn), nil
}

// connSocket adapts a net.Conn to Socket.
type connSocket struct {
	mu        sync.Mutex
	conn      net.Conn
	buf       []byte
	tmp       [512]byte
	connected bool
}

func newConnSocket(conn net.Conn) *connSocket {
	return &connSocket{conn: conn, connected: true}
}

func (s *connSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.conn.Write(p)
}

// Available pulls whatever the kernel has buffered without blocking.
func (s *connSocket) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return len(s.buf)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Read(s.tmp[:])
	s.buf = append(s.buf, s.tmp[:n]...)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return len(s.buf)
		}
		// EOF or a reset: the peer is gone, keep what was received.
		s.connected = false
		s.conn.Close()
	}
	return len(s.buf)
}

func (s *connSocket) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

func (s *connSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *connSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.conn.Close()
}
