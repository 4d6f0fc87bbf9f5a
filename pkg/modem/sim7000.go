package modem

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

// Defaults for the SIM7000 link.
const (
	DefaultBaudRate       = 115200
	DefaultCommandTimeout = 10 * time.Second
	DefaultConnectTimeout = 75 * time.Second
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultGuardTime      = time.Second
)

// ErrCommand is returned when the modem answers ERROR.
var ErrCommand = errors.New("modem returned error")

// port is the part of serial.Port the modem uses.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// SIM7000Config configures the AT-command link.
type SIM7000Config struct {
	Port           string
	BaudRate       int
	Credentials    Credentials
	CommandTimeout time.Duration // Plain commands
	ConnectTimeout time.Duration // AT+CIICR and AT+CIPSTART
	PollInterval   time.Duration
	GuardTime      time.Duration // Silence around the +++ escape
}

// SIM7000 drives a SIMCom SIM7000 over its AT port. Sockets use transparent
// mode, so only one socket is open at a time and it owns the port.
type SIM7000 struct {
	cfg   SIM7000Config
	clock clock.Clock
	sink  logging.Sink

	mu   sync.Mutex
	conn port
	rx   []byte
	tmp  [256]byte
	sock *simSocket
}

// Ensure SIM7000 implements Link.
var _ Link = (*SIM7000)(nil)

// NewSIM7000 creates the link. Zero config fields take the defaults.
func NewSIM7000(cfg SIM7000Config, clk clock.Clock, sink logging.Sink) *SIM7000 {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GuardTime == 0 {
		cfg.GuardTime = DefaultGuardTime
	}
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &SIM7000{cfg: cfg, clock: clk, sink: sink}
}

// Open opens the AT port and checks the modem answers.
func (m *SIM7000) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return errors.New("already open")
	}
	p, err := serial.Open(m.cfg.Port, &serial.Mode{BaudRate: m.cfg.BaudRate})
	if err != nil {
		m.mu.Unlock()
		return errors.Wrapf(err, "failed to open modem port %s", m.cfg.Port)
	}
	if err := p.SetReadTimeout(time.Millisecond); err != nil {
		p.Close()
		m.mu.Unlock()
		return errors.Wrap(err, "failed to set modem read timeout")
	}
	m.conn = p
	m.mu.Unlock()

	return m.init(ctx)
}

// init turns echo off so responses are easier to match.
func (m *SIM7000) init(ctx context.Context) error {
	if _, err := m.command(ctx, "AT", m.cfg.CommandTimeout, nil); err != nil {
		return errors.Wrap(err, "modem not responding")
	}
	if _, err := m.command(ctx, "ATE0", m.cfg.CommandTimeout, nil); err != nil {
		return errors.Wrap(err, "failed to disable echo")
	}
	return nil
}

// Close closes the AT port.
func (m *SIM7000) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// Attached asks for GPRS attachment and a local IP.
func (m *SIM7000) Attached(ctx context.Context) (bool, error) {
	lines, err := m.command(ctx, "AT+CGATT?", m.cfg.CommandTimeout, nil)
	if err != nil {
		if errors.Cause(err) == ErrCommand {
			return false, nil
		}
		return false, err
	}
	if !contains(lines, "+CGATT: 1") {
		return false, nil
	}
	if _, err := m.localIP(ctx); err != nil {
		if errors.Cause(err) == ErrCommand {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Attach brings up the packet-data session with the configured APN.
func (m *SIM7000) Attach(ctx context.Context) error {
	c := m.cfg.Credentials
	steps := []struct {
		cmd     string
		timeout time.Duration
		done    func(string) bool
	}{
		{"AT+CIPSHUT", m.cfg.CommandTimeout, oneOf("SHUT OK")},
		{"AT+CIPMODE=1", m.cfg.CommandTimeout, nil},
		{"AT+CGATT=1", m.cfg.ConnectTimeout, nil},
		{fmt.Sprintf(`AT+CSTT="%s","%s","%s"`, c.APN, c.User, c.Password), m.cfg.CommandTimeout, nil},
		{"AT+CIICR", m.cfg.ConnectTimeout, nil},
	}
	for _, s := range steps {
		if _, err := m.command(ctx, s.cmd, s.timeout, s.done); err != nil {
			return errors.Wrapf(err, "attach failed at %s", s.cmd)
		}
	}

	ip, err := m.localIP(ctx)
	if err != nil {
		return errors.Wrap(err, "attach failed at AT+CIFSR")
	}
	m.sink.Line("modem attached, local IP " + ip)
	return nil
}

// Dial opens a transparent TCP socket. The port carries raw socket data
// until the socket is closed.
func (m *SIM7000) Dial(ctx context.Context, host string, port int) (Socket, error) {
	m.mu.Lock()
	prev := m.sock
	m.mu.Unlock()
	if prev != nil && prev.Connected() {
		return nil, errors.Wrap(ErrConnectFail, "socket already open")
	}

	cmd := fmt.Sprintf(`AT+CIPSTART="TCP","%s","%d"`, host, port)
	lines, err := m.command(ctx, cmd, m.cfg.ConnectTimeout, func(l string) bool {
		return strings.HasPrefix(l, "CONNECT") || strings.HasPrefix(l, "ALREADY CONNECT")
	})
	if err != nil {
		return nil, errors.Wrap(ErrConnectFail, err.Error())
	}
	last := lines[len(lines)-1]
	if last != "CONNECT" {
		return nil, errors.Wrap(ErrConnectFail, last)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &simSocket{modem: m, connected: true}
	s.buf = append(s.buf, m.rx...)
	m.rx = m.rx[:0]
	m.sock = s
	return s, nil
}

func (m *SIM7000) localIP(ctx context.Context) (string, error) {
	lines, err := m.command(ctx, "AT+CIFSR", m.cfg.CommandTimeout, func(l string) bool {
		return net.ParseIP(l) != nil
	})
	if err != nil {
		return "", err
	}
	return lines[len(lines)-1], nil
}

// command sends cmd and collects response lines until done matches, OK, or
// an error line. The final line is always the terminating one.
func (m *SIM7000) command(ctx context.Context, cmd string, timeout time.Duration, done func(string) bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil, errors.New("modem port not open")
	}
	m.rx = m.rx[:0]
	if _, err := m.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", cmd)
	}

	var lines []string
	start := m.clock.Now()
	for m.clock.Now().Sub(start) < timeout {
		if err := ctx.Err(); err != nil {
			return lines, err
		}

		line, ok, err := m.readLine()
		if err != nil {
			return lines, err
		}
		if !ok {
			m.clock.Sleep(m.cfg.PollInterval)
			continue
		}
		if line == "" || line == cmd {
			continue
		}
		m.sink.Line(cmd + " -> " + line)
		lines = append(lines, line)

		switch {
		case done != nil && done(line):
			return lines, nil
		case line == "OK" && done == nil:
			return lines, nil
		case isError(line):
			return lines, errors.Wrapf(ErrCommand, "%s: %s", cmd, line)
		}
	}
	return lines, errors.Wrapf(ErrTimeout, "%s", cmd)
}

// readLine returns the next complete line from the port.
func (m *SIM7000) readLine() (string, bool, error) {
	if i := bytes.IndexByte(m.rx, '\n'); i >= 0 {
		line := strings.TrimSpace(string(m.rx[:i]))
		m.rx = m.rx[i+1:]
		return line, true, nil
	}
	n, err := m.conn.Read(m.tmp[:])
	if err != nil {
		return "", false, errors.Wrap(err, "failed to read modem port")
	}
	if n == 0 {
		return "", false, nil
	}
	m.rx = append(m.rx, m.tmp[:n]...)
	if i := bytes.IndexByte(m.rx, '\n'); i >= 0 {
		line := strings.TrimSpace(string(m.rx[:i]))
		m.rx = m.rx[i+1:]
		return line, true, nil
	}
	return "", false, nil
}

func isError(line string) bool {
	return line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || line == "CONNECT FAIL"
}

func oneOf(want ...string) func(string) bool {
	return func(l string) bool {
		for _, w := range want {
			if l == w {
				return true
			}
		}
		return false
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

// closedMarker is what the modem prints when the peer closes a transparent socket.
var closedMarker = []byte("CLOSED\r\n")

// simSocket is a transparent-mode socket on the modem's AT port.
type simSocket struct {
	modem *SIM7000

	mu        sync.Mutex
	buf       []byte
	connected bool
}

func (s *simSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}

	s.modem.mu.Lock()
	defer s.modem.mu.Unlock()
	if s.modem.conn == nil {
		return 0, ErrNotConnected
	}
	return s.modem.conn.Write(p)
}

func (s *simSocket) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return len(s.buf)
	}

	s.modem.mu.Lock()
	var n int
	var err error
	if s.modem.conn != nil {
		n, err = s.modem.conn.Read(s.modem.tmp[:])
		s.buf = append(s.buf, s.modem.tmp[:n]...)
	}
	s.modem.mu.Unlock()

	if err != nil {
		s.connected = false
		return len(s.buf)
	}
	if i := bytes.Index(s.buf, closedMarker); i >= 0 && (i == 0 || s.buf[i-1] == '\n') {
		s.buf = bytes.TrimRight(s.buf[:i], "\r\n")
		if len(s.buf) > 0 {
			s.buf = append(s.buf, '\n')
		}
		s.connected = false
	}
	return len(s.buf)
}

func (s *simSocket) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return 0, ErrNotConnected
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

func (s *simSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close leaves transparent mode with the +++ escape and closes the socket.
func (s *simSocket) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	m := s.modem
	m.clock.Sleep(m.cfg.GuardTime)
	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	_, err := m.conn.Write([]byte("+++"))
	m.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to escape transparent mode")
	}
	m.clock.Sleep(m.cfg.GuardTime)

	_, err = m.command(context.Background(), "AT+CIPCLOSE", m.cfg.CommandTimeout, oneOf("CLOSE OK"))
	return err
}
