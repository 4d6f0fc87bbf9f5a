package ultrasonic

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultBaudRate is the rangefinder UART speed.
const DefaultBaudRate = 9600

// pollTimeout bounds a single Buffered call on a real port.
const pollTimeout = time.Millisecond

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// port is the part of serial.Port a sensor channel uses.
type port interface {
	Read(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// Serial is a sensor wired to its own UART.
type Serial struct {
	name     string
	baudRate int

	mu   sync.Mutex
	conn port
	buf  []byte
	tmp  [64]byte
}

// Ensure Serial implements Channel.
var _ Channel = (*Serial)(nil)

// NewSerial creates a sensor channel for the named port. Call Open before use.
func NewSerial(name string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{name: name, baudRate: baudRate}
}

// Open opens the port 8N1 with a short read timeout so Buffered never blocks.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.New("already open")
	}

	p, err := serial.Open(s.name, &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", s.name)
	}
	if err := p.SetReadTimeout(pollTimeout); err != nil {
		p.Close()
		return errors.Wrapf(err, "failed to set read timeout on %s", s.name)
	}

	s.conn = p
	return nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.buf = nil
	return err
}

// Name returns the port name.
func (s *Serial) Name() string { return s.name }

// Listen drops everything the sensor sent while it was not selected.
func (s *Serial) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errors.Errorf("serial port %s not open", s.name)
	}
	s.buf = s.buf[:0]
	return s.conn.ResetInputBuffer()
}

// Buffered pulls whatever the driver has and returns the pending byte count.
func (s *Serial) Buffered() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, errors.Errorf("serial port %s not open", s.name)
	}
	n, err := s.conn.Read(s.tmp[:])
	if err != nil {
		return len(s.buf), errors.Wrapf(err, "failed to read %s", s.name)
	}
	s.buf = append(s.buf, s.tmp[:n]...)
	return len(s.buf), nil
}

// ReadByte returns the oldest pending byte.
func (s *Serial) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return 0, errors.New("no buffered data")
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}
