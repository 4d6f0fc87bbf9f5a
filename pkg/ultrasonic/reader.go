package ultrasonic

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

// Reading is a distance in inches, or Invalid.
type Reading float64

// Invalid marks a failed read (timeout or bad checksum).
const Invalid Reading = -1

// Valid reports whether r is a real distance.
func (r Reading) Valid() bool { return r >= 0 }

// ErrTimeout is returned when no complete frame arrives before the scan deadline.
var ErrTimeout = errors.New("no frame before scan deadline")

// Default read timing.
const (
	DefaultSettle     = 100 * time.Millisecond
	DefaultScan       = 300 * time.Millisecond
	DefaultFrameDelay = 10 * time.Millisecond
	DefaultPoll       = time.Millisecond
)

// Channel is one sensor's end of the shared serial link.
type Channel interface {
	// Listen makes this sensor the active one. Bytes sent by other sensors are lost.
	Listen() error
	// Buffered returns the number of bytes ready to read.
	Buffered() (int, error)
	// ReadByte returns the next buffered byte.
	ReadByte() (byte, error)
}

// Timing holds the waits of a single read.
type Timing struct {
	Settle     time.Duration // After Listen
	Scan       time.Duration // Deadline for a complete frame
	FrameDelay time.Duration // After a header, before checking for the body
	Poll       time.Duration // Between empty polls
}

// TimingFromConfig extracts the read timing from the sensors section.
func TimingFromConfig(cfg config.SensorsConfig) Timing {
	return Timing{
		Settle:     cfg.SettleDelay,
		Scan:       cfg.ScanTimeout,
		FrameDelay: cfg.FrameDelay,
		Poll:       cfg.PollInterval,
	}
}

// Reader extracts one distance from a sensor channel.
type Reader struct {
	clock  clock.Clock
	timing Timing
	sink   logging.Sink
}

// NewReader creates a Reader. Zero timing fields take the defaults.
func NewReader(clk clock.Clock, timing Timing, sink logging.Sink) *Reader {
	if clk == nil {
		clk = clock.Real()
	}
	if timing.Settle == 0 {
		timing.Settle = DefaultSettle
	}
	if timing.Scan == 0 {
		timing.Scan = DefaultScan
	}
	if timing.FrameDelay == 0 {
		timing.FrameDelay = DefaultFrameDelay
	}
	if timing.Poll == 0 {
		timing.Poll = DefaultPoll
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &Reader{clock: clk, timing: timing, sink: sink}
}

// Read returns the distance reported by ch, or Invalid.
func (r *Reader) Read(ch Channel) Reading {
	d, _ := r.ReadFrame(ch)
	return d
}

// ReadFrame is Read with the failure cause. The returned Reading is Invalid
// whenever err is non-nil.
//
// A header is only consumed together with its body when at least three bytes
// are buffered after the frame delay; otherwise scanning continues from the
// next byte. A checksum mismatch ends the read without rescanning.
func (r *Reader) ReadFrame(ch Channel) (Reading, error) {
	if err := ch.Listen(); err != nil {
		return Invalid, errors.Wrap(err, "failed to select sensor")
	}
	r.clock.Sleep(r.timing.Settle)

	start := r.clock.Now()
	for r.clock.Now().Sub(start) < r.timing.Scan {
		n, err := ch.Buffered()
		if err != nil {
			return Invalid, errors.Wrap(err, "failed to poll sensor")
		}
		if n == 0 {
			r.clock.Sleep(r.timing.Poll)
			continue
		}

		b, err := ch.ReadByte()
		if err != nil {
			return Invalid, errors.Wrap(err, "failed to read sensor")
		}
		if b != Header {
			continue
		}

		r.clock.Sleep(r.timing.FrameDelay)
		n, err = ch.Buffered()
		if err != nil {
			return Invalid, errors.Wrap(err, "failed to poll sensor")
		}
		if n < FrameSize-1 {
			continue
		}

		frame := [FrameSize]byte{Header}
		for i := 1; i < FrameSize; i++ {
			if frame[i], err = ch.ReadByte(); err != nil {
				return Invalid, errors.Wrap(err, "failed to read frame body")
			}
		}

		mm, err := DecodeFrame(frame)
		if err != nil {
			r.sink.Line(fmt.Sprintf("sensor frame % X rejected: %v", frame, err))
			return Invalid, err
		}
		return Reading(float64(mm) * MMToInch), nil
	}

	r.sink.Line("sensor timeout")
	return Invalid, ErrTimeout
}
