package ultrasonic

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
)

// MockConfig describes a simulated sensor.
type MockConfig struct {
	Distance      float64       // Reported distance in inches
	Noise         float64       // Peak uniform noise in inches
	CorruptRate   float64       // Probability a frame has a bad checksum
	SilentRate    float64       // Probability a read sees no frames at all
	FrameInterval time.Duration // Output period
}

// Mock simulates a rangefinder that emits a frame every FrameInterval while
// selected. Time comes from the injected clock, so it works with clock.Fake.
type Mock struct {
	cfg   MockConfig
	clock clock.Clock
	rng   *rand.Rand

	mu       sync.Mutex
	listenAt time.Time
	emitted  int
	silent   bool
	buf      []byte
	distance float64
}

// Ensure Mock implements Channel.
var _ Channel = (*Mock)(nil)

// NewMock creates a simulated sensor. A zero FrameInterval uses 100 ms.
func NewMock(cfg MockConfig, clk clock.Clock, seed int64) *Mock {
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = 100 * time.Millisecond
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Mock{
		cfg:      cfg,
		clock:    clk,
		rng:      rand.New(rand.NewSource(seed)),
		distance: cfg.Distance,
	}
}

// SetDistance changes the simulated distance in inches.
func (m *Mock) SetDistance(in float64) {
	m.mu.Lock()
	m.distance = in
	m.mu.Unlock()
}

// Listen restarts the frame stream.
func (m *Mock) Listen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listenAt = m.clock.Now()
	m.emitted = 0
	m.buf = m.buf[:0]
	m.silent = m.rng.Float64() < m.cfg.SilentRate
	return nil
}

// Buffered emits every frame due since Listen and returns the pending count.
func (m *Mock) Buffered() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listenAt.IsZero() {
		return 0, nil
	}
	due := int(m.clock.Now().Sub(m.listenAt) / m.cfg.FrameInterval)
	for ; m.emitted < due; m.emitted++ {
		if m.silent {
			continue
		}
		m.buf = append(m.buf, m.frame()...)
	}
	return len(m.buf), nil
}

// ReadByte returns the oldest pending byte.
func (m *Mock) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buf) == 0 {
		return 0, errors.New("no buffered data")
	}
	b := m.buf[0]
	m.buf = m.buf[1:]
	return b, nil
}

func (m *Mock) frame() []byte {
	in := m.distance
	if m.cfg.Noise > 0 {
		in += (m.rng.Float64()*2 - 1) * m.cfg.Noise
	}
	if in < 0 {
		in = 0
	}
	mm := in / MMToInch
	if mm > 0xFFFF {
		mm = 0xFFFF
	}
	f := EncodeFrame(uint16(mm + 0.5))
	if m.rng.Float64() < m.cfg.CorruptRate {
		f[3]++
	}
	return f[:]
}
