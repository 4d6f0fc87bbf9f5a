package ultrasonic

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotListening is returned when reading a bus member that is not selected.
var ErrNotListening = errors.New("channel is not the listening one")

// Bus shares one receive path among several sensors. Only the channel that
// last called Listen sees data.
type Bus struct {
	mu     sync.Mutex
	active *busChannel
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Attach adds ch to the bus and returns the bus-aware handle to read through.
func (b *Bus) Attach(ch Channel) Channel {
	return &busChannel{bus: b, ch: ch}
}

// Active returns the underlying channel currently listening, or nil.
func (b *Bus) Active() Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return nil
	}
	return b.active.ch
}

type busChannel struct {
	bus *Bus
	ch  Channel
}

func (c *busChannel) Listen() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	if err := c.ch.Listen(); err != nil {
		return err
	}
	c.bus.active = c
	return nil
}

func (c *busChannel) Buffered() (int, error) {
	if !c.listening() {
		return 0, nil
	}
	return c.ch.Buffered()
}

func (c *busChannel) ReadByte() (byte, error) {
	if !c.listening() {
		return 0, ErrNotListening
	}
	return c.ch.ReadByte()
}

func (c *busChannel) listening() bool {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.bus.active == c
}
