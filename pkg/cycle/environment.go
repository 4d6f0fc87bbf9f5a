package cycle

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
)

// Environment supplies the temperature and humidity fields of the payload.
// No sensor is fitted for them yet.
type Environment interface {
	Read() (temperature, humidity int64)
}

// Fixed reports constant values.
type Fixed struct {
	Temperature int64
	Humidity    int64
}

// Read returns the fixed values.
func (f Fixed) Read() (int64, int64) { return f.Temperature, f.Humidity }

// Random draws temperature in [0, 120) and humidity in [20, 60).
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a seeded Random.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Read draws a new pair.
func (r *Random) Read() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(120), 20 + r.rng.Int63n(40)
}

// EnvironmentFromConfig builds the configured source.
func EnvironmentFromConfig(cfg config.EnvironmentConfig, seed int64) (Environment, error) {
	switch cfg.Source {
	case config.EnvironmentFixed:
		return Fixed{Temperature: cfg.Temperature, Humidity: cfg.Humidity}, nil
	case config.EnvironmentRandom, "":
		return NewRandom(seed), nil
	default:
		return nil, errors.Errorf("unknown environment source %q", cfg.Source)
	}
}
