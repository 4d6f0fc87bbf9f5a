// Package metrics exposes cycle results to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

var _ cycle.Observer = (*Collector)(nil)

// Sensor read results used as the result label.
const (
	ResultOK       = "ok"
	ResultTimeout  = "timeout"
	ResultChecksum = "checksum"
	ResultError    = "error"
)

// Collector records every finished cycle.
type Collector struct {
	gatherer prometheus.Gatherer

	Fullness        prometheus.Gauge
	TrashVolume     prometheus.Gauge
	SensorReads     *prometheus.CounterVec
	Uploads         *prometheus.CounterVec
	ConnectAttempts prometheus.Histogram
	CycleDuration   prometheus.Histogram

	mu   sync.RWMutex
	last *cycle.Report
}

// New registers the collectors against reg, or the global registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Fullness, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bin_fullness_percent",
		Help: "Last estimated fullness in percent. Not clamped.",
	})); err != nil {
		return nil, err
	}
	if c.TrashVolume, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bin_trash_volume",
		Help: "Last estimated trash volume in cubic inches.",
	})); err != nil {
		return nil, err
	}
	if c.SensorReads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bin_sensor_reads_total",
		Help: "Rangefinder reads, labeled by sensor and result.",
	}, []string{"sensor", "result"})); err != nil {
		return nil, err
	}
	if c.Uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bin_uploads_total",
		Help: "Telemetry uploads, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.ConnectAttempts, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bin_connect_attempts",
		Help:    "TCP connect attempts per upload.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})); err != nil {
		return nil, err
	}
	if c.CycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bin_cycle_duration_seconds",
		Help:    "Duration of one read, estimate and upload cycle.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})); err != nil {
		return nil, err
	}

	return c, nil
}

// Observe records r.
func (c *Collector) Observe(r cycle.Report) {
	c.SensorReads.WithLabelValues("shallow", ReadResult(r.ShallowErr)).Inc()
	c.SensorReads.WithLabelValues("steep", ReadResult(r.SteepErr)).Inc()
	c.CycleDuration.Observe(r.Duration.Seconds())

	if !r.Skipped {
		c.Fullness.Set(float64(r.Estimate.Fullness))
		c.TrashVolume.Set(r.Estimate.TrashVolume)
		c.Uploads.WithLabelValues(r.Upload.Outcome.String()).Inc()
		if r.Upload.ConnectAttempts > 0 {
			c.ConnectAttempts.Observe(float64(r.Upload.ConnectAttempts))
		}
	}

	c.mu.Lock()
	c.last = &r
	c.mu.Unlock()
}

// Last returns the most recent report.
func (c *Collector) Last() (cycle.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return cycle.Report{}, false
	}
	return *c.last, true
}

// Gatherer returns the registry the collectors live in.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// ReadResult classifies a sensor read error.
func ReadResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ultrasonic.ErrTimeout):
		return ResultTimeout
	case errors.Is(err, ultrasonic.ErrChecksum):
		return ResultChecksum
	default:
		return ResultError
	}
}

// Status is the JSON body of /status.
type Status struct {
	Cycle       string    `json:"cycle"`
	Time        time.Time `json:"time"`
	DurationMS  int64     `json:"duration_ms"`
	Shallow     float64   `json:"shallow"`
	Steep       float64   `json:"steep"`
	Skipped     bool      `json:"skipped"`
	Fullness    int       `json:"fullness"`
	TrashVolume float64   `json:"trash_volume"`
	TotalVolume float64   `json:"total_volume"`
	Upload      string    `json:"upload,omitempty"`
	TimedOut    bool      `json:"timed_out,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// StatusFromReport flattens r.
func StatusFromReport(r cycle.Report) Status {
	s := Status{
		Cycle:      r.ID,
		Time:       r.Start,
		DurationMS: r.Duration.Milliseconds(),
		Shallow:    float64(r.Shallow),
		Steep:      float64(r.Steep),
		Skipped:    r.Skipped,
	}
	if r.Skipped {
		s.Error = fill.ErrInvalidReading.Error()
		return s
	}
	s.Fullness = r.Estimate.Fullness
	s.TrashVolume = r.Estimate.TrashVolume
	s.TotalVolume = r.Estimate.TotalVolume
	s.Upload = r.Upload.Outcome.String()
	s.TimedOut = r.Upload.TimedOut
	if r.Upload.Err != nil {
		s.Error = r.Upload.Err.Error()
	}
	return s
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, errors.Errorf("collector already registered with incompatible type: %v", err)
		}
		var zero T
		return zero, errors.Wrap(err, "failed to register collector")
	}
	return c, nil
}
