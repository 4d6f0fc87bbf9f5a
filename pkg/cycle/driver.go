package cycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/telemetry"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

// DefaultInterReadDelay separates the shallow and steep reads.
const DefaultInterReadDelay = 50 * time.Millisecond

// Uploader posts one payload.
type Uploader interface {
	Upload(ctx context.Context, p telemetry.Payload) telemetry.Result
}

// Report describes one finished cycle.
type Report struct {
	ID       string
	Start    time.Time
	Duration time.Duration

	Shallow    ultrasonic.Reading
	Steep      ultrasonic.Reading
	ShallowErr error
	SteepErr   error

	Estimate fill.Estimate
	Skipped  bool // The estimate was refused and nothing was uploaded
	Payload  telemetry.Payload
	Upload   telemetry.Result
}

// Observer is told about every finished cycle.
type Observer interface {
	Observe(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Report)

// Observe calls f(r).
func (f ObserverFunc) Observe(r Report) { f(r) }

// Sensors are the two rangefinder channels.
type Sensors struct {
	Shallow ultrasonic.Channel
	Steep   ultrasonic.Channel
}

// Options configures a Driver.
type Options struct {
	UnitID         int64
	InterReadDelay time.Duration
}

// Driver runs read, estimate and upload, one cycle at a time.
type Driver struct {
	reader    *ultrasonic.Reader
	sensors   Sensors
	estimator *fill.Estimator
	uploader  Uploader
	env       Environment
	opts      Options
	clock     clock.Clock
	log       logging.Logger

	observers []Observer
}

// NewDriver wires a driver.
func NewDriver(reader *ultrasonic.Reader, sensors Sensors, estimator *fill.Estimator, uploader Uploader,
	env Environment, opts Options, clk clock.Clock, log logging.Logger) *Driver {
	if opts.InterReadDelay == 0 {
		opts.InterReadDelay = DefaultInterReadDelay
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Driver{
		reader:    reader,
		sensors:   sensors,
		estimator: estimator,
		uploader:  uploader,
		env:       env,
		opts:      opts,
		clock:     clk,
		log:       log,
	}
}

// AddObserver registers o for every following cycle.
func (d *Driver) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// RunOnce performs one cycle.
func (d *Driver) RunOnce(ctx context.Context) Report {
	r := Report{ID: uuid.NewString(), Start: d.clock.Now()}
	log := d.log.With("cycle", r.ID)

	r.Shallow, r.ShallowErr = d.reader.ReadFrame(d.sensors.Shallow)
	d.clock.Sleep(d.opts.InterReadDelay)
	r.Steep, r.SteepErr = d.reader.ReadFrame(d.sensors.Steep)

	if r.ShallowErr != nil {
		log.Warnf("shallow sensor: %v", r.ShallowErr)
	}
	if r.SteepErr != nil {
		log.Warnf("steep sensor: %v", r.SteepErr)
	}

	est, err := d.estimator.Estimate(r.Shallow, r.Steep)
	if err != nil {
		log.Warnf("estimate skipped: %v", err)
		r.Skipped = true
		return d.finish(r)
	}
	r.Estimate = est
	log.Infof("fullness %d%% (trash %.0f of %.0f)", est.Fullness, est.TrashVolume, est.TotalVolume)

	temperature, humidity := d.env.Read()
	r.Payload = telemetry.Payload{
		ID:          d.opts.UnitID,
		Fullness:    est.Fullness,
		Temperature: temperature,
		Humidity:    humidity,
		Status:      telemetry.StatusOK,
	}
	r.Upload = d.uploader.Upload(ctx, r.Payload)

	switch {
	case r.Upload.Outcome != telemetry.Delivered:
		log.Errorf("upload %s after %d connect attempts: %v", r.Upload.Outcome, r.Upload.ConnectAttempts, r.Upload.Err)
	case r.Upload.TimedOut:
		log.Warnf("upload delivered, response timed out after %d lines", len(r.Upload.Response))
	default:
		log.Infof("upload delivered")
	}

	return d.finish(r)
}

func (d *Driver) finish(r Report) Report {
	r.Duration = d.clock.Now().Sub(r.Start)
	for _, o := range d.observers {
		o.Observe(r)
	}
	return r
}

// Run performs a cycle immediately and then waits interval after the end
// of each cycle, until ctx is cancelled.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("cycle interval must be positive, got %s", interval)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		d.RunOnce(ctx)
		timer.Reset(interval)
	}
}
