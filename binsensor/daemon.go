package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/history"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/metrics"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/mirror"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/modem"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/telemetry"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

// daemon holds the wired measurement chain.
type daemon struct {
	cfg *config.Config
	log logging.Logger

	driver    *cycle.Driver
	collector *metrics.Collector
	history   *history.History
	server    *metrics.Server

	// closers run in reverse order on shutdown
	closers []func() error
}

// newDaemon wires every component from cfg. useMock replaces the sensor
// UARTs with simulated sensors.
func newDaemon(ctx context.Context, cfg *config.Config, log logging.Logger, useMock bool, reg prometheus.Registerer) (*daemon, error) {
	d := &daemon{cfg: cfg, log: log}
	clk := clock.Real()
	sink := logging.ZapSink(log)

	sensors, err := d.openSensors(clk, useMock)
	if err != nil {
		d.close()
		return nil, err
	}

	estimator, err := fill.NewEstimator(
		fill.GeometryFromConfig(cfg.Geometry),
		cfg.Geometry.DetectionRatio,
		fill.Policy{RejectInvalid: cfg.Geometry.RejectInvalid, Clamp: cfg.Geometry.Clamp},
		sink,
	)
	if err != nil {
		d.close()
		return nil, errors.Wrap(err, "invalid geometry")
	}

	link, err := d.openLink(ctx, clk, sink)
	if err != nil {
		d.close()
		return nil, err
	}

	env, err := cycle.EnvironmentFromConfig(cfg.Upload.Environment, time.Now().UnixNano())
	if err != nil {
		d.close()
		return nil, err
	}

	client := telemetry.NewClient(link, telemetry.OptionsFromConfig(cfg.Upload), clk, sink)
	reader := ultrasonic.NewReader(clk, ultrasonic.TimingFromConfig(cfg.Sensors), sink)
	d.driver = cycle.NewDriver(reader, sensors, estimator, client, env, cycle.Options{
		UnitID:         cfg.Upload.UnitID,
		InterReadDelay: cfg.Sensors.InterReadDelay,
	}, clk, log)

	if d.collector, err = metrics.New(reg); err != nil {
		d.close()
		return nil, err
	}
	d.driver.AddObserver(d.collector)

	d.history = history.New(cfg.Metrics.HistoryWindow, cfg.Metrics.DropThreshold)
	d.history.OnUpdate(func(points []history.Point, rates []float64, collections []history.Collection) {
		if n := len(collections); n > 0 && collections[n-1].Time.Equal(points[len(points)-1].Timestamp) {
			c := collections[n-1]
			log.Infof("collection detected: %d%% -> %d%%", c.Before, c.After)
		}
	})
	d.driver.AddObserver(d.history)

	if cfg.Mirror.Broker != "" {
		mc, err := mirror.Connect(cfg.Mirror)
		if err != nil {
			// The mirror is optional, the upload path still works without it.
			log.Warnf("mirror disabled: %v", err)
		} else {
			d.closers = append(d.closers, func() error { mc.Disconnect(250); return nil })
			pub := mirror.NewPublisher(mc, cfg.Mirror.TopicPrefix, cfg.Upload.UnitID, cfg.Mirror.Timeout, log)
			d.driver.AddObserver(pub)
			log.Infof("mirroring estimates to %s on %s", cfg.Mirror.Broker, pub.Topic())
		}
	}

	if cfg.Metrics.Listen != "" {
		d.server = metrics.NewServer(cfg.Metrics.Listen, d.collector, d.history, log)
	}

	return d, nil
}

// openSensors attaches both rangefinders to one bus so only the selected
// sensor delivers bytes.
func (d *daemon) openSensors(clk clock.Clock, useMock bool) (cycle.Sensors, error) {
	bus := ultrasonic.NewBus()

	if useMock {
		mock := d.cfg.Mock
		shallow := ultrasonic.NewMock(ultrasonic.MockConfig{
			Distance:      mock.ShallowDistance,
			Noise:         mock.Noise,
			CorruptRate:   mock.CorruptRate,
			SilentRate:    mock.SilentRate,
			FrameInterval: mock.FrameInterval,
		}, clk, time.Now().UnixNano())
		steep := ultrasonic.NewMock(ultrasonic.MockConfig{
			Distance:      mock.SteepDistance,
			Noise:         mock.Noise,
			CorruptRate:   mock.CorruptRate,
			SilentRate:    mock.SilentRate,
			FrameInterval: mock.FrameInterval,
		}, clk, time.Now().UnixNano()+1)
		d.log.Infof("using mocked sensors")
		return cycle.Sensors{Shallow: bus.Attach(shallow), Steep: bus.Attach(steep)}, nil
	}

	open := func(name string) (*ultrasonic.Serial, error) {
		s := ultrasonic.NewSerial(name, d.cfg.Sensors.BaudRate)
		if err := s.Open(); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, s.Close)
		return s, nil
	}
	shallow, err := open(d.cfg.Sensors.Shallow.Port)
	if err != nil {
		return cycle.Sensors{}, err
	}
	steep, err := open(d.cfg.Sensors.Steep.Port)
	if err != nil {
		return cycle.Sensors{}, err
	}
	d.log.Infof("sensors on %s (shallow) and %s (steep)", shallow.Name(), steep.Name())
	return cycle.Sensors{Shallow: bus.Attach(shallow), Steep: bus.Attach(steep)}, nil
}

// openLink powers the modem when pins are configured and opens the link.
func (d *daemon) openLink(ctx context.Context, clk clock.Clock, sink logging.Sink) (modem.Link, error) {
	mc := d.cfg.Modem

	if mc.Kind == config.ModemDirect {
		d.log.Infof("using host network (interface %q)", mc.Interface)
		return modem.NewDirect(mc.Interface, mc.ConnectTimeout), nil
	}

	if mc.ResetPin != "" && mc.PowerPin != "" {
		rst, pwr, err := modem.Pins(mc.ResetPin, mc.PowerPin)
		if err != nil {
			return nil, err
		}
		d.log.Infof("powering on modem")
		if err := modem.PowerOn(clk, rst, pwr); err != nil {
			return nil, errors.Wrap(err, "modem power-on failed")
		}
	}

	sim := modem.NewSIM7000(modem.SIM7000Config{
		Port:     mc.Port,
		BaudRate: mc.BaudRate,
		Credentials: modem.Credentials{
			APN:      mc.APN,
			User:     mc.User,
			Password: mc.Password,
		},
		CommandTimeout: mc.CommandTimeout,
		ConnectTimeout: mc.ConnectTimeout,
		PollInterval:   mc.PollInterval,
	}, clk, sink)
	if err := sim.Open(ctx); err != nil {
		return nil, err
	}
	d.closers = append(d.closers, sim.Close)
	d.log.Infof("modem ready on %s", mc.Port)
	return sim, nil
}

// run performs one cycle when once is set, otherwise cycles until ctx is
// cancelled while the status server runs alongside.
func (d *daemon) run(ctx context.Context, once bool) error {
	if once {
		r := d.driver.RunOnce(ctx)
		if r.Skipped {
			return errors.New("estimate skipped")
		}
		if r.Upload.Outcome != telemetry.Delivered {
			return errors.Errorf("upload %s", r.Upload.Outcome)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	if d.server != nil {
		go func() { errc <- d.server.ListenAndServe(ctx) }()
	}
	go func() { errc <- d.driver.Run(ctx, d.cfg.Cycle.Interval) }()

	err := <-errc
	cancel()
	if d.server != nil {
		if serr := <-errc; err == nil {
			err = serr
		}
	}
	return err
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warnf("close: %v", err)
		}
	}
	d.closers = nil
}
