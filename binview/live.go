package main

import (
	"context"
	"time"

	"fyne.io/fyne/v2"
	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/history"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

// samplePeriod separates live estimates.
const samplePeriod = time.Second

// liveChain tracks the sampling goroutines for graceful shutdown.
type liveChain struct {
	cancel      context.CancelFunc
	samplerDone chan struct{} // Closed when the sampling goroutine exits
	trackerDone chan struct{} // Closed when the tracker goroutine exits
	closers     []func() error

	shallowMock *ultrasonic.Mock
	steepMock   *ultrasonic.Mock
}

// startLive opens the sensors and starts estimating every samplePeriod.
// Nothing is uploaded.
func startLive(state *appState) (*liveChain, error) {
	cfg := state.cfg
	clk := clock.Real()
	sink := logging.ZapSink(state.log)

	estimator, err := fill.NewEstimator(
		fill.GeometryFromConfig(cfg.Geometry),
		cfg.Geometry.DetectionRatio,
		fill.Policy{Clamp: cfg.Geometry.Clamp},
		sink,
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid geometry")
	}

	chain := &liveChain{
		samplerDone: make(chan struct{}),
		trackerDone: make(chan struct{}),
	}

	bus := ultrasonic.NewBus()
	var shallow, steep ultrasonic.Channel
	if state.useMock {
		chain.shallowMock = ultrasonic.NewMock(mockConfig(cfg.Mock.ShallowDistance, state), clk, time.Now().UnixNano())
		chain.steepMock = ultrasonic.NewMock(mockConfig(cfg.Mock.SteepDistance, state), clk, time.Now().UnixNano()+1)
		shallow, steep = bus.Attach(chain.shallowMock), bus.Attach(chain.steepMock)
	} else {
		open := func(name string) (ultrasonic.Channel, error) {
			s := ultrasonic.NewSerial(name, cfg.Sensors.BaudRate)
			if err := s.Open(); err != nil {
				return nil, err
			}
			chain.closers = append(chain.closers, s.Close)
			return bus.Attach(s), nil
		}
		if shallow, err = open(cfg.Sensors.Shallow.Port); err != nil {
			chain.close(state.log)
			return nil, err
		}
		if steep, err = open(cfg.Sensors.Steep.Port); err != nil {
			chain.close(state.log)
			return nil, err
		}
	}

	reader := ultrasonic.NewReader(clk, ultrasonic.TimingFromConfig(cfg.Sensors), nil)
	state.binWidget.SetGeometry(estimator.Geometry())

	ctx, cancel := context.WithCancel(context.Background())
	chain.cancel = cancel

	points := make(chan history.Point, 16)
	state.tracker.ResetShutdown()
	go func() {
		defer close(chain.trackerDone)
		state.tracker.ProcessPoints(points)
	}()

	go func() {
		defer close(chain.samplerDone)
		defer close(points)

		for {
			s, serr := reader.ReadFrame(shallow)
			clk.Sleep(cfg.Sensors.InterReadDelay)
			d, derr := reader.ReadFrame(steep)

			if est, err := estimator.Estimate(s, d); err == nil {
				fyne.Do(func() { state.binWidget.UpdateEstimate(est) })
				updateSensorIndicators(state, est, serr, derr)
				points <- history.Point{Timestamp: clk.Now(), Fullness: est.Fullness, TrashVolume: est.TrashVolume}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(samplePeriod):
			}
		}
	}()

	return chain, nil
}

func mockConfig(distance float64, state *appState) ultrasonic.MockConfig {
	m := state.cfg.Mock
	return ultrasonic.MockConfig{
		Distance:      distance,
		Noise:         m.Noise,
		CorruptRate:   m.CorruptRate,
		SilentRate:    m.SilentRate,
		FrameInterval: m.FrameInterval,
	}
}

// stopLive cancels sampling and waits for both goroutines to finish.
func stopLive(chain *liveChain) {
	if chain == nil {
		return
	}
	chain.cancel()
	<-chain.samplerDone
	<-chain.trackerDone
	chain.close(nil)
}

func (c *liveChain) close(log logging.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && log != nil {
			log.Warnf("close: %v", err)
		}
	}
	c.closers = nil
}
