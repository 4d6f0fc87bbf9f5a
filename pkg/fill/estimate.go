package fill

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

// ErrInvalidReading is returned by Estimator.Estimate when RejectInvalid is
// set and either reading is the invalid sentinel.
var ErrInvalidReading = errors.New("invalid sensor reading")

// SensorView is what one sensor says about the pile.
type SensorView struct {
	Raw      ultrasonic.Reading
	Adjusted float64 // Raw + mount offset
	Height   float64 // Pile height under the beam
	X        float64 // Horizontal extent of the pile from the far wall
	Detected bool    // Adjusted within the detection ratio of the baseline
}

// Estimate is the outcome of one fill computation.
type Estimate struct {
	TrashVolume float64
	TotalVolume float64
	Fullness    int // Percent, truncated toward zero, not clamped

	Shallow SensorView
	Steep   SensorView
}

// Compute estimates the trash volume from the two readings.
//
// The steep sensor gates everything: without it the volume is zero. With
// only the steep sensor the pile is a prism of its height over its extent.
// With both, a trapezoidal wedge between the two extents is stacked on top.
// Invalid readings are not special-cased.
func Compute(shallow, steep ultrasonic.Reading, g Geometry, b Baseline, ratio float64) Estimate {
	if ratio == 0 {
		ratio = DefaultDetectionRatio
	}

	s := view(shallow, g.Shallow, g, b.Shallow, ratio)
	d := view(steep, g.Steep, g, b.Steep, ratio)

	var trash float64
	switch {
	case !d.Detected:
		trash = 0
	case !s.Detected:
		trash = d.Height * g.Width * d.X
	default:
		lower := d.Height * g.Width * d.X
		upper := (d.X + s.X) * (s.Height - d.Height) / 2 * g.Width
		trash = lower + upper
	}

	total := g.TotalVolume()
	return Estimate{
		TrashVolume: trash,
		TotalVolume: total,
		Fullness:    int(trash / total * 100),
		Shallow:     s,
		Steep:       d,
	}
}

func view(r ultrasonic.Reading, m Mount, g Geometry, baseline, ratio float64) SensorView {
	adjusted := float64(r) + m.OffsetDistance
	rad := m.radians()
	return SensorView{
		Raw:      r,
		Adjusted: adjusted,
		Height:   g.Height - adjusted*math.Sin(rad) - m.OffsetHeight,
		X:        g.Length - adjusted*math.Cos(rad),
		Detected: adjusted <= ratio*baseline,
	}
}

// Policy selects deviations from the plain computation.
type Policy struct {
	RejectInvalid bool // Refuse to estimate from an invalid reading
	Clamp         bool // Clamp Fullness to [0, 100]
}

// Estimator binds a geometry to its baseline and reports diagnostics.
type Estimator struct {
	geometry Geometry
	baseline Baseline
	ratio    float64
	policy   Policy
	sink     logging.Sink
}

// NewEstimator validates g and precomputes its baseline.
func NewEstimator(g Geometry, ratio float64, policy Policy, sink logging.Sink) (*Estimator, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if ratio == 0 {
		ratio = DefaultDetectionRatio
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.Errorf("detection ratio must be in (0, 1], got %v", ratio)
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &Estimator{
		geometry: g,
		baseline: NewBaseline(g),
		ratio:    ratio,
		policy:   policy,
		sink:     sink,
	}, nil
}

// Geometry returns the configured geometry.
func (e *Estimator) Geometry() Geometry { return e.geometry }

// Baseline returns the empty-container distances.
func (e *Estimator) Baseline() Baseline { return e.baseline }

// Estimate runs Compute under the estimator's policy.
func (e *Estimator) Estimate(shallow, steep ultrasonic.Reading) (Estimate, error) {
	if e.policy.RejectInvalid && (!shallow.Valid() || !steep.Valid()) {
		e.sink.Line(fmt.Sprintf("invalid reading: shallow %.2f steep %.2f", float64(shallow), float64(steep)))
		return Estimate{}, ErrInvalidReading
	}

	est := Compute(shallow, steep, e.geometry, e.baseline, e.ratio)
	if e.policy.Clamp {
		est.Fullness = clamp(est.Fullness)
	}

	e.sink.Line(fmt.Sprintf("dist shallow: %.2f", float64(est.Shallow.Raw)))
	e.sink.Line(fmt.Sprintf("dist steep: %.2f", float64(est.Steep.Raw)))
	e.sink.Line(fmt.Sprintf("height steep: %.2f", est.Steep.Height))
	e.sink.Line(fmt.Sprintf("height shallow: %.2f", est.Shallow.Height))
	e.sink.Line(fmt.Sprintf("trash volume: %.1f", est.TrashVolume))
	e.sink.Line(fmt.Sprintf("total volume: %.1f", est.TotalVolume))
	e.sink.Line(fmt.Sprintf("%d%%", est.Fullness))
	return est, nil
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
