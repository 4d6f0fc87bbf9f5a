package fill

import (
	"math"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
)

// DefaultDetectionRatio is the fraction of the empty baseline at or below
// which a sensor is considered to see trash.
const DefaultDetectionRatio = 0.85

// Mount is a rangefinder's position on the container's end wall.
type Mount struct {
	Angle          float64 // Degrees below horizontal
	OffsetDistance float64 // Added to the raw reading
	OffsetHeight   float64 // Subtracted from the perceived height
}

func (m Mount) radians() float64 { return m.Angle * math.Pi / 180 }

// Geometry is the container and its two sensor mounts. Linear units are inches.
type Geometry struct {
	Length float64
	Width  float64
	Height float64

	Shallow Mount
	Steep   Mount
}

// GeometryFromConfig converts the geometry section.
func GeometryFromConfig(cfg config.GeometryConfig) Geometry {
	mount := func(m config.MountConfig) Mount {
		return Mount{Angle: m.Angle, OffsetDistance: m.OffsetDistance, OffsetHeight: m.OffsetHeight}
	}
	return Geometry{
		Length:  cfg.Length,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Shallow: mount(cfg.Shallow),
		Steep:   mount(cfg.Steep),
	}
}

// TotalVolume is Length × Width × Height.
func (g Geometry) TotalVolume() float64 {
	return g.Length * g.Width * g.Height
}

// Validate rejects geometry the estimator cannot divide by or aim with.
func (g Geometry) Validate() error {
	if g.Length <= 0 || g.Width <= 0 || g.Height <= 0 {
		return errors.Errorf("container dimensions must be positive, got %vx%vx%v", g.Length, g.Width, g.Height)
	}
	for _, m := range []Mount{g.Shallow, g.Steep} {
		if m.Angle <= 0 || m.Angle >= 90 {
			return errors.Errorf("mount angle must be in (0, 90) degrees, got %v", m.Angle)
		}
	}
	return nil
}

// Baseline holds each sensor's slant distance to an empty container.
type Baseline struct {
	Shallow float64
	Steep   float64
}

// NewBaseline derives the empty-container distances: the shallow sensor sees
// the far wall foot, the steep sensor sees the floor.
func NewBaseline(g Geometry) Baseline {
	return Baseline{
		Shallow: g.Length / math.Cos(g.Shallow.radians()),
		Steep:   g.Height / math.Sin(g.Steep.radians()),
	}
}
