package scope

import (
	"fyne.io/fyne/v2"
	"github.com/chewxy/math32"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
)

// Beam is one sensor ray in screen coordinates.
type Beam struct {
	From, To fyne.Position
	Detected bool
}

// BinLayout is the side view of the container scaled into a widget.
// The far wall is on the left, the sensor wall on the right.
type BinLayout struct {
	Min, Max fyne.Position // Container outline
	Sensor   fyne.Position
	Shallow  Beam
	Steep    Beam
	Pile     []fyne.Position // Closed outline, empty when nothing is detected
	Scale    float32         // Pixels per inch
}

// LayoutBin fits g into size with margin on every side. When est is nil the
// beams are drawn at their empty-container baselines.
func LayoutBin(g fill.Geometry, est *fill.Estimate, size fyne.Size, margin float32) BinLayout {
	length, height := float32(g.Length), float32(g.Height)
	w := math32.Max(size.Width-2*margin, 1)
	h := math32.Max(size.Height-2*margin, 1)
	scale := math32.Min(w/length, h/height)

	ox := margin + (w-length*scale)/2
	oy := margin + (h-height*scale)/2
	toScreen := func(x, y float32) fyne.Position {
		return fyne.NewPos(ox+x*scale, oy+(height-y)*scale)
	}

	l := BinLayout{
		Min:    toScreen(0, height),
		Max:    toScreen(length, 0),
		Sensor: toScreen(length, height),
		Scale:  scale,
	}

	b := fill.NewBaseline(g)
	shallowDist, steepDist := float32(b.Shallow), float32(b.Steep)
	if est != nil {
		shallowDist = float32(est.Shallow.Adjusted)
		steepDist = float32(est.Steep.Adjusted)
		l.Shallow.Detected = est.Shallow.Detected
		l.Steep.Detected = est.Steep.Detected
	}

	beam := func(angle, dist float32) (fyne.Position, fyne.Position) {
		rad := angle * math32.Pi / 180
		// Rays leave the top of the sensor wall heading toward the far wall.
		x := length - dist*math32.Cos(rad)
		y := height - dist*math32.Sin(rad)
		return l.Sensor, toScreen(clampf(x, 0, length), clampf(y, 0, height))
	}
	l.Shallow.From, l.Shallow.To = beam(float32(g.Shallow.Angle), shallowDist)
	l.Steep.From, l.Steep.To = beam(float32(g.Steep.Angle), steepDist)

	if est == nil || !est.Steep.Detected {
		return l
	}

	dx := clampf(float32(est.Steep.X), 0, length)
	dh := clampf(float32(est.Steep.Height), 0, height)
	if !est.Shallow.Detected {
		l.Pile = []fyne.Position{toScreen(0, 0), toScreen(dx, 0), toScreen(dx, dh), toScreen(0, dh)}
		return l
	}

	sx := clampf(float32(est.Shallow.X), 0, length)
	sh := clampf(float32(est.Shallow.Height), 0, height)
	l.Pile = []fyne.Position{toScreen(0, 0), toScreen(dx, 0), toScreen(dx, dh), toScreen(sx, sh), toScreen(0, sh)}
	return l
}

func clampf(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
