package scope

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
)

var (
	colorBackground = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	colorGrid       = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	colorText       = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	colorWall       = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	colorPile       = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorBeamHit    = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	colorBeamMiss   = color.RGBA{R: 0, G: 100, B: 200, A: 255}
)

// BinWidget draws the container side view, both sensor beams and the
// estimated pile.
type BinWidget struct {
	widget.BaseWidget

	mu       sync.RWMutex
	geometry fill.Geometry
	estimate *fill.Estimate
}

// NewBin creates a BinWidget for g.
func NewBin(g fill.Geometry) *BinWidget {
	b := &BinWidget{geometry: g}
	b.ExtendBaseWidget(b)
	return b
}

// SetGeometry replaces the container geometry and clears the estimate.
func (b *BinWidget) SetGeometry(g fill.Geometry) {
	b.mu.Lock()
	b.geometry = g
	b.estimate = nil
	b.mu.Unlock()
	b.Refresh()
}

// UpdateEstimate shows est. Call it on the main thread using fyne.Do().
func (b *BinWidget) UpdateEstimate(est fill.Estimate) {
	b.mu.Lock()
	b.estimate = &est
	b.mu.Unlock()
	b.Refresh()
}

// CreateRenderer creates the widget renderer.
func (b *BinWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(colorBackground)
	return &binRenderer{bin: b, bg: bg, objects: []fyne.CanvasObject{bg}}
}

type binRenderer struct {
	bin      *BinWidget
	bg       *canvas.Rectangle
	objects  []fyne.CanvasObject
	lastSize fyne.Size
}

func (r *binRenderer) MinSize() fyne.Size {
	return fyne.NewSize(300, 240)
}

func (r *binRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.bin.BaseWidget.Refresh()
	}
}

func (r *binRenderer) Refresh() {
	r.bin.mu.RLock()
	g := r.bin.geometry
	est := r.bin.estimate
	r.bin.mu.RUnlock()

	size := r.bin.Size()
	r.objects = []fyne.CanvasObject{r.bg}
	if size.Width == 0 || size.Height == 0 || g.Validate() != nil {
		return
	}

	l := LayoutBin(g, est, size, 30)

	// Pile first so walls and beams stay visible on top.
	if len(l.Pile) > 0 {
		r.polyline(l.Pile, true, colorPile, 2)
		// Shade the lower prism under the steep hit.
		floor := canvas.NewRectangle(color.RGBA{R: 255, G: 165, B: 0, A: 60})
		floor.Move(fyne.NewPos(l.Min.X, l.Pile[2].Y))
		floor.Resize(fyne.NewSize(l.Pile[1].X-l.Min.X, l.Max.Y-l.Pile[2].Y))
		r.objects = append(r.objects, floor)
	}

	// Open-topped container outline.
	r.polyline([]fyne.Position{
		l.Min,
		fyne.NewPos(l.Min.X, l.Max.Y),
		l.Max,
		fyne.NewPos(l.Max.X, l.Min.Y),
	}, false, colorWall, 2)

	for _, beam := range []Beam{l.Shallow, l.Steep} {
		c := colorBeamMiss
		if beam.Detected {
			c = colorBeamHit
		}
		line := canvas.NewLine(c)
		line.Position1 = beam.From
		line.Position2 = beam.To
		line.StrokeWidth = 1.5
		r.objects = append(r.objects, line)

		dot := canvas.NewCircle(c)
		dot.Move(beam.To.SubtractXY(3, 3))
		dot.Resize(fyne.NewSize(6, 6))
		r.objects = append(r.objects, dot)
	}

	if est != nil {
		r.text(formatPercent(float64(est.Fullness)), fyne.NewPos(l.Min.X+8, l.Min.Y+8), 18, colorPile)
		r.text("shallow "+formatInches(float64(est.Shallow.Raw)), fyne.NewPos(l.Min.X+8, l.Min.Y+32), 11, colorText)
		r.text("steep "+formatInches(float64(est.Steep.Raw)), fyne.NewPos(l.Min.X+8, l.Min.Y+46), 11, colorText)
	}
}

func (r *binRenderer) polyline(points []fyne.Position, closed bool, c color.Color, width float32) {
	n := len(points) - 1
	if closed {
		n = len(points)
	}
	for i := 0; i < n; i++ {
		line := canvas.NewLine(c)
		line.Position1 = points[i]
		line.Position2 = points[(i+1)%len(points)]
		line.StrokeWidth = width
		r.objects = append(r.objects, line)
	}
}

func (r *binRenderer) text(s string, pos fyne.Position, size float32, c color.Color) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Move(pos)
	r.objects = append(r.objects, t)
}

func (r *binRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *binRenderer) Destroy() {}
