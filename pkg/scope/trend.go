package scope

import (
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/history"
)

// TrendWidget plots fullness over time with collection markers.
type TrendWidget struct {
	widget.BaseWidget

	window time.Duration

	// Data (protected by mu)
	mu            sync.RWMutex
	points        []history.Point
	collections   []history.Collection
	lastRate      float64
	haveRate      bool
	displayPoints []history.Point

	// Auto-scaling
	yMin, yMax float64
	xMin, xMax time.Time

	maxDisplayPoints int
}

// NewTrend creates a TrendWidget showing at least window of time.
func NewTrend(window time.Duration) *TrendWidget {
	t := &TrendWidget{
		window:           window,
		displayPoints:    make([]history.Point, 0, 500),
		maxDisplayPoints: 500,
	}
	t.updateAutoScale()
	t.ExtendBaseWidget(t)
	return t
}

// UpdateData replaces the plotted data. Call it on the main thread using fyne.Do().
func (t *TrendWidget) UpdateData(points []history.Point, rates []float64, collections []history.Collection) {
	t.mu.Lock()
	t.displayPoints = Downsample(t.displayPoints, points, t.maxDisplayPoints)
	t.collections = collections
	t.haveRate = len(rates) > 0
	if t.haveRate {
		t.lastRate = rates[len(rates)-1]
	}
	t.updateAutoScale()
	t.mu.Unlock()

	t.Refresh()
}

// updateAutoScale keeps 0..100 in view and widens for unclamped values.
func (t *TrendWidget) updateAutoScale() {
	t.yMin, t.yMax = 0, 100
	for _, p := range t.displayPoints {
		t.yMin = min(t.yMin, float64(p.Fullness))
		t.yMax = max(t.yMax, float64(p.Fullness))
	}

	if len(t.displayPoints) == 0 {
		t.xMax = time.Now()
		t.xMin = t.xMax.Add(-t.window)
		return
	}
	t.xMin = t.displayPoints[0].Timestamp
	t.xMax = t.displayPoints[len(t.displayPoints)-1].Timestamp
	if t.xMax.Sub(t.xMin) < t.window {
		t.xMin = t.xMax.Add(-t.window)
	}
}

// CreateRenderer creates the widget renderer.
func (t *TrendWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(colorBackground)
	return &trendRenderer{trend: t, bg: bg, objects: []fyne.CanvasObject{bg}}
}

type trendRenderer struct {
	trend    *TrendWidget
	bg       *canvas.Rectangle
	objects  []fyne.CanvasObject
	lastSize fyne.Size
}

func (r *trendRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 200)
}

func (r *trendRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.trend.BaseWidget.Refresh()
	}
}

func (r *trendRenderer) Refresh() {
	r.trend.mu.RLock()
	points := r.trend.displayPoints
	collections := r.trend.collections
	rate, haveRate := r.trend.lastRate, r.trend.haveRate
	yMin, yMax := r.trend.yMin, r.trend.yMax
	xMin, xMax := r.trend.xMin, r.trend.xMax
	r.trend.mu.RUnlock()

	size := r.trend.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}
	r.objects = []fyne.CanvasObject{r.bg}

	const (
		marginLeft   = float32(50)
		marginRight  = float32(20)
		marginTop    = float32(20)
		marginBottom = float32(30)
	)
	plot := plotArea{
		x: marginLeft, y: marginTop,
		w:    size.Width - marginLeft - marginRight,
		h:    size.Height - marginTop - marginBottom,
		yMin: yMin, yMax: yMax, xMin: xMin, xMax: xMax,
	}

	r.drawGrid(plot)

	for _, c := range collections {
		if c.Time.Before(xMin) {
			continue
		}
		x := plot.xAt(c.Time)
		line := canvas.NewLine(colorBeamMiss)
		line.Position1 = fyne.NewPos(x, plot.y)
		line.Position2 = fyne.NewPos(x, plot.y+plot.h)
		r.objects = append(r.objects, line)
	}

	for i := 0; i+1 < len(points); i++ {
		line := canvas.NewLine(colorPile)
		line.Position1 = plot.pos(points[i].Timestamp, float64(points[i].Fullness))
		line.Position2 = plot.pos(points[i+1].Timestamp, float64(points[i+1].Fullness))
		line.StrokeWidth = 1.5
		r.objects = append(r.objects, line)
	}
	for _, p := range points {
		c := colorBeamHit
		if !p.Delivered {
			c = colorWall
		}
		dot := canvas.NewCircle(c)
		dot.Move(plot.pos(p.Timestamp, float64(p.Fullness)).SubtractXY(2, 2))
		dot.Resize(fyne.NewSize(4, 4))
		r.objects = append(r.objects, dot)
	}

	if haveRate {
		text := canvas.NewText(formatRate(rate), colorWall)
		text.TextSize = 11
		text.Move(fyne.NewPos(plot.x+10, plot.y+5))
		r.objects = append(r.objects, text)
	}
}

func (r *trendRenderer) drawGrid(p plotArea) {
	const numHLines = 5
	for i := 0; i < numHLines+1; i++ {
		value := p.yMax - float64(i)*(p.yMax-p.yMin)/numHLines
		y := p.y + float32(i)*p.h/numHLines
		line := canvas.NewLine(colorGrid)
		line.Position1 = fyne.NewPos(p.x, y)
		line.Position2 = fyne.NewPos(p.x+p.w, y)
		r.objects = append(r.objects, line)

		text := canvas.NewText(formatPercent(value), colorText)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(p.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	const numVLines = 6
	span := p.xMax.Sub(p.xMin)
	for i := 0; i < numVLines+1; i++ {
		x := p.x + float32(i)*p.w/numVLines
		line := canvas.NewLine(colorGrid)
		line.Position1 = fyne.NewPos(x, p.y)
		line.Position2 = fyne.NewPos(x, p.y+p.h)
		r.objects = append(r.objects, line)

		at := p.xMin.Add(span * time.Duration(i) / numVLines)
		text := canvas.NewText(formatClock(at, span), colorText)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, p.y+p.h+5))
		r.objects = append(r.objects, text)
	}
}

func (r *trendRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *trendRenderer) Destroy() {}

// plotArea maps data coordinates into a rectangle.
type plotArea struct {
	x, y, w, h float32
	yMin, yMax float64
	xMin, xMax time.Time
}

func (p plotArea) xAt(t time.Time) float32 {
	span := p.xMax.Sub(p.xMin).Seconds()
	if span <= 0 {
		return p.x
	}
	return p.x + float32(t.Sub(p.xMin).Seconds()/span)*p.w
}

func (p plotArea) yAt(v float64) float32 {
	span := p.yMax - p.yMin
	if span <= 0 {
		return p.y + p.h
	}
	return p.y + p.h - float32((v-p.yMin)/span)*p.h
}

func (p plotArea) pos(t time.Time, v float64) fyne.Position {
	return fyne.NewPos(p.xAt(t), p.yAt(v))
}
