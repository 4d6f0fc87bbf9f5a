package history

import (
	"sync"
	"time"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/telemetry"
)

var (
	_ Tracker        = (*History)(nil)
	_ cycle.Observer = (*History)(nil)
)

// Point is one fullness estimate.
type Point struct {
	Timestamp   time.Time `json:"timestamp"`
	Fullness    int       `json:"fullness"`
	TrashVolume float64   `json:"trash_volume"`
	Delivered   bool      `json:"delivered"` // The estimate reached the ingestion endpoint
}

// Collection is a detected emptying of the container.
type Collection struct {
	Time   time.Time `json:"time"`   // Timestamp of the first point after the drop
	Before int       `json:"before"` // Fullness before the drop
	After  int       `json:"after"`  // Fullness after the drop
}

// Tracker keeps a time window of estimates and derived events.
type Tracker interface {
	ProcessPoints(input <-chan Point)
	Points() []Point                                                          // Current window, oldest first
	Rates() []float64                                                         // Fill rate in percent per hour, n-1 rates for n points
	Collections() []Collection                                                // Collections within the window
	OnUpdate(func(points []Point, rates []float64, collections []Collection)) // Register callback for updates
}

// History implements Tracker.
// rates[i] is the fill rate between points[i] and points[i+1].
type History struct {
	window        time.Duration
	dropThreshold int

	mu          sync.RWMutex
	points      []Point
	rates       []float64
	collections []Collection
	shutdown    bool

	cbMu      sync.RWMutex
	callbacks []func(points []Point, rates []float64, collections []Collection)
}

// New creates a History keeping points newer than window. A fullness drop
// of at least dropThreshold points between consecutive estimates counts as
// a collection.
func New(window time.Duration, dropThreshold int) *History {
	return &History{
		window:        window,
		dropThreshold: dropThreshold,
	}
}

// ProcessPoints adds points from input until it closes. After that no more
// callbacks are sent until ResetShutdown.
func (h *History) ProcessPoints(input <-chan Point) {
	for p := range input {
		h.Add(p)
	}
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
}

// Add appends p, evicts points outside the window and notifies callbacks.
func (h *History) Add(p Point) {
	h.mu.Lock()

	h.points = append(h.points, p)

	cutoff := p.Timestamp.Add(-h.window)
	drop := 0
	for drop < len(h.points) && !h.points[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		h.points = h.points[drop:]
		if drop <= len(h.rates) {
			h.rates = h.rates[drop:]
		} else {
			h.rates = h.rates[:0]
		}
		kept := h.collections[:0]
		for _, c := range h.collections {
			if c.Time.After(cutoff) {
				kept = append(kept, c)
			}
		}
		h.collections = kept
	}

	if n := len(h.points); n >= 2 {
		prev, curr := h.points[n-2], h.points[n-1]
		if dt := curr.Timestamp.Sub(prev.Timestamp).Hours(); dt > 0 {
			h.rates = append(h.rates, float64(curr.Fullness-prev.Fullness)/dt)
		} else {
			h.rates = append(h.rates, 0)
		}
		if h.dropThreshold > 0 && prev.Fullness-curr.Fullness >= h.dropThreshold {
			h.collections = append(h.collections, Collection{Time: curr.Timestamp, Before: prev.Fullness, After: curr.Fullness})
		}
	}

	notify := !h.shutdown
	h.mu.Unlock()

	if notify {
		h.notifyCallbacks()
	}
}

// Observe adds the estimate of a finished cycle. Skipped cycles are ignored.
func (h *History) Observe(r cycle.Report) {
	if r.Skipped {
		return
	}
	h.Add(Point{
		Timestamp:   r.Start,
		Fullness:    r.Estimate.Fullness,
		TrashVolume: r.Estimate.TrashVolume,
		Delivered:   r.Upload.Outcome == telemetry.Delivered,
	})
}

// Latest returns the newest point.
func (h *History) Latest() (Point, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.points) == 0 {
		return Point{}, false
	}
	return h.points[len(h.points)-1], true
}

// Points returns a copy of the current window.
func (h *History) Points() []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Point(nil), h.points...)
}

// Rates returns a copy of the fill rates.
func (h *History) Rates() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.rates...)
}

// Collections returns a copy of the detected collections.
func (h *History) Collections() []Collection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Collection(nil), h.collections...)
}

// OnUpdate registers a callback invoked after every Add with copies of the data.
// The callback should return quickly.
func (h *History) OnUpdate(callback func(points []Point, rates []float64, collections []Collection)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

// ResetShutdown re-enables callbacks after an input channel closed.
func (h *History) ResetShutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = false
}

func (h *History) notifyCallbacks() {
	points := h.Points()
	rates := h.Rates()
	collections := h.Collections()

	h.cbMu.RLock()
	callbacks := make([]func([]Point, []float64, []Collection), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(points, rates, collections)
		}
	}
}
