package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/telemetry"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h float64, fullness int) Point {
	return Point{Timestamp: epoch.Add(time.Duration(h * float64(time.Hour))), Fullness: fullness}
}

func TestNew(t *testing.T) {
	h := New(24*time.Hour, 30)

	assert.NotNil(t, h)
	assert.Empty(t, h.Points())
	assert.Empty(t, h.Rates())
	assert.Empty(t, h.Collections())
	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestAdd_Rates(t *testing.T) {
	h := New(24*time.Hour, 30)

	h.Add(at(0, 10))
	assert.Empty(t, h.Rates(), "need two points for a rate")

	h.Add(at(2, 20))
	h.Add(at(3, 23))

	require.Len(t, h.Points(), 3)
	assert.Equal(t, []float64{5, 3}, h.Rates())

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 23, latest.Fullness)
}

func TestAdd_SameTimestamp(t *testing.T) {
	h := New(time.Hour, 0)
	h.Add(at(0, 10))
	h.Add(at(0, 12))
	assert.Equal(t, []float64{0}, h.Rates())
}

func TestAdd_WindowRemoval(t *testing.T) {
	h := New(2*time.Hour, 30)

	h.Add(at(0, 10))
	h.Add(at(1, 20))
	h.Add(at(2, 30))
	h.Add(at(3, 40))

	points := h.Points()
	require.Len(t, points, 2)
	assert.Equal(t, 30, points[0].Fullness)
	assert.Equal(t, 40, points[1].Fullness)
	assert.Len(t, h.Rates(), len(points)-1)
}

func TestAdd_Collections(t *testing.T) {
	h := New(10*time.Hour, 30)

	h.Add(at(0, 80))
	h.Add(at(1, 85))
	h.Add(at(2, 5)) // emptied
	h.Add(at(3, 10))
	h.Add(at(4, -10)) // drop of 20, below threshold

	c := h.Collections()
	require.Len(t, c, 1)
	assert.Equal(t, Collection{Time: at(2, 5).Timestamp, Before: 85, After: 5}, c[0])

	// The collection ages out with the window.
	h.Add(at(12.5, 12))
	assert.Empty(t, h.Collections())
}

func TestOnUpdate(t *testing.T) {
	h := New(time.Hour, 30)

	var calls int
	var last []Point
	h.OnUpdate(func(points []Point, rates []float64, collections []Collection) {
		calls++
		last = points
	})

	h.Add(at(0, 1))
	h.Add(at(0.5, 2))
	assert.Equal(t, 2, calls)
	assert.Len(t, last, 2)

	// Callbacks get copies.
	last[0].Fullness = 99
	assert.Equal(t, 1, h.Points()[0].Fullness)
}

func TestProcessPoints_Shutdown(t *testing.T) {
	h := New(time.Hour, 30)

	var calls int
	h.OnUpdate(func([]Point, []float64, []Collection) { calls++ })

	in := make(chan Point, 2)
	in <- at(0, 1)
	in <- at(0.1, 2)
	close(in)
	h.ProcessPoints(in)
	assert.Equal(t, 2, calls)

	h.Add(at(0.2, 3))
	assert.Equal(t, 2, calls, "no callbacks after shutdown")
	assert.Len(t, h.Points(), 3)

	h.ResetShutdown()
	h.Add(at(0.3, 4))
	assert.Equal(t, 3, calls)
}

func TestObserve(t *testing.T) {
	h := New(24*time.Hour, 30)

	h.Observe(cycle.Report{Start: epoch, Skipped: true})
	assert.Empty(t, h.Points())

	h.Observe(cycle.Report{
		Start:    epoch,
		Estimate: fill.Estimate{Fullness: 71, TrashVolume: 22000},
		Upload:   telemetry.Result{Outcome: telemetry.ConnectFailed},
	})
	require.Len(t, h.Points(), 1)
	assert.Equal(t, Point{Timestamp: epoch, Fullness: 71, TrashVolume: 22000}, h.Points()[0])
}
