package ultrasonic

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// arrival is a chunk of bytes that becomes readable at a given offset from epoch.
type arrival struct {
	at    time.Duration
	bytes []byte
}

// scripted is a Channel whose bytes arrive on the fake clock's schedule.
type scripted struct {
	clk       *clock.Fake
	pending   []arrival
	buf       []byte
	listens   int
	listenErr error
}

func (s *scripted) Listen() error {
	s.listens++
	return s.listenErr
}

func (s *scripted) Buffered() (int, error) {
	now := s.clk.Now().Sub(epoch)
	for len(s.pending) > 0 && s.pending[0].at <= now {
		s.buf = append(s.buf, s.pending[0].bytes...)
		s.pending = s.pending[1:]
	}
	return len(s.buf), nil
}

func (s *scripted) ReadByte() (byte, error) {
	if len(s.buf) == 0 {
		return 0, errors.New("empty")
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

func frame(mm uint16) []byte {
	f := EncodeFrame(mm)
	return f[:]
}

func TestReader_Read(t *testing.T) {
	tests := []struct {
		name     string
		arrivals []arrival
		want     Reading
		wantErr  error
	}{
		{
			name:     "frame waiting after settle",
			arrivals: []arrival{{0, frame(1000)}},
			want:     Reading(1000 * MMToInch),
		},
		{
			name:     "garbage before header",
			arrivals: []arrival{{0, append([]byte{0x12, 0x34}, frame(254)...)}},
			want:     Reading(254 * MMToInch),
		},
		{
			name:     "frame arrives late within deadline",
			arrivals: []arrival{{350 * time.Millisecond, frame(500)}},
			want:     Reading(500 * MMToInch),
		},
		{
			name:     "body completes during frame delay",
			arrivals: []arrival{{150 * time.Millisecond, []byte{0xFF}}, {155 * time.Millisecond, []byte{0x00, 0x64, 0x63}}},
			want:     Reading(100 * MMToInch),
		},
		{
			name:     "bad checksum is not rescanned",
			arrivals: []arrival{{0, append([]byte{0xFF, 0x03, 0xE8, 0x00}, frame(1000)...)}},
			want:     Invalid,
			wantErr:  ErrChecksum,
		},
		{
			name:     "no data",
			arrivals: nil,
			want:     Invalid,
			wantErr:  ErrTimeout,
		},
		{
			name:     "frame after deadline",
			arrivals: []arrival{{401 * time.Millisecond, frame(1000)}},
			want:     Invalid,
			wantErr:  ErrTimeout,
		},
		{
			name:     "header without body",
			arrivals: []arrival{{0, []byte{0xFF, 0x03}}},
			want:     Invalid,
			wantErr:  ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(epoch)
			ch := &scripted{clk: clk, pending: tt.arrivals}
			r := NewReader(clk, Timing{}, nil)

			got, err := r.ReadFrame(ch)
			assert.InDelta(t, float64(tt.want), float64(got), 1e-9)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, ch.listens)
		})
	}
}

func TestReader_TimeoutBound(t *testing.T) {
	clk := clock.NewFake(epoch)
	r := NewReader(clk, Timing{}, nil)

	got := r.Read(&scripted{clk: clk})
	assert.Equal(t, Invalid, got)
	assert.False(t, got.Valid())

	// Settle plus the 300 ms scan, give or take one poll.
	elapsed := clk.Now().Sub(epoch)
	assert.GreaterOrEqual(t, elapsed, DefaultSettle+DefaultScan)
	assert.LessOrEqual(t, elapsed, DefaultSettle+DefaultScan+DefaultPoll)
}

func TestReader_SettleBeforeScan(t *testing.T) {
	clk := clock.NewFake(epoch)
	r := NewReader(clk, Timing{Settle: 100 * time.Millisecond}, nil)

	r.Read(&scripted{clk: clk, pending: []arrival{{0, frame(10)}}})
	require.NotEmpty(t, clk.Sleeps())
	assert.Equal(t, 100*time.Millisecond, clk.Sleeps()[0])
}

func TestReader_ListenError(t *testing.T) {
	clk := clock.NewFake(epoch)
	r := NewReader(clk, Timing{}, nil)

	got, err := r.ReadFrame(&scripted{clk: clk, listenErr: errors.New("port gone")})
	assert.Equal(t, Invalid, got)
	assert.Error(t, err)
}

func TestReader_DiagnosticLines(t *testing.T) {
	clk := clock.NewFake(epoch)
	var lines logging.Lines
	r := NewReader(clk, Timing{}, &lines)

	r.Read(&scripted{clk: clk})
	r.Read(&scripted{clk: clk, pending: []arrival{{0, []byte{0xFF, 0x00, 0x00, 0x00}}}})

	all := lines.All()
	require.Len(t, all, 2)
	assert.Contains(t, all[0], "timeout")
	assert.Contains(t, all[1], "rejected")
}

func TestReading_Valid(t *testing.T) {
	assert.True(t, Reading(0).Valid())
	assert.True(t, Reading(12.5).Valid())
	assert.False(t, Invalid.Valid())
}
