package modem

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeModem answers AT commands from a reply table.
type fakeModem struct {
	mu      sync.Mutex
	replies map[string]string
	out     []byte
	written []string
	closed  bool
}

func newFakeModem(replies map[string]string) *fakeModem {
	return &fakeModem{replies: replies}
}

func (f *fakeModem) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.TrimRight(string(p), "\r\n")
	f.written = append(f.written, cmd)
	f.out = append(f.out, f.replies[cmd]...)
	return len(p), nil
}

func (f *fakeModem) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.out)
	f.out = f.out[n:]
	return n, nil
}

func (f *fakeModem) push(s string) {
	f.mu.Lock()
	f.out = append(f.out, s...)
	f.mu.Unlock()
}

func (f *fakeModem) ResetInputBuffer() error { return nil }

func (f *fakeModem) Close() error {
	f.closed = true
	return nil
}

func (f *fakeModem) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func newTestSIM(f *fakeModem) (*SIM7000, *clock.Fake) {
	clk := clock.NewFake(epoch)
	m := NewSIM7000(SIM7000Config{
		Credentials: Credentials{APN: "soracom.io", User: "sora", Password: "sora"},
	}, clk, nil)
	m.conn = f
	return m, clk
}

func TestSIM7000_Init(t *testing.T) {
	f := newFakeModem(map[string]string{
		"AT":   "\r\nOK\r\n",
		"ATE0": "ATE0\r\r\nOK\r\n",
	})
	m, _ := newTestSIM(f)

	require.NoError(t, m.init(context.Background()))
	assert.Equal(t, []string{"AT", "ATE0"}, f.commands())
}

func TestSIM7000_Attached(t *testing.T) {
	tests := []struct {
		name    string
		replies map[string]string
		want    bool
	}{
		{
			name: "attached with address",
			replies: map[string]string{
				"AT+CGATT?": "\r\n+CGATT: 1\r\n\r\nOK\r\n",
				"AT+CIFSR":  "\r\n10.160.4.7\r\n",
			},
			want: true,
		},
		{
			name: "detached",
			replies: map[string]string{
				"AT+CGATT?": "\r\n+CGATT: 0\r\n\r\nOK\r\n",
			},
			want: false,
		},
		{
			name: "attached without address",
			replies: map[string]string{
				"AT+CGATT?": "\r\n+CGATT: 1\r\n\r\nOK\r\n",
				"AT+CIFSR":  "\r\nERROR\r\n",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestSIM(newFakeModem(tt.replies))
			got, err := m.Attached(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSIM7000_Attach(t *testing.T) {
	replies := map[string]string{
		"AT+CIPSHUT":                         "\r\nSHUT OK\r\n",
		"AT+CIPMODE=1":                       "\r\nOK\r\n",
		"AT+CGATT=1":                         "\r\nOK\r\n",
		`AT+CSTT="soracom.io","sora","sora"`: "\r\nOK\r\n",
		"AT+CIICR":                           "\r\nOK\r\n",
		"AT+CIFSR":                           "\r\n10.160.4.7\r\n",
	}
	f := newFakeModem(replies)
	m, _ := newTestSIM(f)

	require.NoError(t, m.Attach(context.Background()))
	assert.Equal(t, []string{
		"AT+CIPSHUT",
		"AT+CIPMODE=1",
		"AT+CGATT=1",
		`AT+CSTT="soracom.io","sora","sora"`,
		"AT+CIICR",
		"AT+CIFSR",
	}, f.commands())
}

func TestSIM7000_AttachFails(t *testing.T) {
	f := newFakeModem(map[string]string{
		"AT+CIPSHUT":                         "\r\nSHUT OK\r\n",
		"AT+CIPMODE=1":                       "\r\nOK\r\n",
		"AT+CGATT=1":                         "\r\nOK\r\n",
		`AT+CSTT="soracom.io","sora","sora"`: "\r\nOK\r\n",
		"AT+CIICR":                           "\r\nERROR\r\n",
	})
	m, _ := newTestSIM(f)

	err := m.Attach(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrCommand, errors.Cause(err))
	assert.Contains(t, err.Error(), "AT+CIICR")
}

func TestSIM7000_CommandTimeout(t *testing.T) {
	m, clk := newTestSIM(newFakeModem(nil))

	_, err := m.Attached(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, errors.Cause(err))

	elapsed := clk.Now().Sub(epoch)
	assert.GreaterOrEqual(t, elapsed, DefaultCommandTimeout)
	assert.Less(t, elapsed, DefaultCommandTimeout+time.Second)
}

func TestSIM7000_CommandCancelled(t *testing.T) {
	m, _ := newTestSIM(newFakeModem(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.command(ctx, "AT", time.Second, nil)
	assert.Equal(t, context.Canceled, err)
}

func TestSIM7000_Dial(t *testing.T) {
	f := newFakeModem(map[string]string{
		`AT+CIPSTART="TCP","harvest.soracom.io","80"`: "\r\nOK\r\n\r\nCONNECT\r\n",
		"AT+CIPCLOSE": "\r\nCLOSE OK\r\n",
	})
	m, clk := newTestSIM(f)

	s, err := m.Dial(context.Background(), "harvest.soracom.io", 80)
	require.NoError(t, err)
	assert.True(t, s.Connected())

	_, err = s.Write([]byte("POST / HTTP/1.1\r\n"))
	require.NoError(t, err)

	f.push("HTTP/1.1 200 OK\r\n")
	assert.Equal(t, len("HTTP/1.1 200 OK\r\n"), s.Available())
	assert.True(t, s.Connected())

	// A second socket is refused while the first is open.
	_, err = m.Dial(context.Background(), "harvest.soracom.io", 80)
	assert.Equal(t, ErrConnectFail, errors.Cause(err))

	before := clk.Now()
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
	assert.Equal(t, 2*DefaultGuardTime, clk.Now().Sub(before))

	cmds := f.commands()
	assert.Equal(t, "+++", cmds[len(cmds)-2])
	assert.Equal(t, "AT+CIPCLOSE", cmds[len(cmds)-1])
}

func TestSIM7000_RemoteClose(t *testing.T) {
	f := newFakeModem(map[string]string{
		`AT+CIPSTART="TCP","example.org","80"`: "\r\nOK\r\n\r\nCONNECT\r\nHTTP/1.1 200",
	})
	m, _ := newTestSIM(f)

	s, err := m.Dial(context.Background(), "example.org", 80)
	require.NoError(t, err)

	f.push(" OK\r\n\r\nCLOSED\r\n")
	n := s.Available()
	assert.False(t, s.Connected())

	var got []byte
	for i := 0; i < n; i++ {
		b, err := s.ReadByte()
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, "HTTP/1.1 200 OK\n", string(got))

	// Closing after the peer did sends nothing.
	before := len(f.commands())
	require.NoError(t, s.Close())
	assert.Len(t, f.commands(), before)
}

func TestSIM7000_DialFails(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"connect fail", "\r\nOK\r\n\r\nCONNECT FAIL\r\n"},
		{"error", "\r\nERROR\r\n"},
		{"no answer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeModem(map[string]string{`AT+CIPSTART="TCP","example.org","80"`: tt.reply})
			m, _ := newTestSIM(f)

			s, err := m.Dial(context.Background(), "example.org", 80)
			assert.Nil(t, s)
			assert.Equal(t, ErrConnectFail, errors.Cause(err))
		})
	}
}
