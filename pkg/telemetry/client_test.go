package telemetry

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/modem"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const never = time.Duration(-1)

type arrival struct {
	at   time.Duration
	data string
}

// fakeSocket delivers response bytes on the fake clock's schedule and
// reports a remote close at closeAt.
type fakeSocket struct {
	clk      *clock.Fake
	arrivals []arrival
	closeAt  time.Duration
	buf      []byte
	written  bytes.Buffer
	closed   int
	writeErr error
}

func (s *fakeSocket) elapsed() time.Duration { return s.clk.Now().Sub(epoch) }

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.written.Write(p)
}

func (s *fakeSocket) Available() int {
	for len(s.arrivals) > 0 && s.arrivals[0].at <= s.elapsed() {
		s.buf = append(s.buf, s.arrivals[0].data...)
		s.arrivals = s.arrivals[1:]
	}
	return len(s.buf)
}

func (s *fakeSocket) ReadByte() (byte, error) {
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

func (s *fakeSocket) Connected() bool {
	if s.closed > 0 {
		return false
	}
	return s.closeAt == never || s.elapsed() < s.closeAt
}

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

// fakeLink scripts attach and dial results.
type fakeLink struct {
	clk        *clock.Fake
	attached   bool
	attachErrs []error // one per Attach call, nil succeeds; exhausted list fails
	attachAt   []time.Duration
	dialFails  int // dial calls that fail before one succeeds, -1 always fails
	dialAt     []time.Duration
	sock       *fakeSocket
}

func (l *fakeLink) Attached(ctx context.Context) (bool, error) {
	return l.attached, nil
}

func (l *fakeLink) Attach(ctx context.Context) error {
	i := len(l.attachAt)
	l.attachAt = append(l.attachAt, l.clk.Now().Sub(epoch))
	if i < len(l.attachErrs) && l.attachErrs[i] == nil {
		l.attached = true
		return nil
	}
	return errors.New("attach refused")
}

func (l *fakeLink) Dial(ctx context.Context, host string, port int) (modem.Socket, error) {
	l.dialAt = append(l.dialAt, l.clk.Now().Sub(epoch))
	if l.dialFails < 0 || len(l.dialAt) <= l.dialFails {
		return nil, errors.Wrap(modem.ErrConnectFail, "refused")
	}
	return l.sock, nil
}

var testPayload = Payload{ID: 1, Fullness: 24, Temperature: 70, Humidity: 40, Status: StatusOK}

func newTestClient(link *fakeLink, opts Options) (*Client, *logging.Lines) {
	var lines logging.Lines
	if opts.Link.MaxAttempts == 0 && opts.Link.Delay == 0 {
		opts.Link = LinkRetry{MaxAttempts: 3, Delay: 10 * time.Second}
	}
	return NewClient(link, opts, link.clk, &lines), &lines
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Upload
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "harvest.soracom.io", opts.Host)
	assert.Equal(t, 80, opts.Port)
	assert.Equal(t, 5, opts.ConnectAttempts)
	assert.Equal(t, 5*time.Second, opts.ConnectDelay)
	assert.Equal(t, LinkRetry{MaxAttempts: 3, Delay: 10 * time.Second}, opts.Link)
	assert.Equal(t, 10*time.Second, opts.ResponseTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.Settle)

	cfg.LinkPolicy = config.LinkUnbounded
	assert.Equal(t, 0, OptionsFromConfig(cfg).Link.MaxAttempts)
}

func TestUpload_Delivered(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{
		clk: clk,
		arrivals: []arrival{
			{200 * time.Millisecond, "HTTP/1.1 201 Created\r\n"},
			{300 * time.Millisecond, "Content-Length: 0\r\n\r\n"},
		},
		closeAt: 400 * time.Millisecond,
	}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, lines := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, Delivered, res.Outcome)
	assert.False(t, res.TimedOut)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.LinkAttempts)
	assert.Equal(t, 1, res.ConnectAttempts)
	assert.Equal(t, []string{"HTTP/1.1 201 Created", "Content-Length: 0", ""}, res.Response)

	body, _ := testPayload.Marshal()
	assert.Equal(t, string(BuildRequest("harvest.soracom.io", body)), sock.written.String())
	assert.Equal(t, 0, sock.closed, "remote closed, nothing to close")
	assert.Contains(t, lines.All(), "HTTP/1.1 201 Created")
}

func TestUpload_ConnectRetryExhausted(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{clk: clk, closeAt: never}
	link := &fakeLink{clk: clk, attached: true, dialFails: -1, sock: sock}
	c, lines := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, ConnectFailed, res.Outcome)
	assert.Equal(t, 5, res.ConnectAttempts)
	assert.Equal(t, modem.ErrConnectFail, errors.Cause(res.Err))
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second}, link.dialAt)
	assert.Zero(t, sock.written.Len())
	assert.Contains(t, lines.All(), "Failed to connect after 5 attempts. Giving up.")
}

func TestUpload_ConnectSucceedsOnRetry(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{clk: clk, closeAt: 0}
	link := &fakeLink{clk: clk, attached: true, dialFails: 2, sock: sock}
	c, _ := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, Delivered, res.Outcome)
	assert.Equal(t, 3, res.ConnectAttempts)
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second}, link.dialAt)
	assert.NotZero(t, sock.written.Len())
}

func TestUpload_DrainWatchdog(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{
		clk:      clk,
		arrivals: []arrival{{time.Second, "HTTP/1.1 200 OK\r\n"}},
		closeAt:  never,
	}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, _ := newTestClient(link, Options{})

	var stoppedAt time.Duration
	res := c.Upload(context.Background(), testPayload)
	stoppedAt = clk.Now().Sub(epoch) - 100*time.Millisecond // minus close settle

	assert.Equal(t, Delivered, res.Outcome)
	assert.True(t, res.TimedOut)
	assert.Equal(t, []string{"HTTP/1.1 200 OK"}, res.Response)
	assert.GreaterOrEqual(t, stoppedAt, 11*time.Second)
	assert.LessOrEqual(t, stoppedAt, 11*time.Second+10*time.Millisecond)
	assert.Equal(t, 1, sock.closed)
}

func TestUpload_DrainWatchdogResetPerLine(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{
		clk: clk,
		arrivals: []arrival{
			{8 * time.Second, "a\n"},
			{16 * time.Second, "b\n"},
			{24 * time.Second, "c"},
		},
		closeAt: 25 * time.Second,
	}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, _ := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.False(t, res.TimedOut)
	assert.Equal(t, []string{"a", "b", "c"}, res.Response)
}

func TestUpload_SilentServer(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{clk: clk, closeAt: never}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, _ := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, Delivered, res.Outcome)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Response)
	assert.InDelta(t, float64(10*time.Second+100*time.Millisecond), float64(clk.Now().Sub(epoch)), float64(10*time.Millisecond))
}

func TestUpload_WriteFails(t *testing.T) {
	clk := clock.NewFake(epoch)
	sock := &fakeSocket{clk: clk, closeAt: never, writeErr: errors.New("broken pipe")}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, _ := newTestClient(link, Options{})

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, ConnectFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, sock.closed)
}

func TestUpload_LinkRetry(t *testing.T) {
	tests := []struct {
		name         string
		retry        LinkRetry
		attachErrs   []error
		wantOutcome  Outcome
		wantAttempts []time.Duration
	}{
		{
			name:         "attach first time",
			retry:        LinkRetry{MaxAttempts: 3, Delay: 10 * time.Second},
			attachErrs:   []error{nil},
			wantOutcome:  Delivered,
			wantAttempts: []time.Duration{0},
		},
		{
			name:         "attach on third",
			retry:        LinkRetry{MaxAttempts: 3, Delay: 10 * time.Second},
			attachErrs:   []error{errors.New("x"), errors.New("x"), nil},
			wantOutcome:  Delivered,
			wantAttempts: []time.Duration{0, 10 * time.Second, 20 * time.Second},
		},
		{
			name:         "bounded gives up",
			retry:        LinkRetry{MaxAttempts: 3, Delay: 10 * time.Second},
			wantOutcome:  LinkDown,
			wantAttempts: []time.Duration{0, 10 * time.Second, 20 * time.Second},
		},
		{
			name:         "single attempt",
			retry:        LinkRetry{MaxAttempts: 1, Delay: 10 * time.Second},
			wantOutcome:  LinkDown,
			wantAttempts: []time.Duration{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(epoch)
			sock := &fakeSocket{clk: clk, closeAt: 0}
			link := &fakeLink{clk: clk, attachErrs: tt.attachErrs, sock: sock}
			c, _ := newTestClient(link, Options{Link: tt.retry})

			res := c.Upload(context.Background(), testPayload)

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantAttempts, link.attachAt)
			assert.Equal(t, len(tt.wantAttempts), res.LinkAttempts)
			if tt.wantOutcome == LinkDown {
				assert.Empty(t, link.dialAt)
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestUpload_UnboundedLinkRetryCancelled(t *testing.T) {
	clk := clock.NewFake(epoch)
	link := &fakeLink{clk: clk}
	c, _ := newTestClient(link, Options{Link: LinkRetry{MaxAttempts: 0, Delay: 10 * time.Second}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk.OnSleep(func(now time.Time) {
		if now.Sub(epoch) >= time.Minute {
			cancel()
		}
	})

	res := c.Upload(ctx, testPayload)

	assert.Equal(t, LinkDown, res.Outcome)
	assert.Equal(t, context.Canceled, errors.Cause(res.Err))
	assert.Equal(t, 7, res.LinkAttempts)
	assert.Empty(t, link.dialAt)
}

func TestUpload_ClosesPreviousSocket(t *testing.T) {
	clk := clock.NewFake(epoch)
	stale := &fakeSocket{clk: clk, closeAt: never}
	sock := &fakeSocket{clk: clk, closeAt: 0}
	link := &fakeLink{clk: clk, attached: true, sock: sock}
	c, lines := newTestClient(link, Options{})
	c.sock = stale

	res := c.Upload(context.Background(), testPayload)

	assert.Equal(t, Delivered, res.Outcome)
	assert.Equal(t, 1, stale.closed)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, link.dialAt)
	assert.Contains(t, lines.All(), "Previous client still connected. Closing...")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "connect_failed", ConnectFailed.String())
	assert.Equal(t, "link_down", LinkDown.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
