package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/clock"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/modem"
)

// Outcome is the coarse result of one upload.
type Outcome int

const (
	// Delivered means the request was sent. The response may have timed out.
	Delivered Outcome = iota
	// ConnectFailed means no socket could be opened, nothing was sent.
	ConnectFailed
	// LinkDown means the packet-data session could not be brought up.
	LinkDown
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case ConnectFailed:
		return "connect_failed"
	case LinkDown:
		return "link_down"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// LinkRetry bounds link reconnection. MaxAttempts 0 retries until the
// context is cancelled.
type LinkRetry struct {
	MaxAttempts int
	Delay       time.Duration
}

// Options configures the client.
type Options struct {
	Host            string
	Port            int
	ConnectAttempts int
	ConnectDelay    time.Duration
	Link            LinkRetry
	ResponseTimeout time.Duration // Drain watchdog, reset by every line
	Settle          time.Duration // After closing a socket
	Poll            time.Duration // Between empty drain polls
}

// OptionsFromConfig converts the upload section.
func OptionsFromConfig(cfg config.UploadConfig) Options {
	retry := LinkRetry{MaxAttempts: cfg.LinkAttempts, Delay: cfg.LinkDelay}
	if cfg.LinkPolicy == config.LinkUnbounded {
		retry.MaxAttempts = 0
	}
	return Options{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
		Link:            retry,
		ResponseTimeout: cfg.ResponseTimeout,
		Settle:          cfg.SettleDelay,
		Poll:            cfg.PollInterval,
	}
}

// Result reports what happened during one upload.
type Result struct {
	Outcome         Outcome
	LinkAttempts    int      // Attach calls made
	ConnectAttempts int      // Dial calls made
	Response        []string // Response lines, without line endings
	TimedOut        bool     // The drain watchdog fired
	Err             error    // Last error seen, for logging
}

// Client posts payloads through a Link. It is not safe for concurrent use.
type Client struct {
	link  modem.Link
	opts  Options
	clock clock.Clock
	sink  logging.Sink

	sock modem.Socket
}

// NewClient creates a client. Zero options take the defaults of the
// upload section.
func NewClient(link modem.Link, opts Options, clk clock.Clock, sink logging.Sink) *Client {
	def := OptionsFromConfig(config.Default().Upload)
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = def.ConnectAttempts
	}
	if opts.ConnectDelay == 0 {
		opts.ConnectDelay = def.ConnectDelay
	}
	if opts.Link.Delay == 0 {
		opts.Link.Delay = def.Link.Delay
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	if opts.Settle == 0 {
		opts.Settle = def.Settle
	}
	if opts.Poll == 0 {
		opts.Poll = def.Poll
	}
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &Client{link: link, opts: opts, clock: clk, sink: sink}
}

// Upload runs one session: link up, connect, send, drain, close.
// Failures are reported in the Result, never returned.
func (c *Client) Upload(ctx context.Context, p Payload) Result {
	var res Result

	body, err := p.Marshal()
	if err != nil {
		res.Outcome = ConnectFailed
		res.Err = err
		return res
	}

	c.sink.Line("Preparing client to connect to " + c.opts.Host)
	if c.sock != nil && c.sock.Connected() {
		c.sink.Line("Previous client still connected. Closing...")
		c.closeSocket()
	}
	c.sock = nil

	if err := c.ensureLink(ctx, &res); err != nil {
		res.Outcome = LinkDown
		res.Err = err
		return res
	}

	sock, err := c.connect(ctx, &res)
	if err != nil {
		res.Outcome = ConnectFailed
		res.Err = err
		return res
	}
	c.sock = sock

	if _, err := sock.Write(BuildRequest(c.opts.Host, body)); err != nil {
		c.sink.Line("Failed to send request")
		c.closeSocket()
		res.Outcome = ConnectFailed
		res.Err = errors.Wrap(err, "failed to send request")
		return res
	}

	c.sink.Line("Reading server response")
	res.Response, res.TimedOut = c.drain(sock)
	c.sink.Line("Server Response: " + strings.Join(res.Response, "\n"))

	if sock.Connected() {
		c.closeSocket()
	}
	res.Outcome = Delivered
	return res
}

// ensureLink attaches the packet-data session if needed.
func (c *Client) ensureLink(ctx context.Context, res *Result) error {
	ok, err := c.link.Attached(ctx)
	if err != nil {
		c.sink.Line(fmt.Sprintf("Link status unknown: %v", err))
	}
	if ok {
		return nil
	}

	for {
		c.sink.Line("Link not connected. Attempting to reconnect...")
		res.LinkAttempts++
		err := c.link.Attach(ctx)
		if err == nil {
			return nil
		}

		if c.opts.Link.MaxAttempts > 0 && res.LinkAttempts >= c.opts.Link.MaxAttempts {
			c.sink.Line("Link reconnect failed. Aborting send.")
			return errors.Wrapf(err, "link down after %d attempts", res.LinkAttempts)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "link reconnect cancelled")
		}
		c.sink.Line(fmt.Sprintf("Link reconnect failed. Retrying in %s...", c.opts.Link.Delay))
		c.clock.Sleep(c.opts.Link.Delay)
	}
}

// connect dials up to ConnectAttempts times, ConnectDelay apart.
func (c *Client) connect(ctx context.Context, res *Result) (modem.Socket, error) {
	c.sink.Line(fmt.Sprintf("Connecting to %s:%d...", c.opts.Host, c.opts.Port))

	var lastErr error
	for res.ConnectAttempts < c.opts.ConnectAttempts {
		res.ConnectAttempts++
		sock, err := c.link.Dial(ctx, c.opts.Host, c.opts.Port)
		if err == nil {
			return sock, nil
		}
		lastErr = err

		if res.ConnectAttempts == c.opts.ConnectAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "connect cancelled")
		}
		c.sink.Line(fmt.Sprintf("Failed to connect, retrying in %s...", c.opts.ConnectDelay))
		c.clock.Sleep(c.opts.ConnectDelay)
	}

	c.sink.Line(fmt.Sprintf("Failed to connect after %d attempts. Giving up.", res.ConnectAttempts))
	return nil, errors.Wrapf(lastErr, "connect failed after %d attempts", res.ConnectAttempts)
}

// drain collects response lines while the socket is open or has data.
// Every complete line resets the watchdog.
func (c *Client) drain(sock modem.Socket) ([]string, bool) {
	var (
		lines    []string
		partial  []byte
		timedOut bool
	)
	deadline := c.clock.Now().Add(c.opts.ResponseTimeout)

	for sock.Connected() || sock.Available() > 0 {
		if !c.clock.Now().Before(deadline) {
			timedOut = true
			break
		}

		if sock.Available() == 0 {
			c.clock.Sleep(c.opts.Poll)
			continue
		}

		b, err := sock.ReadByte()
		if err != nil {
			break
		}
		if b != '\n' {
			partial = append(partial, b)
			continue
		}

		line := strings.TrimRight(string(partial), "\r")
		partial = partial[:0]
		lines = append(lines, line)
		c.sink.Line(line)
		deadline = c.clock.Now().Add(c.opts.ResponseTimeout)
	}

	if len(partial) > 0 {
		line := strings.TrimRight(string(partial), "\r")
		lines = append(lines, line)
		c.sink.Line(line)
	}
	if timedOut {
		c.sink.Line("Response timed out")
	}
	return lines, timedOut
}

func (c *Client) closeSocket() {
	if err := c.sock.Close(); err != nil {
		c.sink.Line(fmt.Sprintf("Close failed: %v", err))
	}
	c.clock.Sleep(c.opts.Settle)
}
