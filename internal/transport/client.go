// Package transport is the client's single real-time connection to the
// server. It re-announces presence on every connect, decodes inbound frames
// into wire events and dispatches them in arrival order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wire"
)

// ErrNotConnected is returned by Send while the socket is down.
var ErrNotConnected = errors.New("transport: not connected")

const (
	// Time allowed to write a frame to the server
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the server
	pongWait = 60 * time.Second

	// Send pings with this period
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20
)

// Config is the connection configuration.
type Config struct {
	URL       string
	UserID    string
	Token     string
	BaseDelay time.Duration
	MaxDelay  time.Duration
	SendRate  float64 // frames per second, 0 disables pacing
	SendBurst int
}

// Options are the client's collaborators. Calls and Syncs receive every
// decoded event; either may be nil.
type Options struct {
	Calls    wire.CallHandler
	Syncs    wire.SyncHandler
	Since    func() time.Time // replay checkpoint announced on connect
	OnOnline func()
	Status   *status.Machine
	Metrics  metrics.Collector
	Logger   *zap.Logger
}

// Client maintains the socket, reconnecting with exponential backoff.
type Client struct {
	cfg     Config
	opts    Options
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	log     *zap.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
	wmu  sync.Mutex // serializes writes on conn

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. Nothing is dialed until Start.
func New(cfg Config, opts Options) *Client {
	if opts.Status == nil {
		opts.Status = status.NewMachine(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, burst),
		log:     opts.Logger.Named("transport"),
	}
}

// Bind sets the collaborators that themselves write to this client. It must
// be called before Start.
func (c *Client) Bind(calls wire.CallHandler, syncs wire.SyncHandler, since func() time.Time, onOnline func()) {
	c.opts.Calls = calls
	c.opts.Syncs = syncs
	c.opts.Since = since
	c.opts.OnOnline = onOnline
}

// Start begins connecting in the background.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Stop closes the socket and stops reconnecting.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
	if err := c.opts.Status.Transition(status.Closed); err != nil {
		c.log.Debug("status transition", zap.Error(err))
	}
}

// State returns the connection state.
func (c *Client) State() status.State {
	return c.opts.Status.Current()
}

// Online reports whether frames can be sent now.
func (c *Client) Online() bool {
	return c.opts.Status.Current() == status.Online
}

// Send writes one envelope, waiting for the outbound rate limiter.
func (c *Client) Send(ctx context.Context, env wire.Envelope) error {
	if !c.Online() {
		return ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.write(env)
}

func (c *Client) write(env wire.Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", env.Event, err)
	}
	c.opts.Metrics.FrameSent(string(env.Event))
	return nil
}

func (c *Client) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.MaxElapsedTime = 0 // never give up
	bo.Reset()

	for {
		c.transition(status.Connecting)
		conn, err := c.dial(ctx)
		if err == nil {
			bo.Reset()
			c.serve(ctx, conn)
		} else {
			c.log.Warn("dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		c.transition(status.Reconnecting)
		c.opts.Metrics.TransportReconnect()
		delay := bo.NextBackOff()
		c.log.Info("scheduling reconnect", zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve announces presence, marks the client online and reads until the
// connection drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.closeConn()

	presence := wire.Presence{UserID: c.cfg.UserID}
	if c.opts.Since != nil {
		if since := c.opts.Since(); !since.IsZero() {
			presence.Since = since.UnixMilli()
		}
	}
	if err := c.write(wire.Envelope{Event: wire.KindPresence, Data: presence}); err != nil {
		c.log.Warn("presence announce failed", zap.Error(err))
		return
	}

	c.transition(status.Online)
	c.log.Info("connected", zap.String("url", c.cfg.URL), zap.Int64("since", presence.Since))
	if c.opts.OnOnline != nil {
		c.opts.OnOnline()
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.ping(conn, pingDone)

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("connection lost", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, raw)
	}
}

// handle decodes and dispatches one frame on the read goroutine, so events
// reach the router and the engine in the order they arrived.
func (c *Client) handle(ctx context.Context, raw []byte) {
	ev, err := wire.Decode(raw)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownEvent) {
			c.log.Debug("ignoring frame", zap.Error(err))
		} else {
			c.log.Warn("invalid frame", zap.Error(err))
		}
		return
	}
	c.opts.Metrics.FrameReceived(string(ev.Kind()))
	wire.Dispatch(ctx, ev, c.opts.Calls, c.opts.Syncs)
}

func (c *Client) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.wmu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.wmu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	conn.Close()
}

func (c *Client) transition(to status.State) {
	if err := c.opts.Status.Transition(to); err != nil {
		c.log.Debug("status transition", zap.Error(err))
	}
}
