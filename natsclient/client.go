// Package natsclient provides the supervisor's NATS connection wrapper:
// connect with reconnect handling, publish/subscribe for the datagram
// overlay, and a JetStream accessor for the settings bucket.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// Status represents the state of the NATS connection
type Status int

// Possible connection statuses
const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Options configures the client connection behavior.
type Options struct {
	Name          string
	MaxReconnects int           // -1 for infinite
	ReconnectWait time.Duration
	Timeout       time.Duration
	OnStatus      func(Status)
}

// DefaultOptions returns connection defaults suited to a long-lived
// control system link.
func DefaultOptions() Options {
	return Options{
		Name:          "scada-supervisor",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client manages one NATS connection.
type Client struct {
	url    string
	opts   Options
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// New creates a disconnected client.
func New(url string, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{url: url, opts: opts, logger: logger.With("component", "natsclient")}
}

// Connect dials the broker and prepares JetStream.
func (c *Client) Connect() error {
	natsOpts := []nats.Option{
		nats.Name(c.opts.Name),
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.Timeout(c.opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("broker disconnected", "error", err)
			c.notify(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Info("broker reconnected")
			c.notify(StatusConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.notify(StatusDisconnected)
		}),
	}

	conn, err := nats.Connect(c.url, natsOpts...)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "broker dial")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Client", "Connect", "jetstream setup")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.notify(StatusConnected)
	c.logger.Info("connected to broker", "url", c.url)
	return nil
}

func (c *Client) notify(s Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

// Status returns the connection status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.conn == nil:
		return StatusDisconnected
	case c.conn.IsConnected():
		return StatusConnected
	case c.conn.IsReconnecting():
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}

// RTT returns the broker round-trip time, or zero when disconnected.
func (c *Client) RTT() time.Duration {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return 0
	}
	rtt, err := conn.RTT()
	if err != nil {
		return 0
	}
	return rtt
}

// PublishMsg publishes a message with headers.
func (c *Client) PublishMsg(msg *nats.Msg) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.ErrNoConnection
	}
	if err := conn.PublishMsg(msg); err != nil {
		return errors.WrapTransient(err, "Client", "PublishMsg", "publish")
	}
	return nil
}

// Subscribe subscribes to a subject with a message handler.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, errors.ErrNoConnection
	}
	sub, err := conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscription")
	}
	return sub, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// Close drains and closes the connection.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := conn.Drain(); err != nil {
			c.logger.Warn("drain failed, closing hard", "error", err)
			conn.Close()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
	}
}
