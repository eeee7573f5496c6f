package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// Client manages a NATS connection and its JetStream context for the
// hedgeflow persistence layer (workflow records and the local durable cache).
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	authOpts      []nats.Option

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(nil, "Client", "NewClient", "url cannot be empty")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		clientName:    "hedgeflow",
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Connect establishes the NATS connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	connectDone := make(chan error, 1)
	go func() {
		natsOpts := []nats.Option{
			nats.Name(c.clientName),
			nats.MaxReconnects(c.maxReconnects),
			nats.ReconnectWait(c.reconnectWait),
			nats.Timeout(c.timeout),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					c.logger.Warn("NATS disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
		}
		natsOpts = append(natsOpts, c.authOpts...)
		conn, err := nats.Connect(c.url, natsOpts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// IsConnected reports whether the underlying connection is live.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.ErrNoConnection
	}
	return c.js, nil
}

// CreateKeyValueBucket creates or binds a JetStream KV bucket.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "get JetStream context")
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		// Bucket may already exist with a compatible config
		if existing, gerr := js.KeyValue(ctx, cfg.Bucket); gerr == nil {
			return existing, nil
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	return bucket, nil
}

// Close drains and closes the NATS connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn == nil {
		return nil
	}

	drained := make(chan error, 1)
	go func() {
		drained <- c.conn.Drain()
	}()

	select {
	case err := <-drained:
		if err != nil {
			c.conn.Close()
			return errors.WrapTransient(err, "Client", "Close", "drain connection")
		}
	case <-time.After(c.drainTimeout):
		c.conn.Close()
	case <-ctx.Done():
		c.conn.Close()
	}

	c.conn = nil
	c.js = nil
	return nil
}
