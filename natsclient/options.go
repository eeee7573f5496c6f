package natsclient

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// ClientOption configures a Client during construction
type ClientOption func(*Client) error

// WithLogger sets the structured logger used by the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithClientName sets the NATS connection name
func WithClientName(name string) ClientOption {
	return func(c *Client) error {
		if name == "" {
			return errors.New("client name cannot be empty")
		}
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects sets the maximum reconnect attempts (-1 for infinite)
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the delay between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("reconnect wait must be positive")
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the connect timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserInfo sets username/password authentication
func WithUserInfo(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" {
			return errors.New("username cannot be empty")
		}
		c.authOpts = append(c.authOpts, nats.UserInfo(username, password))
		return nil
	}
}

// WithAuthToken sets token authentication
func WithAuthToken(token string) ClientOption {
	return func(c *Client) error {
		if token == "" {
			return errors.New("token cannot be empty")
		}
		c.authOpts = append(c.authOpts, nats.Token(token))
		return nil
	}
}

// WithDrainTimeout sets how long Close waits for a graceful drain
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("drain timeout must be positive")
		}
		c.drainTimeout = d
		return nil
	}
}
