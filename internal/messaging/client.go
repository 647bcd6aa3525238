// Package messaging holds the NATS connection shared by the JetStream
// queue, stream and failure sink.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// Client is a NATS connection with a JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration
}

// ConfigFrom maps the service configuration onto a client Config.
func ConfigFrom(cfg config.NATSConfig) Config {
	return Config{
		URL:           cfg.URL,
		Name:          cfg.Name,
		MaxReconnects: -1,
		ReconnectWait: cfg.ReconnectWait,
		Timeout:       cfg.Timeout,
	}
}

// Connect dials NATS and creates the JetStream context.
func Connect(cfg Config) (*Client, error) {
	log := logger.Get().With("component", "nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	log.Infow("nats connected", "url", cfg.URL, "name", cfg.Name)
	return &Client{conn: conn, js: js}, nil
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// CreateOrUpdateStream creates or updates a stream.
func (c *Client) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Drain gracefully closes, allowing in-flight messages to complete.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() {
	c.conn.Close()
}
