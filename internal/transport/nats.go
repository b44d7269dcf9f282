package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// NATSConfig holds connection options for the NATS transport.
type NATSConfig struct {
	URL     string
	Subject string
	// Name identifies this connection on the server, usually the node name.
	Name string
}

// NATS is a Transport backed by a NATS subject.
type NATS struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	closed       *atomic.Bool
	logger       zerolog.Logger
	subject      string
	mu           sync.Mutex
}

var _ Transport = (*NATS)(nil)

// NewNATS connects to the NATS server with reconnects enabled, retrying the first dial with backoff.
func NewNATS(ctx context.Context, cfg NATSConfig) (*NATS, error) {
	l := logger.Component("nats").With().Str("subject", cfg.Subject).Logger()

	opts := nats.GetDefaultOptions()
	opts.Url = cfg.URL
	opts.Name = cfg.Name
	opts.ReconnectWait = 2 * time.Second
	opts.MaxReconnect = -1
	opts.DisconnectedErrCB = func(_ *nats.Conn, err error) {
		l.Warn().Err(err).Msg("Disconnected from NATS")
	}
	opts.ReconnectedCB = func(c *nats.Conn) {
		l.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
	}

	var conn *nats.Conn

	const maxRetries = 5
	retrier := retry.NewRetrier(maxRetries, 100*time.Millisecond, opts.ReconnectWait)
	if err := retrier.RunContext(ctx, func(_ context.Context) error {
		var err error
		conn, err = opts.Connect()
		return err
	}); err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	return &NATS{
		conn:    conn,
		subject: cfg.Subject,
		closed:  atomic.NewBool(false),
		logger:  l,
	}, nil
}

// Publish sends msg on the configured subject.
func (n *NATS) Publish(_ context.Context, msg message.Message) error {
	if n.closed.Load() {
		return ErrClosed
	}

	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe registers h on the subject. NATS delivers on its own per-subscription goroutine.
func (n *NATS) Subscribe(h Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed.Load() {
		return ErrClosed
	}
	if n.subscription != nil {
		return ErrAlreadySubscribed
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		deliver(n.logger, h, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}

	// make sure the server registered the interest before returning
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	n.subscription = sub
	n.logger.Info().Msg("Subscribed to sync subject")
	return nil
}

// IsConnected reports the connection status of the underlying client.
func (n *NATS) IsConnected() bool {
	return !n.closed.Load() && n.conn.IsConnected()
}

// Close unsubscribes and closes the connection.
func (n *NATS) Close() error {
	if n.closed.Swap(true) {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	if n.subscription != nil {
		err = multierr.Append(err, n.subscription.Unsubscribe())
	}
	n.conn.Close()

	return err
}
