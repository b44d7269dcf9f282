// Package transport carries sync messages between nodes over a broadcast pub/sub channel.
// Delivery is at-most-once: messages published while a node is disconnected are lost.
package transport

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport is closed")
	// ErrAlreadySubscribed is returned when Subscribe is called more than once.
	ErrAlreadySubscribed = errors.New("transport already has a subscriber")
)

// Handler receives every decoded message, including ones published by this node.
type Handler func(ctx context.Context, msg message.Message)

// Transport is a broadcast pub/sub channel shared by all nodes.
type Transport interface {
	// Publish sends msg to every subscriber.
	Publish(ctx context.Context, msg message.Message) error
	// Subscribe registers the single handler and starts delivering on a background goroutine.
	Subscribe(h Handler) error
	// IsConnected reports whether the transport can currently publish.
	IsConnected() bool
	// Close stops delivery and releases the connection.
	Close() error
}

// deliver decodes payload and passes it to h. Malformed payloads and handler panics are
// logged so the delivery goroutine keeps running.
func deliver(l zerolog.Logger, h Handler, payload []byte) {
	msg, err := message.Decode(payload)
	if err != nil {
		l.Warn().Err(err).Int("size", len(payload)).Msg("Dropping malformed sync message")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Str("type", string(msg.Type)).Bytes("stack", debug.Stack()).Msg("Sync handler panicked")
		}
	}()

	h(context.Background(), msg)
}

// Broadcaster publishes local mutations on behalf of one node.
// A nil Broadcaster, or one without a transport, runs in single-node mode and sends nothing.
type Broadcaster struct {
	transport Transport
	logger    zerolog.Logger
	node      string
}

// NewBroadcaster returns a Broadcaster stamping messages with node. t may be nil.
func NewBroadcaster(t Transport, node string) *Broadcaster {
	return &Broadcaster{
		transport: t,
		node:      node,
		logger:    logger.Component("broadcast"),
	}
}

// Node returns the origin name stamped on outgoing messages.
func (b *Broadcaster) Node() string {
	if b == nil {
		return ""
	}
	return b.node
}

// Connected reports whether a transport is configured and connected.
func (b *Broadcaster) Connected() bool {
	return b != nil && b.transport != nil && b.transport.IsConnected()
}

// Send publishes a message of type t. Every call attempts a publish, so only messages sent
// during an outage are lost. Failures are logged and swallowed; the caller's operation has
// already succeeded against the store.
func (b *Broadcaster) Send(ctx context.Context, t message.Type, data map[string]string) {
	if b == nil || b.transport == nil {
		return
	}

	if err := b.transport.Publish(ctx, message.New(t, b.node, data)); err != nil {
		b.logger.Warn().Err(err).Str("type", string(t)).Msg("Failed to publish sync message")
		return
	}

	b.logger.Debug().Str("type", string(t)).Msg("Sync message published")
}
