package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// RedisConfig holds connection options for the Redis transport.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Channel  string
	DB       int
}

// Redis is a Transport backed by a Redis pub/sub channel.
type Redis struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	done    chan struct{}
	closed  *atomic.Bool
	logger  zerolog.Logger
	channel string
	mu      sync.Mutex
}

var _ Transport = (*Redis)(nil)

const pingTimeout = 500 * time.Millisecond

// NewRedis connects to Redis, retrying the initial ping with backoff.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: 2,
	})

	const maxRetries = 5
	retrier := retry.NewRetrier(maxRetries, 100*time.Millisecond, 2*time.Second)
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return &Redis{
		client:  client,
		channel: cfg.Channel,
		closed:  atomic.NewBool(false),
		logger:  logger.Component("redis").With().Str("channel", cfg.Channel).Logger(),
	}, nil
}

// Publish sends msg on the configured channel. The client redials on demand, so a
// publish after an outage succeeds once the server is back.
func (r *Redis) Publish(ctx context.Context, msg message.Message) error {
	if r.closed.Load() {
		return ErrClosed
	}

	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	return nil
}

// Subscribe confirms the subscription with the server and starts the delivery goroutine.
func (r *Redis) Subscribe(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}
	if r.pubsub != nil {
		return ErrAlreadySubscribed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.consume(pubsub.Channel(), h)

	r.logger.Info().Msg("Subscribed to sync channel")
	return nil
}

// consume runs until the pubsub is closed.
func (r *Redis) consume(messages <-chan *redis.Message, h Handler) {
	defer close(r.done)

	for msg := range messages {
		deliver(r.logger, h, []byte(msg.Payload))
	}
}

// IsConnected pings the server with a short deadline.
func (r *Redis) IsConnected() bool {
	if r.closed.Load() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	return r.client.Ping(ctx).Err() == nil
}

// Close unsubscribes, waits for the delivery goroutine and closes the client.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.pubsub != nil {
		err = multierr.Append(err, r.pubsub.Close())
		<-r.done
	}

	return multierr.Append(err, r.client.Close())
}
