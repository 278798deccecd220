// Package cluster fans registry reloads out to other litemacro nodes over
// Redis pub/sub.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ourisland/litemacro/internal/logging"
	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel reload notices travel on.
const DefaultChannel = "litemacro:reload"

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("cluster bus is closed")

// Notice is the payload published after a successful reload.
type Notice struct {
	Origin     string `json:"origin"`
	Generation uint64 `json:"generation"`
}

// Handler is called for every notice published by another node.
type Handler func(ctx context.Context, notice Notice)

// Bus publishes and receives reload notices.
type Bus struct {
	client  *backend.Client
	channel string
	origin  string
	owned   bool
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	subs   []*backend.PubSub
}

type Option func(*Bus)

// WithChannel overrides DefaultChannel.
func WithChannel(channel string) Option {
	return func(b *Bus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithOrigin sets the node identity. A random one is used otherwise.
func WithOrigin(origin string) Option {
	return func(b *Bus) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// New dials Redis and returns a bus that owns the client.
func New(address, password string, db int, opts ...Option) *Bus {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	bus := NewFromClient(rdb, opts...)
	bus.owned = true
	return bus
}

// NewFromClient creates a bus on an existing client. Close leaves the
// client open.
func NewFromClient(client *backend.Client, opts ...Option) *Bus {
	bus := &Bus{
		client:  client,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  logging.Component("cluster"),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Origin is this node's identity on the bus.
func (b *Bus) Origin() string { return b.origin }

// Channel is the pub/sub channel in use.
func (b *Bus) Channel() string { return b.channel }

// Ping checks the Redis connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish announces a new registry generation.
func (b *Bus) Publish(ctx context.Context, generation uint64) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	data, err := json.Marshal(Notice{Origin: b.origin, Generation: generation})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish reload notice: %w", err)
	}
	b.logger.Debug().Uint64("generation", generation).Str("channel", b.channel).Msg("published reload notice")
	return nil
}

// Subscribe delivers notices from other nodes to handler until ctx is
// canceled or the bus is closed. The subscription is confirmed before
// Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	sub := b.client.Subscribe(ctx, b.channel)
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go b.deliver(ctx, sub, handler)
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub *backend.PubSub, handler Handler) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var notice Notice
			if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
				b.logger.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed reload notice")
				continue
			}
			if notice.Origin == b.origin {
				continue
			}
			b.logger.Info().
				Str("origin", notice.Origin).
				Uint64("generation", notice.Generation).
				Msg("reload notice received")
			handler(ctx, notice)
		}
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close ends every subscription, and the client if the bus created it.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.owned {
		if err := b.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
