// Package cache holds the key-value store behind sessions and clock leases,
// and the pub/sub bus that carries mailbox and game notifications. Redis
// backs both when an address is configured; otherwise they live in process.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kasuganosora/escaperoom/server/cache/local"
	cacheredis "github.com/kasuganosora/escaperoom/server/cache/redis"
	"github.com/kasuganosora/escaperoom/server/config"
)

// Cache defines the KV operations used for sessions and short leases.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations. Subscriptions end
// when the returned cancel func is called or ctx is done. Delivery is
// best-effort: a slow subscriber loses messages rather than blocking.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// IsNotFound reports whether err is a missing-key error from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// Backend is an opened Cache and PubSub pair.
type Backend struct {
	KV  Cache
	Bus PubSub

	close func() error
}

// Close releases the backend's connections and goroutines.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to Redis when cfg.RedisAddr is set, sharing one client for
// KV and pub/sub. Without an address it returns the in-process backend.
func Open(cfg config.CacheConfig) (*Backend, error) {
	buf := cfg.LocalPubSubBuf
	if buf <= 0 {
		buf = 256
	}
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := cacheredis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		bus := cacheredis.NewBus(client)
		return &Backend{
			KV: cacheredis.NewKV(client),
			Bus: &bridge[*cacheredis.Message]{
				publish:   bus.Publish,
				subscribe: bus.Subscribe,
				convert:   func(m *cacheredis.Message) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
				buf:       buf,
			},
			close: client.Close,
		}, nil
	}

	kv := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
	bus := local.NewPubSub(buf)
	return &Backend{
		KV: kv,
		Bus: &bridge[*local.Message]{
			publish:   bus.Publish,
			subscribe: bus.Subscribe,
			convert:   func(m *local.Message) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
			buf:       buf,
		},
		close: func() error { kv.Close(); return nil },
	}, nil
}

// AcquireLease claims slot of the named task for ttl and reports whether
// this caller got it. Replicas sharing a Redis backend use it to run a
// periodic task once per slot.
func AcquireLease(ctx context.Context, c Cache, name string, slot int64, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, "lease:"+name+":"+strconv.FormatInt(slot, 10), "1", ttl)
}

// bridge adapts a backend bus with its own message type to PubSub.
type bridge[T any] struct {
	publish   func(ctx context.Context, channel, message string) error
	subscribe func(ctx context.Context, channels ...string) (<-chan T, func(), error)
	convert   func(T) *Message
	buf       int
}

func (b *bridge[T]) Publish(ctx context.Context, channel, message string) error {
	return b.publish(ctx, channel, message)
}

func (b *bridge[T]) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := b.subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, b.buf)
	go func() {
		defer close(out)
		for msg := range in {
			select {
			case out <- b.convert(msg):
			default:
			}
		}
	}()
	return out, cancel, nil
}
