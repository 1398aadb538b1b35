package local

import (
	"context"
	"sync"
)

// Message is an in-process pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// subscription is one Subscribe call; it may listen on several channels.
type subscription struct {
	ch chan *Message
}

// LocalPubSub fans messages out to in-process subscribers.
type LocalPubSub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	buf    int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer.
func NewPubSub(buf int) *LocalPubSub {
	if buf <= 0 {
		buf = 256
	}
	return &LocalPubSub{
		topics: make(map[string]map[*subscription]struct{}),
		buf:    buf,
	}
}

// Publish delivers message to every subscriber of channel without blocking;
// a full subscriber misses it. The read lock is held while sending so an
// unsubscribe cannot close a channel mid-send.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &Message{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for sub := range ps.topics[channel] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe listens on channels until cancel is called or ctx is done.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	sub := &subscription{ch: make(chan *Message, ps.buf)}

	ps.mu.Lock()
	for _, name := range channels {
		subs, ok := ps.topics[name]
		if !ok {
			subs = make(map[*subscription]struct{})
			ps.topics[name] = subs
		}
		subs[sub] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for _, name := range channels {
				delete(ps.topics[name], sub)
				if len(ps.topics[name]) == 0 {
					delete(ps.topics, name)
				}
			}
			close(sub.ch)
		})
	}

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return sub.ch, cancel, nil
}

// Subscribers returns how many subscriptions listen on channel.
func (ps *LocalPubSub) Subscribers(channel string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[channel])
}
