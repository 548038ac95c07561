// Package memory is an in-process pub/sub with the same contract as the
// Redis one, used when no Redis address is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by a closed PubSub.
var ErrClosed = errors.New("memory: pubsub closed") //nolint:gochecknoglobals // sentinel error

const subscriberBuffer = 256

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type PubSub struct {
	mu       sync.Mutex
	closed   bool
	nextID   uint64
	channels map[string]map[uint64]*subscriber
}

func New() *PubSub {
	return &PubSub{channels: make(map[string]map[uint64]*subscriber)}
}

// Publish hands payload to every current subscriber of channel. A
// subscriber whose buffer is full misses the payload.
func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return fmt.Errorf("memory.PubSub.Publish(%s): %w", channel, ErrClosed)
	}

	for id, sub := range ps.channels[channel] {
		select {
		case sub.ch <- payload:
		default:
			log.Warn().Str("channel", channel).Uint64("subscriber", id).Msg("memory.PubSub: subscriber full, payload dropped")
		}
	}
	return nil
}

// Subscribe returns the payloads published on channel from now on. The
// channel closes when ctx ends, cleanup is called or the PubSub closes.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, nil, fmt.Errorf("memory.PubSub.Subscribe(%s): %w", channel, ErrClosed)
	}

	id := ps.nextID
	ps.nextID++
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	if ps.channels[channel] == nil {
		ps.channels[channel] = make(map[uint64]*subscriber)
	}
	ps.channels[channel][id] = sub
	ps.mu.Unlock()

	stop := make(chan struct{})
	var stopOnce sync.Once
	cleanup := func() {
		stopOnce.Do(func() {
			close(stop)
			ps.remove(channel, id)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-stop:
		}
	}()

	return sub.ch, cleanup, nil
}

func (ps *PubSub) remove(channel string, id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.channels[channel]
	if sub, ok := subs[id]; ok {
		sub.close()
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(ps.channels, channel)
	}
}

// Close ends every subscription.
func (ps *PubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, subs := range ps.channels {
		for _, sub := range subs {
			sub.close()
		}
	}
	ps.channels = nil
	return nil
}
