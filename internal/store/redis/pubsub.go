// Package redis publishes session envelopes over Redis pub/sub so that
// watchers in other processes can follow a build.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// subscriberBuffer is the number of payloads held for a slow subscriber.
const subscriberBuffer = 256

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish(%s): %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel from the moment the
// subscription is confirmed. The channel closes when ctx ends or cleanup
// is called.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe(%s): receive confirmation: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	redisCh := sub.Channel(redis.WithChannelSize(subscriberBuffer))

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}
