package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes change events on Redis pub/sub and lets the HTTP layer
// stream them back out.
type Notifier struct {
	client *redis.Client
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Publish(ctx context.Context, channels []string, payload []byte) error {
	pipe := n.client.Pipeline()
	for _, ch := range channels {
		pipe.Publish(ctx, ch, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe delivers payloads published on channels until ctx is done. The
// returned channel is closed when the subscription ends.
func (n *Notifier) Subscribe(ctx context.Context, channels []string) (<-chan []byte, error) {
	sub := n.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
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
	return out, nil
}
