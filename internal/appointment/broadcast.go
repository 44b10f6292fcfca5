package appointment

import (
	"context"
	"sync"
)

// LocalBroadcaster is the in-process change feed used when Redis is not
// configured. Slow subscribers drop messages instead of blocking publishers.
type LocalBroadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *LocalBroadcaster) Publish(ctx context.Context, channels []string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range channels {
		for ch := range b.subs[name] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

func (b *LocalBroadcaster) Subscribe(ctx context.Context, channels []string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	for _, name := range channels {
		if b.subs[name] == nil {
			b.subs[name] = make(map[chan []byte]struct{})
		}
		b.subs[name][ch] = struct{}{}
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, name := range channels {
			delete(b.subs[name], ch)
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
