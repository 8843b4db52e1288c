// Package notify carries the six ledger change kinds between processes over
// redis pub/sub. The payload is intentionally thin — kind plus record id —
// because receivers invalidate by re-listing, never by patching.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-ledger/internal/models"
)

// Event is one published change.
type Event struct {
	Kind     models.Action `json:"kind"`
	RecordID int64         `json:"record_id"`
}

// Publisher announces changes on a redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(addr, password, channel string) *Publisher {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Publisher{client: c, channel: channel}
}

func (p *Publisher) Announce(ctx context.Context, action models.Action, recordID int64) error {
	b, err := json.Marshal(Event{Kind: action, RecordID: recordID})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.client.Close() }

// Subscriber feeds the remote adapter's invalidation loop.
type Subscriber struct {
	client  *redis.Client
	channel string
}

func NewSubscriber(addr, password, channel string) *Subscriber {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Subscriber{client: c, channel: channel}
}

// Listen subscribes and yields change kinds until ctx is done or the
// connection drops; the channel closes either way so the caller can
// reconnect. Malformed payloads are skipped: the next poll re-lists anyway.
func (s *Subscriber) Listen(ctx context.Context) (<-chan models.Action, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	out := make(chan models.Action)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev.Kind:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Subscriber) Close() error { return s.client.Close() }
