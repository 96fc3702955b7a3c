// Package stream broadcasts in-flight execution output over Redis
// pub/sub so GetProgress can watch a running execution without polling
// the store.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "cronpilot:exec:"

// Event is one increment of live execution output.
type Event struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Kind        string    `json:"kind"` // "output" | "thinking" | "status"
	Chunk       string    `json:"chunk,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// Broadcaster publishes and subscribes to per-execution progress events.
type Broadcaster struct {
	client *redis.Client
}

// New connects a Redis client to addr and returns an error when the
// server does not answer a ping. A nil *Broadcaster is a valid no-op
// receiver (Publish, Subscribe and Close do nothing), so a caller whose
// New failed can run on without live-progress streaming.
func New(addr string) (*Broadcaster, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("stream: connect redis: %w", err)
	}
	return &Broadcaster{client: client}, nil
}

func (b *Broadcaster) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func channel(execID uuid.UUID) string {
	return channelPrefix + execID.String()
}

// Publish fans out one progress event to the execution's channel.
// Errors are logged by the caller, not returned as fatal: a dropped
// live-progress frame never fails the underlying execution.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) error {
	if b == nil || b.client == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}
	return b.client.Publish(ctx, channel(ev.ExecutionID), payload).Err()
}

// Subscribe returns a channel of decoded events for one execution. The
// caller must cancel ctx (or call the returned closer) to stop the
// underlying subscription goroutine.
func (b *Broadcaster) Subscribe(ctx context.Context, execID uuid.UUID) (<-chan Event, func(), error) {
	if b == nil || b.client == nil {
		closed := make(chan Event)
		close(closed)
		return closed, func() {}, nil
	}

	sub := b.client.Subscribe(ctx, channel(execID))
	raw := sub.Channel()
	out := make(chan Event)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
