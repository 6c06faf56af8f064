package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// defaultStreamMaxLen caps the event stream via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// Channel and stream names, relative to the client prefix.
const (
	ChannelEvents = "events"
	ChannelStates = "states"
	StreamEvents  = "events"
)

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a capped Redis Stream for replay. It also publishes bot states and
// events for dashboards.
type EventBus struct {
	c        *Client
	maxLen   int64
	stateTTL time.Duration
}

// NewEventBus creates an EventBus. stateTTL bounds how long a bot's last
// state survives without updates; zero keeps it forever.
func NewEventBus(c *Client, maxLen int64, stateTTL time.Duration) *EventBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &EventBus{c: c, maxLen: maxLen, stateTTL: stateTTL}
}

// Publish sends payload to a Pub/Sub channel under the prefix.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, b.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. Glob
// patterns use PSUBSCRIBE. The returned channel closes when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := b.c.Key(channel)
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = b.c.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = b.c.rdb.Subscribe(ctx, name)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
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

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend adds payload to a capped stream.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: b.c.Key(stream),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := b.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" from the start).
// No entries is not an error.
func (b *EventBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := b.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.c.Key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return out, nil
}

// PublishEvent appends e to the event stream and fans it out on the
// events channel.
func (b *EventBus) PublishEvent(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	if err := b.StreamAppend(ctx, StreamEvents, payload); err != nil {
		return err
	}
	return b.Publish(ctx, ChannelEvents, payload)
}

// PublishState stores st as the bot's latest state and announces it on the
// states channel.
func (b *EventBus) PublishState(ctx context.Context, st domain.BotState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: encode state: %w", err)
	}
	if err := b.c.rdb.Set(ctx, b.c.Key("state", st.BotID), payload, b.stateTTL).Err(); err != nil {
		return fmt.Errorf("redis: set state %s: %w", st.BotID, err)
	}
	return b.Publish(ctx, ChannelStates, payload)
}

// States returns the latest state of every bot still held in Redis.
func (b *EventBus) States(ctx context.Context) ([]domain.BotState, error) {
	var (
		out    []domain.BotState
		cursor uint64
	)
	match := b.c.Key("state", "*")
	for {
		keys, next, err := b.c.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan states: %w", err)
		}
		if len(keys) > 0 {
			vals, err := b.c.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("redis: get states: %w", err)
			}
			for _, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				var st domain.BotState
				if json.Unmarshal([]byte(s), &st) == nil {
					out = append(out, st)
				}
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

var _ domain.EventBus = (*EventBus)(nil)
