package stores

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/docgate/logger"
)

// RedisFeed publishes changes on Redis pub/sub so watchers in other
// processes see writes (channel: {prefix}:changes:{collection}).
type RedisFeed struct {
	client *redis.Client
	keyFmt string
	logger logger.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, l logger.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "docgate"
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &RedisFeed{client: client, keyFmt: prefix + ":changes:%s", logger: l}
}

func (f *RedisFeed) channel(collection string) string {
	return fmt.Sprintf(f.keyFmt, collection)
}

func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(c.Collection), b).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, collection string) (<-chan Change, error) {
	ps := f.client.Subscribe(ctx, f.channel(collection))
	// wait for the subscription to be confirmed so no later write is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	out := make(chan Change, feedBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					f.logger.Warn("dropping malformed change", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the client belongs to the caller.
func (f *RedisFeed) Close() error { return nil }
