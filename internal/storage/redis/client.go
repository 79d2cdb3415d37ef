package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lastActiveTTL bounds cache staleness; after expiry readers fall back to
// the Postgres row, which every touch also updates.
const lastActiveTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetLastActive stores the timestamp under last_active:{username} as RFC3339.
func (c *Client) SetLastActive(ctx context.Context, username string, t time.Time) error {
	return c.cli.Set(ctx, "last_active:"+username, t.UTC().Format(time.RFC3339Nano), lastActiveTTL).Err()
}

// LastActive returns the cached timestamp, or the zero time on a miss.
func (c *Client) LastActive(ctx context.Context, username string) (time.Time, error) {
	val, err := c.cli.Get(ctx, "last_active:"+username).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis last_active parse: %w", err)
	}
	return t, nil
}
