package memory

import (
	"context"
	"sync"
	"time"
)

// Client is the in-process LastActiveStore used by -dev mode, where no
// Redis is available.
type Client struct {
	mu         sync.RWMutex
	lastActive map[string]time.Time
}

func New() *Client {
	return &Client{lastActive: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetLastActive(ctx context.Context, username string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive[username] = t.UTC()
	return nil
}

func (c *Client) LastActive(ctx context.Context, username string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive[username], nil
}
