package storage

import (
	"context"
	"time"
)

// LastActiveStore caches "when was this user last active" so the userlist
// polling path does not hammer Postgres on every refresh.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
// A zero time from LastActive means "not cached"; callers fall back to the
// directory's persistent row.
type LastActiveStore interface {
	SetLastActive(ctx context.Context, username string, t time.Time) error
	LastActive(ctx context.Context, username string) (time.Time, error)
	Close() error
}
