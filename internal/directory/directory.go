// Package directory is the relay's view of the external user account
// service: lookups and last-active bookkeeping, nothing else. Persistent
// rows live in Postgres; the hot last-active read path goes through the
// cache first.
package directory

import (
	"context"
	"time"

	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/model"
	"github.com/akchat/internal/repository"
	"github.com/akchat/internal/storage"
)

type Directory struct {
	users *repository.UserRepository
	cache storage.LastActiveStore
}

func New(users *repository.UserRepository, cache storage.LastActiveStore) *Directory {
	return &Directory{users: users, cache: cache}
}

// Find returns the user row, or repository.ErrNotFound.
func (d *Directory) Find(ctx context.Context, username string) (*model.User, error) {
	return d.users.GetByUsername(ctx, username)
}

// List returns up to limit directory entries ordered by username.
func (d *Directory) List(ctx context.Context, limit int) ([]model.User, error) {
	return d.users.ListAll(ctx, limit)
}

// TouchLastActive records activity in both the persistent row and the cache.
// Cache failure is logged and ignored: the row is the source of truth.
func (d *Directory) TouchLastActive(ctx context.Context, username string) error {
	now := time.Now().UTC()
	if err := d.cache.SetLastActive(ctx, username, now); err != nil {
		logger.Errorf("directory: cache last_active user=%s: %v", username, err)
	}
	return d.users.TouchLastActive(ctx, username, now)
}

// LastActive resolves a user's last activity, cache first, row second.
func (d *Directory) LastActive(ctx context.Context, username string) (time.Time, error) {
	if t, err := d.cache.LastActive(ctx, username); err == nil && !t.IsZero() {
		return t, nil
	} else if err != nil {
		logger.Errorf("directory: cache read user=%s: %v", username, err)
	}
	u, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		return time.Time{}, err
	}
	return u.LastActive, nil
}
