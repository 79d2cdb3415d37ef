package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/akchat/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PushSubscription is one browser's webpush endpoint for a user.
type PushSubscription struct {
	Username string `json:"username"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

// Save upserts a subscription; re-subscribing from the same endpoint
// refreshes the keys.
func (r *PushRepository) Save(ctx context.Context, sub PushSubscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (username, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username, endpoint)
		 DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		sub.Username, sub.Endpoint, sub.P256dh, sub.Auth, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	return nil
}

// Delete removes one subscription by endpoint.
func (r *PushRepository) Delete(ctx context.Context, username, endpoint string) error {
	defer logger.DeferLogDuration("push.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE username = $1 AND endpoint = $2`,
		username, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Delete: %w", err)
	}
	return nil
}

// ByUsername returns every subscription registered for a user.
func (r *PushRepository) ByUsername(ctx context.Context, username string) ([]PushSubscription, error) {
	defer logger.DeferLogDuration("push.ByUsername", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT username, endpoint, p256dh, auth FROM push_subscriptions WHERE username = $1`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.ByUsername query: %w", err)
	}
	defer rows.Close()

	subs := make([]PushSubscription, 0, 4)
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.Username, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("pushRepo.ByUsername scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.ByUsername rows: %w", err)
	}
	return subs, nil
}
