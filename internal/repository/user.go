package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

const userCols = `username, COALESCE(email,''), last_active, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.Username, &u.Email, &u.LastActive, &u.CreatedAt)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsername", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByUsername: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListAll(ctx context.Context, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users ORDER BY username LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListAll: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListAll scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListAll rows: %w", err)
	}
	return users, nil
}

// TouchLastActive bumps the user's last_active timestamp, creating the row
// on first contact. The relay learns its user set from activity (register,
// send); there is no separate signup path.
func (r *UserRepository) TouchLastActive(ctx context.Context, username string, t time.Time) error {
	defer logger.DeferLogDuration("user.TouchLastActive", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, last_active) VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET last_active = EXCLUDED.last_active`,
		username, t,
	)
	if err != nil {
		return fmt.Errorf("userRepo.TouchLastActive: %w", err)
	}
	return nil
}
