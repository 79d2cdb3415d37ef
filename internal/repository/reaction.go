package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Set stores a user's reaction on a message. The (message_id, username)
// primary key makes this a replacement: a second emoji from the same user
// overwrites the first instead of accumulating.
func (r *ReactionRepository) Set(ctx context.Context, messageID, username, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, username, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, username)
		 DO UPDATE SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at`,
		messageID, username, emoji, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

// ByMessage returns the active reactions on a message, oldest first.
func (r *ReactionRepository) ByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, username, emoji, created_at
		 FROM message_reactions
		 WHERE message_id = $1
		 ORDER BY created_at ASC`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ByMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.Username, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ByMessage scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ByMessage rows: %w", err)
	}
	return reactions, nil
}
