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

const messageCols = `id, from_user, to_user, body, COALESCE(file_url,''), COALESCE(file_type,''), COALESCE(file_name,''), status, seen, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// scanMessage scans one row into m (column order matches messageCols).
func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.From, &m.To, &m.Body, &m.FileURL, &m.FileType, &m.FileName, &m.Status, &m.Seen, &m.CreatedAt)
}

// Append inserts a new message. The caller treats any failure here as a
// persistence error: logged and non-fatal, delivery proceeds regardless.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, from_user, to_user, body, file_url, file_type, file_name, status, seen, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), $8, $9, $10)`,
		m.ID, m.From, m.To, m.Body, m.FileURL, m.FileType, m.FileName, m.Status, m.Seen, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// History returns every message between userA and userB (both directions),
// ascending by creation time, with reactions attached.
func (r *MessageRepository) History(ctx context.Context, userA, userB string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE (from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1)
		 ORDER BY created_at ASC`, userA, userB,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	index := make(map[string]int, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.History scan: %w", err)
		}
		index[m.ID] = len(messages)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History rows: %w", err)
	}
	if len(messages) == 0 {
		return messages, nil
	}

	rrows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.username, mr.emoji, mr.created_at
		 FROM message_reactions mr
		 JOIN messages m ON m.id = mr.message_id
		 WHERE (m.from_user = $1 AND m.to_user = $2) OR (m.from_user = $2 AND m.to_user = $1)
		 ORDER BY mr.created_at ASC`, userA, userB,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History reactions query: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var rc model.Reaction
		if err := rrows.Scan(&rc.MessageID, &rc.Username, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.History reactions scan: %w", err)
		}
		if i, ok := index[rc.MessageID]; ok {
			messages[i].Reactions = append(messages[i].Reactions, rc)
		}
	}
	if err := rrows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History reactions rows: %w", err)
	}
	return messages, nil
}

// MarkRead promotes every unread fromUser->toUser message to read+seen in one
// statement and returns how many rows changed.
func (r *MessageRepository) MarkRead(ctx context.Context, fromUser, toUser string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'read', seen = true
		 WHERE from_user = $1 AND to_user = $2 AND (seen = false OR status != 'read')`,
		fromUser, toUser,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSeen flips the legacy seen flag for fromUser->toUser messages without
// touching status. Used by the history fetch, which implies the reader has
// the messages on screen but sends no read receipt.
func (r *MessageRepository) MarkSeen(ctx context.Context, fromUser, toUser string) error {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET seen = true
		 WHERE from_user = $1 AND to_user = $2 AND seen = false`,
		fromUser, toUser,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	return nil
}

// MarkDelivered promotes a single message sent->delivered. The WHERE clause
// keeps the transition monotonic: already-read rows are never demoted.
func (r *MessageRepository) MarkDelivered(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'delivered' WHERE id = $1 AND status = 'sent'`, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	return nil
}

// UnreadCounts returns, per sending user, how many of their messages the
// reader has not seen.
func (r *MessageRepository) UnreadCounts(ctx context.Context, reader string) (map[string]int, error) {
	defer logger.DeferLogDuration("msg.UnreadCounts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT from_user, COUNT(*) FROM messages
		 WHERE to_user = $1 AND seen = false
		 GROUP BY from_user`, reader,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var from string
		var n int
		if err := rows.Scan(&from, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.UnreadCounts scan: %w", err)
		}
		counts[from] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.UnreadCounts rows: %w", err)
	}
	return counts, nil
}

// ConversationSummaries returns, for every other user, the newest message of
// that conversation (descending recency) plus the viewer's unseen count.
func (r *MessageRepository) ConversationSummaries(ctx context.Context, viewer string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("msg.ConversationSummaries", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.username,
		        COALESCE(lm.id::text,''), COALESCE(lm.from_user,''), COALESCE(lm.to_user,''), lm.body,
		        COALESCE(lm.file_url,''), COALESCE(lm.file_type,''), COALESCE(lm.file_name,''),
		        COALESCE(lm.status,''), COALESCE(lm.seen,false), lm.created_at,
		        (SELECT COUNT(*) FROM messages um
		         WHERE um.from_user = u.username AND um.to_user = $1 AND um.seen = false)
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT * FROM messages m
		     WHERE (m.from_user = $1 AND m.to_user = u.username)
		        OR (m.from_user = u.username AND m.to_user = $1)
		     ORDER BY m.created_at DESC
		     LIMIT 1
		 ) lm ON true
		 WHERE u.username != $1
		 ORDER BY lm.created_at DESC NULLS LAST, u.username`, viewer,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ConversationSummaries query: %w", err)
	}
	defer rows.Close()

	summaries := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var s model.ConversationSummary
		var (
			id, from, to, fileURL, fileType, fileName, status string
			body                                              *string
			seen                                              bool
			createdAt                                         *time.Time
		)
		if err := rows.Scan(&s.Username, &id, &from, &to, &body, &fileURL, &fileType, &fileName, &status, &seen, &createdAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("msgRepo.ConversationSummaries scan: %w", err)
		}
		if id != "" && createdAt != nil {
			s.LastMessage = &model.Message{
				ID: id, From: from, To: to, Body: body,
				FileURL: fileURL, FileType: fileType, FileName: fileName,
				Status: model.MessageStatus(status), Seen: seen, CreatedAt: *createdAt,
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ConversationSummaries rows: %w", err)
	}
	return summaries, nil
}
