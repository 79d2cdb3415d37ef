package model

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// rank orders the per-message lifecycle: sent -> delivered -> read.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the three known statuses.
func (s MessageStatus) Valid() bool { return s.rank() >= 0 }

// CanAdvanceTo reports whether next is a monotonic promotion of s.
// A status never moves backwards; read is terminal.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Message is one persisted chat message between two users. The (From, To)
// pair never changes after creation. Body is nil for attachment-only
// messages. Seen mirrors Status for older clients: read implies seen,
// but a history fetch may set seen without promoting status.
type Message struct {
	ID        string        `json:"messageId"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Body      *string       `json:"message"`
	FileURL   string        `json:"fileUrl,omitempty"`
	FileType  string        `json:"fileType,omitempty"`
	FileName  string        `json:"fileName,omitempty"`
	Status    MessageStatus `json:"status"`
	Seen      bool          `json:"seen"`
	CreatedAt time.Time     `json:"timestamp"`
	Reactions []Reaction    `json:"reactions,omitempty"`
}

// Text returns the body or "" for attachment-only messages.
func (m *Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// Reaction is one user's active reaction on a message. A user holds at most
// one reaction per message; a new emoji from the same user replaces the old.
type Reaction struct {
	MessageID string    `json:"messageId"`
	Username  string    `json:"user"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"timestamp"`
}

// SummarizeReactions folds an ordered reaction list into per-emoji counts.
// Recomputing from the full list keeps the aggregate idempotent under
// concurrent reaction updates.
func SummarizeReactions(reactions []Reaction) map[string]int {
	summary := make(map[string]int, len(reactions))
	for _, r := range reactions {
		summary[r.Emoji]++
	}
	return summary
}
