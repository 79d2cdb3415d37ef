package model

import "time"

// User is a directory entry. The relay keys everything on Username; profile
// ownership lives with the external account service.
type User struct {
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	LastActive time.Time `json:"lastActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationSummary is one row of the user list: the peer, the newest
// message exchanged with them (if any) and how many of their messages the
// viewer has not seen yet.
type ConversationSummary struct {
	Username    string   `json:"username"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}
