package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akchat/internal/model"
)

// EventName is a transport-level event. The names are the wire contract the
// web client was built against and must stay byte-for-byte identical,
// spaces included.
type EventName string

const (
	// Inbound
	EventRegisterUser    EventName = "register user"
	EventPrivateMessage  EventName = "private message"
	EventMarkAsRead      EventName = "mark-as-read"
	EventMessageReaction EventName = "message-reaction"
	EventTyping          EventName = "typing"

	// Outbound only
	EventUserStatus     EventName = "user-status"
	EventUpdateUserlist EventName = "update userlist"
	EventMessagesRead   EventName = "messages-read"
)

// ErrInvalidEvent marks a malformed or incomplete inbound frame. The gateway
// logs and drops these; they never crash a connection.
var ErrInvalidEvent = errors.New("invalid event")

// Frame is the JSON envelope on the wire: {"event": "...", "data": ...}.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outgoing is a server-to-client frame.
type Outgoing struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// --- Inbound commands, one tagged variant per event ---

// SendMessage carries a "private message" command.
type SendMessage struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Message  string `json:"message"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// MarkAsRead carries a "mark-as-read" command. The field names follow the
// wire contract, which is deliberately asymmetric: From is the *other party*
// (whose messages are being read) and To is the reader.
type MarkAsRead struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Reaction carries a "message-reaction" command.
type Reaction struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Reaction  string `json:"reaction"`
	MessageID string `json:"messageId"`
}

// Typing carries a "typing" command.
type Typing struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// decodeRegisterUser parses the "register user" payload, which is a bare
// username string rather than an object.
func decodeRegisterUser(data json.RawMessage) (string, error) {
	var username string
	if err := json.Unmarshal(data, &username); err != nil {
		return "", fmt.Errorf("%w: register user: %v", ErrInvalidEvent, err)
	}
	if username == "" {
		return "", fmt.Errorf("%w: register user: empty username", ErrInvalidEvent)
	}
	return username, nil
}

func decodeSendMessage(data json.RawMessage) (SendMessage, error) {
	var cmd SendMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: private message: %v", ErrInvalidEvent, err)
	}
	if cmd.From == "" || cmd.To == "" {
		return cmd, fmt.Errorf("%w: private message: from and to required", ErrInvalidEvent)
	}
	if cmd.Message == "" && cmd.FileURL == "" {
		return cmd, fmt.Errorf("%w: private message: message or fileUrl required", ErrInvalidEvent)
	}
	return cmd, nil
}

func decodeMarkAsRead(data json.RawMessage) (MarkAsRead, error) {
	var cmd MarkAsRead
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: mark-as-read: %v", ErrInvalidEvent, err)
	}
	if cmd.From == "" || cmd.To == "" {
		return cmd, fmt.Errorf("%w: mark-as-read: from and to required", ErrInvalidEvent)
	}
	return cmd, nil
}

func decodeReaction(data json.RawMessage) (Reaction, error) {
	var cmd Reaction
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: message-reaction: %v", ErrInvalidEvent, err)
	}
	if cmd.From == "" || cmd.Reaction == "" || cmd.MessageID == "" {
		return cmd, fmt.Errorf("%w: message-reaction: from, reaction and messageId required", ErrInvalidEvent)
	}
	return cmd, nil
}

func decodeTyping(data json.RawMessage) (Typing, error) {
	var cmd Typing
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: typing: %v", ErrInvalidEvent, err)
	}
	if cmd.From == "" || cmd.To == "" {
		return cmd, fmt.Errorf("%w: typing: from and to required", ErrInvalidEvent)
	}
	return cmd, nil
}

// --- Outbound payloads ---

// UserStatusPayload is broadcast when a user's presence flips.
type UserStatusPayload struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// MessagesReadPayload tells a sender which user just read their messages.
type MessagesReadPayload struct {
	User string `json:"user"`
}

// ReactionPayload carries the recomputed aggregate after a reaction change.
type ReactionPayload struct {
	MessageID        string           `json:"messageId"`
	Reactions        []model.Reaction `json:"reactions"`
	ReactionsSummary map[string]int   `json:"reactionsSummary"`
}
