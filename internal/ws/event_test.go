package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEnvelopeRoundtrip(t *testing.T) {
	raw := `{"event":"private message","data":{"from":"alice","to":"bob","message":"hi"}}`
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))
	assert.Equal(t, EventPrivateMessage, frame.Event)

	cmd, err := decodeSendMessage(frame.Data)
	require.NoError(t, err)
	assert.Equal(t, SendMessage{From: "alice", To: "bob", Message: "hi"}, cmd)
}

func TestDecodeRegisterUserBareString(t *testing.T) {
	username, err := decodeRegisterUser(json.RawMessage(`"alice"`))
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = decodeRegisterUser(json.RawMessage(`""`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	// An object is not a valid registration payload.
	_, err = decodeRegisterUser(json.RawMessage(`{"username":"alice"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDecodeSendMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"text message", `{"from":"a","to":"b","message":"hi"}`, true},
		{"attachment only", `{"from":"a","to":"b","fileUrl":"/api/files/x.png","fileType":"image/png","fileName":"x.png"}`, true},
		{"missing from", `{"to":"b","message":"hi"}`, false},
		{"missing to", `{"from":"a","message":"hi"}`, false},
		{"no body and no file", `{"from":"a","to":"b"}`, false},
		{"not json", `42`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeSendMessage(json.RawMessage(tc.raw))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			}
		})
	}
}

func TestDecodeMarkAsReadValidation(t *testing.T) {
	cmd, err := decodeMarkAsRead(json.RawMessage(`{"from":"alice","to":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, MarkAsRead{From: "alice", To: "bob"}, cmd)

	_, err = decodeMarkAsRead(json.RawMessage(`{"from":"alice"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDecodeReactionValidation(t *testing.T) {
	cmd, err := decodeReaction(json.RawMessage(`{"from":"bob","to":"alice","reaction":"👍","messageId":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", cmd.MessageID)
	assert.Equal(t, "👍", cmd.Reaction)

	_, err = decodeReaction(json.RawMessage(`{"from":"bob","reaction":"👍"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDecodeTypingValidation(t *testing.T) {
	cmd, err := decodeTyping(json.RawMessage(`{"from":"a","to":"b","typing":true}`))
	require.NoError(t, err)
	assert.True(t, cmd.Typing)

	_, err = decodeTyping(json.RawMessage(`{"typing":true}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEventNamesAreWireContract(t *testing.T) {
	// These strings are what deployed clients send and match on; a rename
	// here is a breaking change, spaces and hyphens included.
	assert.Equal(t, EventName("register user"), EventRegisterUser)
	assert.Equal(t, EventName("private message"), EventPrivateMessage)
	assert.Equal(t, EventName("mark-as-read"), EventMarkAsRead)
	assert.Equal(t, EventName("message-reaction"), EventMessageReaction)
	assert.Equal(t, EventName("typing"), EventTyping)
	assert.Equal(t, EventName("user-status"), EventUserStatus)
	assert.Equal(t, EventName("update userlist"), EventUpdateUserlist)
	assert.Equal(t, EventName("messages-read"), EventMessagesRead)
}
