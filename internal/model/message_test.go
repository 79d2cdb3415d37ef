package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatusMonotonic(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		ok       bool
	}{
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusRead, MessageStatusSent, false},
		{MessageStatusSent, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusRead, false},
		{MessageStatus("bogus"), MessageStatusRead, false},
		{MessageStatusSent, MessageStatus("bogus"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanAdvanceTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMessageStatusValid(t *testing.T) {
	assert.True(t, MessageStatusSent.Valid())
	assert.True(t, MessageStatusDelivered.Valid())
	assert.True(t, MessageStatusRead.Valid())
	assert.False(t, MessageStatus("").Valid())
	assert.False(t, MessageStatus("seen").Valid())
}

func TestMessageText(t *testing.T) {
	body := "hello"
	assert.Equal(t, "hello", (&Message{Body: &body}).Text())
	assert.Empty(t, (&Message{FileURL: "/api/files/a.png"}).Text())
}

func TestMessageJSONKeys(t *testing.T) {
	body := "hi"
	m := Message{
		ID:        "m1",
		From:      "alice",
		To:        "bob",
		Body:      &body,
		Status:    MessageStatusSent,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	// The client matches on these exact keys.
	assert.Equal(t, "m1", got["messageId"])
	assert.Equal(t, "hi", got["message"])
	assert.Contains(t, got, "timestamp")
	assert.NotContains(t, got, "fileUrl", "empty attachment fields stay omitted")
}

func TestSummarizeReactions(t *testing.T) {
	reactions := []Reaction{
		{MessageID: "m1", Username: "alice", Emoji: "👍"},
		{MessageID: "m1", Username: "bob", Emoji: "👍"},
		{MessageID: "m1", Username: "carol", Emoji: "❤️"},
	}
	assert.Equal(t, map[string]int{"👍": 2, "❤️": 1}, SummarizeReactions(reactions))
	assert.Empty(t, SummarizeReactions(nil))
}
