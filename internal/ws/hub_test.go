package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akchat/internal/model"
	"github.com/akchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	appendErr error
	messages  map[string]*model.Message
	appended  []*model.Message
	delivered []string
	readCalls [][2]string
	readErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*model.Message)}
}

func (f *fakeStore) Append(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *m
	f.messages[m.ID] = &cp
	f.appended = append(f.appended, &cp)
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, fromUser, toUser string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	f.readCalls = append(f.readCalls, [2]string{fromUser, toUser})
	return 1, nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeStore) deliveredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

type fakeReactions struct {
	mu       sync.Mutex
	setCalls int
	byMsg    map[string][]model.Reaction
}

func newFakeReactions() *fakeReactions {
	return &fakeReactions{byMsg: make(map[string][]model.Reaction)}
}

func (f *fakeReactions) Set(ctx context.Context, messageID, username, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	list := f.byMsg[messageID]
	for i, r := range list {
		if r.Username == username {
			list[i].Emoji = emoji
			f.byMsg[messageID] = list
			return nil
		}
	}
	f.byMsg[messageID] = append(list, model.Reaction{
		MessageID: messageID, Username: username, Emoji: emoji, CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeReactions) ByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Reaction(nil), f.byMsg[messageID]...), nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	touched []string
}

func (f *fakeDirectory) TouchLastActive(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, username)
	return nil
}

type pushCall struct {
	username, title, body string
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (f *fakePush) Notify(ctx context.Context, username, title, body string, data map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{username: username, title: title, body: body})
}

func (f *fakePush) callsSnapshot() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.calls...)
}

type hubFixture struct {
	hub       *Hub
	store     *fakeStore
	reactions *fakeReactions
	dir       *fakeDirectory
	push      *fakePush
}

func newHubFixture(persistStrict bool) *hubFixture {
	f := &hubFixture{
		store:     newFakeStore(),
		reactions: newFakeReactions(),
		dir:       &fakeDirectory{},
		push:      &fakePush{},
	}
	f.hub = NewHub(f.store, f.reactions, f.dir, f.push, 100, persistStrict)
	return f
}

func mustFrame(t *testing.T, event EventName, payload any) Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return Frame{Event: event, Data: data}
}

func registerUser(t *testing.T, h *Hub, c *Client, username string) {
	t.Helper()
	h.HandleEvent(context.Background(), c, mustFrame(t, EventRegisterUser, username))
}

// drain empties a client's send buffer and returns everything collected.
func drain(c *Client) []Outgoing {
	var out []Outgoing
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func eventsNamed(msgs []Outgoing, name EventName) []Outgoing {
	var out []Outgoing
	for _, m := range msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func TestRegisterBroadcastsPresence(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()

	registerUser(t, f.hub, alice, "alice")
	drain(alice)

	registerUser(t, f.hub, bob, "bob")

	got := drain(alice)
	statuses := eventsNamed(got, EventUserStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, UserStatusPayload{Username: "bob", Online: true}, statuses[0].Data)
	assert.Len(t, eventsNamed(got, EventUpdateUserlist), 1)
	assert.Equal(t, "bob", bob.username)

	f.dir.mu.Lock()
	defer f.dir.mu.Unlock()
	assert.Contains(t, f.dir.touched, "bob")
}

func TestRegisterSecondDeviceIsSilent(t *testing.T) {
	f := newHubFixture(false)
	c1, c2, watcher := newTestClient(), newTestClient(), newTestClient()

	registerUser(t, f.hub, watcher, "carol")
	registerUser(t, f.hub, c1, "alice")
	drain(watcher)

	registerUser(t, f.hub, c2, "alice")
	assert.Empty(t, eventsNamed(drain(watcher), EventUserStatus),
		"second connection must not rebroadcast presence")
}

func TestSendMessagePersistsAndDelivers(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "hello",
	}))

	bobGot := eventsNamed(drain(bob), EventPrivateMessage)
	require.Len(t, bobGot, 1)
	m, ok := bobGot[0].Data.(*model.Message)
	require.True(t, ok)
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, "bob", m.To)
	assert.Equal(t, "hello", m.Text())
	assert.Equal(t, model.MessageStatusDelivered, m.Status, "recipient online promotes sent->delivered")
	assert.NotEmpty(t, m.ID)

	aliceGot := eventsNamed(drain(alice), EventPrivateMessage)
	require.Len(t, aliceGot, 1, "sender gets exactly one echo")

	f.store.mu.Lock()
	require.Len(t, f.store.appended, 1)
	f.store.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(f.store.deliveredIDs()) == 1
	}, time.Second, 10*time.Millisecond, "delivered promotion reaches the store")
	assert.Equal(t, m.ID, f.store.deliveredIDs()[0])

	assert.Empty(t, f.push.callsSnapshot(), "no push for an online recipient")
	assert.False(t, f.hub.Degraded())
}

func TestSendMessageOfflineRecipientStaysSentAndPushes(t *testing.T) {
	f := newHubFixture(false)
	alice := newTestClient()
	registerUser(t, f.hub, alice, "alice")
	drain(alice)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "you there?",
	}))

	echoes := eventsNamed(drain(alice), EventPrivateMessage)
	require.Len(t, echoes, 1)
	m := echoes[0].Data.(*model.Message)
	assert.Equal(t, model.MessageStatusSent, m.Status, "offline recipient: no delivered promotion")

	require.Eventually(t, func() bool {
		return len(f.push.callsSnapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	call := f.push.callsSnapshot()[0]
	assert.Equal(t, "bob", call.username)
	assert.Equal(t, "alice", call.title)
	assert.Equal(t, "you there?", call.body)
	assert.Empty(t, f.store.deliveredIDs())
}

func TestSendMessageEchoesEverySenderConnection(t *testing.T) {
	f := newHubFixture(false)
	phone, laptop, bob := newTestClient(), newTestClient(), newTestClient()
	registerUser(t, f.hub, phone, "alice")
	registerUser(t, f.hub, laptop, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(phone)
	drain(laptop)
	drain(bob)

	f.hub.HandleEvent(context.Background(), phone, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "from my phone",
	}))

	assert.Len(t, eventsNamed(drain(phone), EventPrivateMessage), 1)
	assert.Len(t, eventsNamed(drain(laptop), EventPrivateMessage), 1,
		"every sender device converges on the same state")
	assert.Len(t, eventsNamed(drain(bob), EventPrivateMessage), 1)
}

func TestSendMessageEchoesUnregisteredOrigin(t *testing.T) {
	f := newHubFixture(false)
	anon, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, bob, "bob")
	drain(bob)

	// Origin never sent "register user" but still claims from=alice.
	f.hub.HandleEvent(context.Background(), anon, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "hi",
	}))

	assert.Len(t, eventsNamed(drain(anon), EventPrivateMessage), 1,
		"originating connection gets the echo even without registration")
	assert.Len(t, eventsNamed(drain(bob), EventPrivateMessage), 1)
}

func TestSendMessagePersistFailureStillDelivers(t *testing.T) {
	f := newHubFixture(false)
	f.store.appendErr = errors.New("store down")
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "still coming through",
	}))

	assert.Len(t, eventsNamed(drain(bob), EventPrivateMessage), 1,
		"delivery survives a dead store")
	assert.True(t, f.hub.Degraded())
}

func TestSendMessagePersistStrictDropsOnFailure(t *testing.T) {
	f := newHubFixture(true)
	f.store.appendErr = errors.New("store down")
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "dropped",
	}))

	assert.Empty(t, drain(bob))
	assert.Empty(t, drain(alice))
	assert.True(t, f.hub.Degraded())
}

func TestMarkAsReadNotifiesOriginalSenderOnly(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	// bob reads alice's messages: from=alice (other party), to=bob (reader).
	f.hub.HandleEvent(context.Background(), bob, mustFrame(t, EventMarkAsRead, MarkAsRead{
		From: "alice", To: "bob",
	}))

	aliceGot := eventsNamed(drain(alice), EventMessagesRead)
	require.Len(t, aliceGot, 1)
	assert.Equal(t, MessagesReadPayload{User: "bob"}, aliceGot[0].Data)
	assert.Empty(t, drain(bob), "reader gets no receipt")

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.readCalls, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, f.store.readCalls[0])
}

func TestReactionReplacementAndFanout(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	body := "react to this"
	f.store.messages["m1"] = &model.Message{ID: "m1", From: "alice", To: "bob", Body: &body}

	react := func(emoji string) {
		f.hub.HandleEvent(context.Background(), bob, mustFrame(t, EventMessageReaction, Reaction{
			From: "bob", To: "alice", Reaction: emoji, MessageID: "m1",
		}))
	}
	react("👍")
	react("❤️")

	aliceGot := eventsNamed(drain(alice), EventMessageReaction)
	bobGot := eventsNamed(drain(bob), EventMessageReaction)
	require.Len(t, aliceGot, 2, "both participants see every update")
	require.Len(t, bobGot, 2)

	final := aliceGot[1].Data.(ReactionPayload)
	assert.Equal(t, "m1", final.MessageID)
	require.Len(t, final.Reactions, 1, "new emoji replaces the old, no accumulation")
	assert.Equal(t, "❤️", final.Reactions[0].Emoji)
	assert.Equal(t, map[string]int{"❤️": 1}, final.ReactionsSummary)
}

func TestReactionUnknownMessageSilentDrop(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	f.hub.HandleEvent(context.Background(), bob, mustFrame(t, EventMessageReaction, Reaction{
		From: "bob", To: "alice", Reaction: "👍", MessageID: "nope",
	}))

	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
	f.reactions.mu.Lock()
	defer f.reactions.mu.Unlock()
	assert.Zero(t, f.reactions.setCalls, "nothing stored for an unknown message")
}

func TestTypingFanOutToRecipientOnly(t *testing.T) {
	f := newHubFixture(false)
	alice, bob, carol := newTestClient(), newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	registerUser(t, f.hub, carol, "carol")
	drain(alice)
	drain(bob)
	drain(carol)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventTyping, Typing{
		From: "alice", To: "bob", Typing: true,
	}))

	bobGot := eventsNamed(drain(bob), EventTyping)
	require.Len(t, bobGot, 1)
	cmd := bobGot[0].Data.(Typing)
	assert.True(t, cmd.Typing)
	assert.Equal(t, "alice", cmd.From)
	assert.Empty(t, drain(alice), "no typing echo to the sender")
	assert.Empty(t, drain(carol))
}

func TestTypingOfflineRecipientSilentDrop(t *testing.T) {
	f := newHubFixture(false)
	alice := newTestClient()
	registerUser(t, f.hub, alice, "alice")
	drain(alice)

	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventTyping, Typing{
		From: "alice", To: "ghost", Typing: true,
	}))
	assert.Empty(t, drain(alice))
}

func TestDetachLastConnectionBroadcastsOffline(t *testing.T) {
	f := newHubFixture(false)
	phone, laptop, bob := newTestClient(), newTestClient(), newTestClient()
	registerUser(t, f.hub, phone, "alice")
	registerUser(t, f.hub, laptop, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(bob)

	f.hub.Detach(phone)
	assert.Empty(t, eventsNamed(drain(bob), EventUserStatus),
		"alice still online through the laptop")
	assert.True(t, f.hub.Registry().IsOnline("alice"))

	f.hub.Detach(laptop)
	statuses := eventsNamed(drain(bob), EventUserStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, UserStatusPayload{Username: "alice", Online: false}, statuses[0].Data)
	assert.False(t, f.hub.Registry().IsOnline("alice"))
}

func TestDetachRemovesFromDeliveryBeforeReturning(t *testing.T) {
	f := newHubFixture(false)
	alice, bob := newTestClient(), newTestClient()
	registerUser(t, f.hub, alice, "alice")
	registerUser(t, f.hub, bob, "bob")
	drain(alice)
	drain(bob)

	f.hub.Detach(bob)

	// A send resolved after Detach returns must not see bob's connection.
	f.hub.HandleEvent(context.Background(), alice, mustFrame(t, EventPrivateMessage, SendMessage{
		From: "alice", To: "bob", Message: "too late",
	}))
	assert.Empty(t, eventsNamed(drain(bob), EventPrivateMessage))
	echo := eventsNamed(drain(alice), EventPrivateMessage)
	require.Len(t, echo, 1)
	assert.Equal(t, model.MessageStatusSent, echo[0].Data.(*model.Message).Status)
}

func TestHandleEventMalformedPayloadDropped(t *testing.T) {
	f := newHubFixture(false)
	alice := newTestClient()
	registerUser(t, f.hub, alice, "alice")
	drain(alice)

	f.hub.HandleEvent(context.Background(), alice, Frame{
		Event: EventPrivateMessage, Data: json.RawMessage(`{"from":"alice"}`),
	})
	f.hub.HandleEvent(context.Background(), alice, Frame{
		Event: "no-such-event", Data: json.RawMessage(`{}`),
	})

	assert.Empty(t, drain(alice))
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.appended)
}
