package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/model"
	"github.com/akchat/internal/repository"
	"github.com/google/uuid"
)

// MessageStore is the relay's contract with the persistent message log.
type MessageStore interface {
	Append(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	MarkRead(ctx context.Context, fromUser, toUser string) (int64, error)
	MarkDelivered(ctx context.Context, id string) error
}

// ReactionStore persists one active reaction per user per message.
type ReactionStore interface {
	Set(ctx context.Context, messageID, username, emoji string) error
	ByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
}

// UserDirectory is the external account service surface the relay touches.
type UserDirectory interface {
	TouchLastActive(ctx context.Context, username string) error
}

// PushNotifier sends push notifications. nil disables push.
type PushNotifier interface {
	Notify(ctx context.Context, username, title, body string, data map[string]string)
}

const storeTimeout = 5 * time.Second

// Hub routes every inbound event to zero or more outbound events. Presence
// lives in the Registry; everything else the hub reaches through interfaces
// so delivery can proceed (or degrade) independently of storage health.
type Hub struct {
	registry  *Registry
	store     MessageStore
	reactions ReactionStore
	directory UserDirectory
	push      PushNotifier

	// persistStrict drops delivery when an append fails; the default
	// (false) preserves deliver-regardless-of-persistence behavior.
	persistStrict bool
	degraded      atomic.Bool

	maxConns int
	conns    map[*Client]struct{}

	attach   chan *Client
	detached chan *Client
	done     chan struct{}
}

func NewHub(store MessageStore, reactions ReactionStore, directory UserDirectory, push PushNotifier, maxConns int, persistStrict bool) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		registry:      NewRegistry(),
		store:         store,
		reactions:     reactions,
		directory:     directory,
		push:          push,
		persistStrict: persistStrict,
		maxConns:      maxConns,
		conns:         make(map[*Client]struct{}),
		attach:        make(chan *Client, 64),
		detached:      make(chan *Client, 64),
		done:          make(chan struct{}),
	}
}

// Registry exposes the presence registry for read-side consumers (health,
// handlers). Mutation stays inside the hub.
func (h *Hub) Registry() *Registry { return h.registry }

// Degraded reports whether a message append has failed since startup.
func (h *Hub) Degraded() bool { return h.degraded.Load() }

// Run owns connection accounting and shutdown. Registration and delivery run
// on the connections' own goroutines; only attach/detach funnel through here.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.attach:
			if len(h.conns) >= h.maxConns {
				logger.Errorf("ws connection limit reached (%d), rejecting", h.maxConns)
				c.Close()
				continue
			}
			h.conns[c] = struct{}{}
		case c := <-h.detached:
			delete(h.conns, c)
		}
	}
}

func (h *Hub) shutdown() {
	for c := range h.conns {
		c.Close()
	}
	for c := range h.conns {
		c.Wait()
	}
	h.conns = make(map[*Client]struct{})
}

// Attach hands a freshly upgraded connection to the hub.
func (h *Hub) Attach(c *Client) {
	select {
	case h.attach <- c:
	case <-h.done:
		c.Close()
	}
}

// Detach removes a closing connection. The registry entry is cleared
// synchronously, before this returns, so no later fan-out can resolve a
// connection whose transport is already going away.
func (h *Hub) Detach(c *Client) {
	username, wentOffline := h.registry.Unregister(c)
	c.Close()
	if wentOffline {
		h.broadcastAll(Outgoing{Event: EventUserStatus, Data: UserStatusPayload{Username: username, Online: false}})
		h.broadcastAll(Outgoing{Event: EventUpdateUserlist})
		h.touchLastActive(username)
		logger.Infof("ws user offline: %s", username)
	}
	select {
	case h.detached <- c:
	case <-h.done:
	}
}

// HandleEvent dispatches one inbound frame. Malformed payloads are logged
// and dropped; they never take the connection down.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, frame Frame) {
	var err error
	switch frame.Event {
	case EventRegisterUser:
		err = h.handleRegister(ctx, c, frame)
	case EventPrivateMessage:
		err = h.handleSendMessage(ctx, c, frame)
	case EventMarkAsRead:
		err = h.handleMarkAsRead(ctx, c, frame)
	case EventMessageReaction:
		err = h.handleReaction(ctx, c, frame)
	case EventTyping:
		err = h.handleTyping(ctx, c, frame)
	default:
		logger.Debugf("ws unknown event %q user=%s", frame.Event, c.username)
		return
	}
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) || errors.Is(err, repository.ErrNotFound) {
			logger.Debugf("ws dropped event %q user=%s: %v", frame.Event, c.username, err)
			return
		}
		logger.Errorf("ws event %q user=%s: %v", frame.Event, c.username, err)
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client, frame Frame) error {
	username, err := decodeRegisterUser(frame.Data)
	if err != nil {
		return err
	}

	cameOnline, prevOffline := h.registry.Register(c, username)
	c.username = username

	// A connection re-registering under a new name may have been the old
	// name's last one.
	if prevOffline != "" {
		h.broadcastAll(Outgoing{Event: EventUserStatus, Data: UserStatusPayload{Username: prevOffline, Online: false}})
	}
	if cameOnline {
		h.broadcastAll(Outgoing{Event: EventUserStatus, Data: UserStatusPayload{Username: username, Online: true}})
		h.broadcastAll(Outgoing{Event: EventUpdateUserlist})
		logger.Infof("ws user online: %s", username)
	}
	h.touchLastActive(username)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, frame Frame) error {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	cmd, err := decodeSendMessage(frame.Data)
	if err != nil {
		return err
	}

	var body *string
	if cmd.Message != "" {
		body = &cmd.Message
	}
	m := &model.Message{
		ID:        uuid.New().String(),
		From:      cmd.From,
		To:        cmd.To,
		Body:      body,
		FileURL:   cmd.FileURL,
		FileType:  cmd.FileType,
		FileName:  cmd.FileName,
		Status:    model.MessageStatusSent,
		CreatedAt: time.Now().UTC(),
	}

	// Best-effort persistence: a dead store degrades durability, not
	// delivery (unless persist_strict is set).
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err = h.store.Append(storeCtx, m)
	cancel()
	if err != nil {
		h.degraded.Store(true)
		logger.Errorf("ws persist message from=%s to=%s: %v (delivering anyway=%t)", cmd.From, cmd.To, err, !h.persistStrict)
		if h.persistStrict {
			return nil
		}
	}

	targets := h.registry.ConnectionsFor(cmd.To)
	if len(targets) > 0 && m.Status.CanAdvanceTo(model.MessageStatusDelivered) {
		m.Status = model.MessageStatusDelivered
		go h.markDelivered(m.ID)
	}

	out := Outgoing{Event: EventPrivateMessage, Data: m}
	for _, t := range targets {
		h.sendToClient(t, out)
	}

	// Echo unconditionally: every one of the sender's connections converges
	// on the same state, the originating one included even if it never
	// registered.
	echoed := map[*Client]struct{}{}
	for _, sc := range h.registry.ConnectionsFor(cmd.From) {
		echoed[sc] = struct{}{}
		h.sendToClient(sc, out)
	}
	if _, ok := echoed[c]; !ok {
		h.sendToClient(c, out)
	}

	// Cheap refresh hint for both sides' lists; clients coalesce duplicates.
	refresh := Outgoing{Event: EventUpdateUserlist}
	for _, t := range targets {
		h.sendToClient(t, refresh)
	}
	for sc := range echoed {
		h.sendToClient(sc, refresh)
	}

	h.touchLastActive(cmd.From)

	if len(targets) == 0 && h.push != nil {
		go h.notifyOffline(m)
	}
	return nil
}

func (h *Hub) handleMarkAsRead(ctx context.Context, c *Client, frame Frame) error {
	defer logger.DeferLogDuration("ws.handleMarkAsRead", time.Now())()
	cmd, err := decodeMarkAsRead(frame.Data)
	if err != nil {
		return err
	}

	// cmd.From is the other party whose messages cmd.To just read.
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	count, err := h.store.MarkRead(storeCtx, cmd.From, cmd.To)
	cancel()
	if err != nil {
		h.degraded.Store(true)
		return err
	}
	logger.Debugf("ws marked %d messages read %s -> %s", count, cmd.From, cmd.To)

	// Fire-and-forget receipt to the original sender; the reader gets nothing.
	out := Outgoing{Event: EventMessagesRead, Data: MessagesReadPayload{User: cmd.To}}
	for _, t := range h.registry.ConnectionsFor(cmd.From) {
		h.sendToClient(t, out)
	}
	return nil
}

func (h *Hub) handleReaction(ctx context.Context, c *Client, frame Frame) error {
	defer logger.DeferLogDuration("ws.handleReaction", time.Now())()
	cmd, err := decodeReaction(frame.Data)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	m, err := h.store.GetByID(storeCtx, cmd.MessageID)
	if err != nil {
		// Unknown message: silent drop, no event.
		return err
	}
	if err := h.reactions.Set(storeCtx, cmd.MessageID, cmd.From, cmd.Reaction); err != nil {
		h.degraded.Store(true)
		return err
	}
	reactions, err := h.reactions.ByMessage(storeCtx, cmd.MessageID)
	if err != nil {
		h.degraded.Store(true)
		return err
	}

	out := Outgoing{Event: EventMessageReaction, Data: ReactionPayload{
		MessageID:        cmd.MessageID,
		Reactions:        reactions,
		ReactionsSummary: model.SummarizeReactions(reactions),
	}}
	// Both participants of the stored message, each connection once.
	seen := map[*Client]struct{}{}
	for _, username := range []string{m.From, m.To} {
		for _, t := range h.registry.ConnectionsFor(username) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			h.sendToClient(t, out)
		}
	}
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, frame Frame) error {
	cmd, err := decodeTyping(frame.Data)
	if err != nil {
		return err
	}
	// Pure fan-out, no persistence; offline recipient means silent drop.
	out := Outgoing{Event: EventTyping, Data: cmd}
	for _, t := range h.registry.ConnectionsFor(cmd.To) {
		h.sendToClient(t, out)
	}
	return nil
}

// markDelivered promotes the stored row sent->delivered; advisory only.
func (h *Hub) markDelivered(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.MarkDelivered(ctx, messageID); err != nil {
		logger.Errorf("ws mark delivered %s: %v", messageID, err)
	}
}

func (h *Hub) touchLastActive(username string) {
	if h.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.directory.TouchLastActive(ctx, username); err != nil {
		logger.Errorf("ws touch last active user=%s: %v", username, err)
	}
}

// notifyOffline pushes a notification to a recipient with no live connections.
func (h *Hub) notifyOffline(m *model.Message) {
	body := m.Text()
	if body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.push.Notify(ctx, m.To, m.From, body, map[string]string{"messageId": m.ID, "from": m.From})
}

func (h *Hub) broadcastAll(out Outgoing) {
	for _, c := range h.registry.All() {
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendToClient(c *Client, out Outgoing) {
	select {
	case c.send <- out:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client rather
		// than stall everyone else.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.username)
		c.Close()
	}
}
