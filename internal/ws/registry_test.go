package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{send: make(chan Outgoing, 64), done: make(chan struct{})}
}

func TestRegistryFirstConnectionCameOnline(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()

	cameOnline, prevOffline := r.Register(c, "alice")
	assert.True(t, cameOnline)
	assert.Empty(t, prevOffline)
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, 1, r.OnlineCount())
	assert.Equal(t, 1, r.ConnCount())
}

func TestRegistrySecondConnectionNoPresenceFlip(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newTestClient(), newTestClient()

	r.Register(c1, "alice")
	cameOnline, prevOffline := r.Register(c2, "alice")
	assert.False(t, cameOnline)
	assert.Empty(t, prevOffline)
	assert.Len(t, r.ConnectionsFor("alice"), 2)
	assert.Equal(t, 1, r.OnlineCount())
	assert.Equal(t, 2, r.ConnCount())
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()

	r.Register(c, "alice")
	cameOnline, prevOffline := r.Register(c, "alice")
	assert.False(t, cameOnline)
	assert.Empty(t, prevOffline)
	assert.Len(t, r.ConnectionsFor("alice"), 1)
	assert.Equal(t, 1, r.ConnCount())
}

func TestRegistryMoveBetweenNames(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()

	r.Register(c, "alice")
	cameOnline, prevOffline := r.Register(c, "bob")
	assert.True(t, cameOnline, "bob just came online")
	assert.Equal(t, "alice", prevOffline, "alice lost her only connection")
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))
	assert.Equal(t, 1, r.ConnCount())
}

func TestRegistryMoveKeepsOldNameOnlineWithOtherConnections(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newTestClient(), newTestClient()

	r.Register(c1, "alice")
	r.Register(c2, "alice")
	_, prevOffline := r.Register(c2, "bob")
	assert.Empty(t, prevOffline, "alice still has c1")
	assert.True(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newTestClient(), newTestClient()
	r.Register(c1, "alice")
	r.Register(c2, "alice")

	username, wentOffline := r.Unregister(c1)
	assert.Equal(t, "alice", username)
	assert.False(t, wentOffline, "second connection keeps alice online")

	username, wentOffline = r.Unregister(c2)
	assert.Equal(t, "alice", username)
	assert.True(t, wentOffline)
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, 0, r.ConnCount())
	assert.Equal(t, 0, r.OnlineCount())
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	username, wentOffline := r.Unregister(newTestClient())
	assert.Empty(t, username)
	assert.False(t, wentOffline)
}

func TestRegistryConnectionsForReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newTestClient(), newTestClient()
	r.Register(c1, "alice")

	snapshot := r.ConnectionsFor("alice")
	require.Len(t, snapshot, 1)

	// Mutating the registry must not change an already-taken snapshot.
	r.Register(c2, "alice")
	r.Unregister(c1)
	assert.Len(t, snapshot, 1)
	assert.Same(t, c1, snapshot[0])
}

func TestRegistryConnectionsForOffline(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.ConnectionsFor("ghost"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	const users = 8
	const connsPerUser = 25

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		username := fmt.Sprintf("user-%d", u)
		for i := 0; i < connsPerUser; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := newTestClient()
				r.Register(c, username)
				r.ConnectionsFor(username)
				r.Unregister(c)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 0, r.ConnCount())
	assert.Equal(t, 0, r.OnlineCount())
	assert.Empty(t, r.All())
}
