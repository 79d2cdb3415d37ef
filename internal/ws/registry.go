package ws

import "sync"

// Registry owns the only truly shared mutable state in the relay: which
// connections belong to which username. All mutation is serialized behind
// the mutex; readers only ever get snapshot copies, never aliases of the
// live sets. Nothing is retained for users with zero connections.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	byConn map[*Client]string
	total  int
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[*Client]struct{}),
		byConn: make(map[*Client]string),
	}
}

// Register binds c to username, moving it if it was registered under another
// name. Idempotent for repeat registrations of the same pair.
// cameOnline is true when this is username's first live connection;
// prevOffline names a previous owner whose set became empty because of the
// move ("" when no presence flip happened on the old side).
func (r *Registry) Register(c *Client, username string) (cameOnline bool, prevOffline string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[c]; ok {
		if prev == username {
			return false, ""
		}
		prevOffline = r.detachLocked(c, prev)
	} else {
		r.total++
	}

	set, ok := r.byUser[username]
	if !ok {
		set = make(map[*Client]struct{})
		r.byUser[username] = set
		cameOnline = true
	}
	set[c] = struct{}{}
	r.byConn[c] = username
	return cameOnline, prevOffline
}

// Unregister removes c from whatever username owned it. wentOffline is true
// when that user's connection set became empty. Unknown or never-registered
// connections are a no-op.
func (r *Registry) Unregister(c *Client) (username string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byConn[c]
	if !ok {
		return "", false
	}
	r.total--
	offline := r.detachLocked(c, username)
	return username, offline != ""
}

// detachLocked removes c from username's set and deletes the emptied set.
// Returns username when the user went offline, "" otherwise.
func (r *Registry) detachLocked(c *Client, username string) string {
	delete(r.byConn, c)
	set, ok := r.byUser[username]
	if !ok {
		return ""
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byUser, username)
		return username
	}
	return ""
}

// ConnectionsFor returns a snapshot of username's live connections; empty
// means offline. Callers may iterate freely while the registry mutates.
func (r *Registry) ConnectionsFor(username string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byUser[username]
	if !ok {
		return nil
	}
	conns := make([]*Client, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether username has at least one live connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[username]
	return ok
}

// All returns a snapshot of every registered connection, for presence
// broadcasts.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Client, 0, r.total)
	for c := range r.byConn {
		conns = append(conns, c)
	}
	return conns
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnCount returns the number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
