// Package directory tracks which usernames are currently connected and which
// connection carries them. It is the single source of truth for "is user X
// reachable right now".
package directory

import "sync"

type entry struct {
	connID   string
	username string
}

// Directory is a dual-indexed registry: connection ID to username and
// username to the most recently registered connection.
//
// Usernames are client-supplied and not guaranteed unique. Duplicates are
// accepted and resolve last-write-wins on lookup; unregistering an older
// duplicate never evicts the newer one, and unregistering the newest promotes
// the most recently registered survivor so the name stays reachable.
type Directory struct {
	mu     sync.Mutex
	byConn map[string]entry
	byUser map[string]string // username -> connID
	order  []string          // connIDs in registration order, for stable snapshots
}

func New() *Directory {
	return &Directory{
		byConn: make(map[string]entry),
		byUser: make(map[string]string),
	}
}

func (d *Directory) Register(connID, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byConn[connID]; !exists {
		d.order = append(d.order, connID)
	}
	d.byConn[connID] = entry{connID: connID, username: username}
	d.byUser[username] = connID
}

func (d *Directory) Unregister(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)
	for i, id := range d.order {
		if id == connID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}

	// Only touch the username index if it still points at this connection; a
	// newer connection with the same username keeps winning. When the winner
	// itself leaves, the most recently registered survivor takes over.
	if d.byUser[e.username] == connID {
		delete(d.byUser, e.username)
		for i := len(d.order) - 1; i >= 0; i-- {
			if other := d.byConn[d.order[i]]; other.username == e.username {
				d.byUser[e.username] = other.connID
				break
			}
		}
	}
}

// Find resolves a username to its live connection ID.
func (d *Directory) Find(username string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	connID, ok := d.byUser[username]
	return connID, ok
}

// Usernames returns all connected usernames in registration order, for
// membership broadcasts. Duplicates appear once per connection.
func (d *Directory) Usernames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.order))
	for _, connID := range d.order {
		out = append(out, d.byConn[connID].username)
	}
	return out
}
