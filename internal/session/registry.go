// Package session implements SessionRegistry (spec §4.4): a single-writer
// map from user_id to the one live Connection for that user, enforcing
// the "one active session per user" rule by displacing whichever
// connection was previously registered. Grounded on dkeye-Voice's
// internal/app/registry.go (mutex-guarded sid->session map with
// Bind/Unbind/Get), generalized from session-id keys to user-id keys.
package session

import (
	"sync"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/wire"
)

// Conn is the minimal surface SessionRegistry needs from a live
// connection. internal/transport's Connection type satisfies it.
type Conn interface {
	UserID() domain.UserID
	Send(f wire.Frame) error
	Close(reason string)
}

// Registry holds at most one Conn per user_id.
type Registry struct {
	mu   sync.Mutex
	byID map[domain.UserID]Conn
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[domain.UserID]Conn)}
}

// Register installs conn as the live connection for userID. If a
// different connection was already registered for that user, it is
// returned so the caller can end its active call and close it
// (spec §4.4 "session displacement") — Registry itself only owns the
// map, not call-ending policy, to avoid a dependency on internal/call.
func (r *Registry) Register(userID domain.UserID, conn Conn) (previous Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.byID[userID]
	r.byID[userID] = conn
	return previous
}

// Unregister removes conn if it is still the one registered for userID.
// A stale Unregister from an already-displaced connection is a no-op.
func (r *Registry) Unregister(userID domain.UserID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[userID] == conn {
		delete(r.byID, userID)
	}
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID domain.UserID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[userID]
	return c, ok
}

// Online reports whether userID currently has a live connection.
func (r *Registry) Online(userID domain.UserID) bool {
	_, ok := r.Lookup(userID)
	return ok
}
