package db

import (
	"database/sql"
	"sync"

	"github.com/google/uuid"
)

// Registry holds live catalog connections keyed by session ID. It is the
// concrete resolver handed to the orchestrator; callers that already manage
// their own connections can implement the resolver interface directly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*MSSQLClient
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*MSSQLClient)}
}

// Register stores the client under a freshly minted session ID and returns
// the ID.
func (r *Registry) Register(client *MSSQLClient) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = client
	r.mu.Unlock()
	return id
}

// Resolve returns the live connection for a session ID, or false when no
// session with that ID exists.
func (r *Registry) Resolve(sessionID string) (*sql.DB, bool) {
	r.mu.RLock()
	client, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return client.GetDB(), true
}

// Remove forgets a session. The underlying connection is not closed; the
// owner registered it and remains responsible for it.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}
