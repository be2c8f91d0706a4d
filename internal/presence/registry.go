package presence

import (
	"sync"

	"github.com/fathima-sithara/realtime-chat/internal/metrics"
)

// Registry is the in-memory source of truth for "is user online". A
// user may hold several live connection handles at once (one per tab or
// device); the user is online while at least one handle remains.
//
// Process-lifetime only: cleared on restart, never persisted itself.
type Registry struct {
	mu            sync.RWMutex
	handlesByUser map[string]map[string]struct{}
	userByHandle  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		handlesByUser: make(map[string]map[string]struct{}),
		userByHandle:  make(map[string]string),
	}
}

// Register binds a connection handle to a user. Reports whether this
// was the user's first live handle (the offline -> online edge).
func (r *Registry) Register(userID, handleID string) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.userByHandle[handleID]; ok && prev != userID {
		r.removeLocked(prev, handleID)
	}
	r.userByHandle[handleID] = userID

	set, ok := r.handlesByUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.handlesByUser[userID] = set
		metrics.OnlineUsers.Inc()
	}
	cameOnline = !ok
	set[handleID] = struct{}{}
	return cameOnline
}

// Unregister drops a handle. Reports the owning user and whether it was
// the user's last handle (the online -> offline edge). Unknown handles
// are a no-op.
func (r *Registry) Unregister(handleID string) (userID string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.userByHandle[handleID]
	if !ok {
		return "", false
	}
	delete(r.userByHandle, handleID)
	return userID, r.removeLocked(userID, handleID)
}

func (r *Registry) removeLocked(userID, handleID string) (wentOffline bool) {
	set, ok := r.handlesByUser[userID]
	if !ok {
		return false
	}
	delete(set, handleID)
	if len(set) == 0 {
		delete(r.handlesByUser, userID)
		metrics.OnlineUsers.Dec()
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlesByUser[userID]) > 0
}

// Online returns the ids of every user with a live handle.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlesByUser))
	for u := range r.handlesByUser {
		out = append(out, u)
	}
	return out
}

// Handles returns how many live handles a user holds.
func (r *Registry) Handles(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlesByUser[userID])
}
