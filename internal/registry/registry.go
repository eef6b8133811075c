package registry

import (
	"errors"
	"sync"

	"github.com/hollis-v/beamcast/internal/models"
)

// ErrNotBroadcaster is returned when a connection tries to end a stream it
// does not broadcast. The session is left untouched.
var ErrNotBroadcaster = errors.New("requester is not the stream broadcaster")

type session struct {
	broadcaster string
	viewers     map[string]struct{}
	active      bool
}

// Registry tracks which connection broadcasts each stream and which
// connections watch it. It does no I/O; the relay owns all side effects.
//
// The relay mutates it from a single goroutine; the lock exists for the
// HTTP stream-info and stats endpoints, which read concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	roles    map[string]models.Role
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		roles:    make(map[string]models.Role),
	}
}

// RegisterBroadcaster makes connID the broadcaster of streamID, creating the
// session if absent and marking it active. A broadcaster already holding the
// session is replaced (last-writer-wins); its id is returned so the relay can
// notify it. The current viewer ids are returned for status fan-out.
func (r *Registry) RegisterBroadcaster(streamID, connID string) (replaced string, viewers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-registering the session's own broadcaster must not tear the
	// session down; only a prior role elsewhere is released.
	if role, ok := r.roles[connID]; ok &&
		(role.Kind != models.RoleBroadcaster || role.StreamID != streamID) {
		r.detach(connID)
	}

	s, ok := r.sessions[streamID]
	if !ok {
		s = &session{viewers: make(map[string]struct{})}
		r.sessions[streamID] = s
	}

	if s.broadcaster != "" && s.broadcaster != connID {
		replaced = s.broadcaster
		delete(r.roles, s.broadcaster)
	}

	s.broadcaster = connID
	s.active = true
	r.roles[connID] = models.Broadcaster(streamID)

	for id := range s.viewers {
		viewers = append(viewers, id)
	}
	return replaced, viewers
}

// RegisterViewer adds connID to the viewer set of streamID, creating an
// inactive session if no broadcaster has claimed it yet. Returns the current
// active flag and broadcaster id (empty when none). Re-joining is idempotent.
func (r *Registry) RegisterViewer(streamID, connID string) (active bool, broadcasterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role, ok := r.roles[connID]; !ok || role.Kind != models.RoleViewer || role.StreamID != streamID {
		r.detach(connID)
	}

	s, ok := r.sessions[streamID]
	if !ok {
		s = &session{viewers: make(map[string]struct{})}
		r.sessions[streamID] = s
	}

	s.viewers[connID] = struct{}{}
	r.roles[connID] = models.Viewer(streamID)
	return s.active, s.broadcaster
}

// RemovalKind describes what RemoveConnection found.
type RemovalKind int

const (
	RemovedNone RemovalKind = iota
	RemovedBroadcaster
	RemovedViewer
)

// Removal reports the consequence of removing a connection. For a departed
// broadcaster, Viewers holds the former viewer set to notify and the session
// is gone. For a departed viewer, ViewerCount is the session's new count and
// BroadcasterID receives it.
type Removal struct {
	Kind          RemovalKind
	StreamID      string
	Viewers       []string
	ViewerCount   int
	BroadcasterID string
}

// RemoveConnection drops connID from the registry. Unknown connections are a
// no-op.
func (r *Registry) RemoveConnection(connID string) Removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detach(connID)
}

// detach removes connID from its session under the held lock.
func (r *Registry) detach(connID string) Removal {
	role, ok := r.roles[connID]
	if !ok {
		return Removal{Kind: RemovedNone}
	}
	delete(r.roles, connID)

	s, ok := r.sessions[role.StreamID]
	if !ok {
		return Removal{Kind: RemovedNone}
	}

	switch role.Kind {
	case models.RoleBroadcaster:
		if s.broadcaster != connID {
			return Removal{Kind: RemovedNone}
		}
		viewers := r.removeSession(role.StreamID, s)
		return Removal{Kind: RemovedBroadcaster, StreamID: role.StreamID, Viewers: viewers}

	case models.RoleViewer:
		delete(s.viewers, connID)
		if s.broadcaster == "" && len(s.viewers) == 0 {
			delete(r.sessions, role.StreamID)
		}
		return Removal{
			Kind:          RemovedViewer,
			StreamID:      role.StreamID,
			ViewerCount:   len(s.viewers),
			BroadcasterID: s.broadcaster,
		}
	}
	return Removal{Kind: RemovedNone}
}

// removeSession deletes the session and clears every membership tied to it,
// returning the former viewer ids.
func (r *Registry) removeSession(streamID string, s *session) []string {
	viewers := make([]string, 0, len(s.viewers))
	for id := range s.viewers {
		viewers = append(viewers, id)
		delete(r.roles, id)
	}
	delete(r.roles, s.broadcaster)
	delete(r.sessions, streamID)
	return viewers
}

// EndStream tears down streamID on behalf of requesterID. Only the registered
// broadcaster may end its own session; anyone else gets ErrNotBroadcaster and
// no mutation. On success the session is removed and the former viewer ids
// are returned for notification.
func (r *Registry) EndStream(streamID, requesterID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[streamID]
	if !ok || s.broadcaster == "" || s.broadcaster != requesterID {
		return nil, ErrNotBroadcaster
	}
	return r.removeSession(streamID, s), nil
}

// ViewerCount returns the number of viewers of streamID, 0 if absent.
func (r *Registry) ViewerCount(streamID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return 0
	}
	return len(s.viewers)
}

// Role returns the role recorded for connID, Unassigned when unknown.
func (r *Registry) Role(connID string) models.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[connID]
	if !ok {
		return models.Unassigned()
	}
	return role
}

// Broadcaster returns the broadcaster of streamID, empty when none.
func (r *Registry) Broadcaster(streamID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return ""
	}
	return s.broadcaster
}

// Viewers returns the viewer ids of streamID.
func (r *Registry) Viewers(streamID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return nil
	}
	viewers := make([]string, 0, len(s.viewers))
	for id := range s.viewers {
		viewers = append(viewers, id)
	}
	return viewers
}

// Status reports whether streamID exists and whether it is live.
func (r *Registry) Status(streamID string) (exists, active bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return false, false
	}
	return true, s.active
}

// Stats returns the number of sessions and tracked connections.
func (r *Registry) Stats() (sessions, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.roles)
}
