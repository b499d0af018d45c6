// Package registry implements the Player Registry and Game Server
// Registry from spec §4.4 and §4.5: thread-safe maps with getOrAdd/
// tryRemove semantics, grounded on the teacher's SessionManager
// (sync.Map keyed by account) and ClientManager (mutex-guarded maps
// keyed by account/object id).
package registry

import (
	"sync"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
)

// PlayerRegistry maps stableId -> *model.Player. A single record exists
// per identity; a second concurrent session on the same stableId is
// rejected (spec §4.4, §7: "the new connection is aborted, not the
// incumbent").
type PlayerRegistry struct {
	mu      sync.Mutex
	players map[string]*model.Player
}

// NewPlayerRegistry creates an empty registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{players: make(map[string]*model.Player)}
}

// GetOrAdd returns the existing Player for stableID, or creates one bound
// to clientChannelID/displayName. The second return value is false when
// an existing session for this identity is still active under a
// different channel, meaning the caller must abort the new connection.
func (r *PlayerRegistry) GetOrAdd(stableID, clientChannelID, displayName string, now time.Time) (*model.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.players[stableID]; ok {
		if existing.State != model.StateDisconnected {
			return existing, false
		}
		// A prior session disconnected but wasn't reaped yet; replace it.
	}

	p := &model.Player{
		StableID:        stableID,
		DisplayName:     displayName,
		ClientChannelID: clientChannelID,
		State:           model.StateConnected,
	}
	r.players[stableID] = p
	return p, true
}

// TryRemove removes the record for stableID, but only if its current
// ClientChannelID still matches clientChannelID (guards against a stale
// disconnect racing a freshly accepted session).
func (r *PlayerRegistry) TryRemove(stableID, clientChannelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[stableID]
	if !ok || p.ClientChannelID != clientChannelID {
		return false
	}
	delete(r.players, stableID)
	return true
}

// Get returns the player for stableID, if any.
func (r *PlayerRegistry) Get(stableID string) (*model.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[stableID]
	return p, ok
}

// Count returns the number of registered players.
func (r *PlayerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Range calls fn for every registered player until fn returns false.
func (r *PlayerRegistry) Range(fn func(*model.Player) bool) {
	r.mu.Lock()
	snapshot := make([]*model.Player, 0, len(r.players))
	for _, p := range r.players {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	for _, p := range snapshot {
		if !fn(p) {
			return
		}
	}
}
