package registry

import (
	"sync"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
)

// GameServerRegistry maps (ip, port) -> *model.GameServer, atomically
// creating entries on first reference (spec §4.5). A GameServer is never
// deleted while its queue is non-empty or its processing loop is active
// (spec §3).
type GameServerRegistry struct {
	mu      sync.Mutex
	servers map[model.ServerKey]*model.GameServer
	now     func() time.Time
}

// NewGameServerRegistry creates an empty registry.
func NewGameServerRegistry() *GameServerRegistry {
	return &GameServerRegistry{
		servers: make(map[model.ServerKey]*model.GameServer),
		now:     time.Now,
	}
}

// GetOrCreate returns the canonical GameServer for key, creating it with
// instanceID if absent.
func (r *GameServerRegistry) GetOrCreate(key model.ServerKey, instanceID string) *model.GameServer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.servers[key]; ok {
		return s
	}
	s := model.NewGameServer(key, instanceID, r.now())
	r.servers[key] = s
	return s
}

// Get returns the GameServer for key, if one has been created.
func (r *GameServerRegistry) Get(key model.ServerKey) (*model.GameServer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[key]
	return s, ok
}

// TryRemove deletes the GameServer at key, but only if it is Removable()
// (spec §4.5: "deletion is permitted only when the queue is empty and
// processingState = Stopped").
func (r *GameServerRegistry) TryRemove(key model.ServerKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[key]
	if !ok || !s.Removable() {
		return false
	}
	delete(r.servers, key)
	return true
}

// Snapshot returns every currently-registered GameServer.
func (r *GameServerRegistry) Snapshot() []*model.GameServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.GameServer, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}
