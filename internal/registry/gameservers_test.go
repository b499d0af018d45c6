package registry

import (
	"testing"

	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReturnsCanonicalInstance(t *testing.T) {
	r := NewGameServerRegistry()
	key := model.ServerKey{IP: "1.2.3.4", Port: 7777}

	s1 := r.GetOrCreate(key, "inst-1")
	s2 := r.GetOrCreate(key, "inst-1")
	require.Same(t, s1, s2)
}

func TestTryRemoveRefusesNonEmptyQueue(t *testing.T) {
	r := NewGameServerRegistry()
	key := model.ServerKey{IP: "1.2.3.4", Port: 7777}
	s := r.GetOrCreate(key, "inst-1")
	s.Queue.Enqueue(&model.Player{StableID: "p1"})
	s.Mu.Lock()
	s.State = model.ProcessingStopped
	s.Mu.Unlock()

	require.False(t, r.TryRemove(key))
}

func TestTryRemoveRefusesRunningLoop(t *testing.T) {
	r := NewGameServerRegistry()
	key := model.ServerKey{IP: "1.2.3.4", Port: 7777}
	s := r.GetOrCreate(key, "inst-1")
	s.Mu.Lock()
	s.State = model.ProcessingRunning
	s.Mu.Unlock()

	require.False(t, r.TryRemove(key))
}

func TestTryRemoveSucceedsWhenEmptyAndStopped(t *testing.T) {
	r := NewGameServerRegistry()
	key := model.ServerKey{IP: "1.2.3.4", Port: 7777}
	s := r.GetOrCreate(key, "inst-1")
	s.Mu.Lock()
	s.State = model.ProcessingStopped
	s.Mu.Unlock()

	require.True(t, r.TryRemove(key))
	_, ok := r.Get(key)
	require.False(t, ok)
}
