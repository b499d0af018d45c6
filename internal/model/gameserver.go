package model

import (
	"context"
	"sync"
	"time"

	"github.com/arcadequeue/matchqueue/internal/queue"
)

// ProcessingState is the lifecycle state of a GameServer's processing
// loop (spec §3).
type ProcessingState int

const (
	ProcessingIdle ProcessingState = iota
	ProcessingRunning
	ProcessingStopping
	ProcessingStopped
)

func (s ProcessingState) String() string {
	switch s {
	case ProcessingIdle:
		return "Idle"
	case ProcessingRunning:
		return "Running"
	case ProcessingStopping:
		return "Stopping"
	case ProcessingStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// GameServer is the per-(ip,port) aggregate described in spec §3.
//
// Mu guards every field below it: JoiningCount, LastServerInfo,
// LastSuccessfulPingAt, ActualPlayers and State, exactly the set spec §5
// calls out as "the only data structures read/written by multiple tasks"
// for a single GameServer. Queue has its own internal synchronization for
// its structure, but spec §5 groups it with the same per-GameServer
// mutex for invariant purposes (joiningCount tracks queue membership), so
// callers performing compound queue+joiningCount+state updates (enqueue,
// dequeue, join dispatch) must hold Mu for the whole operation. This
// keeps a single per-GameServer processing loop as the sole owner of
// enqueued Player state transitions (spec §5), with request handlers
// serializing through the same mutex.
type GameServer struct {
	Key        ServerKey
	InstanceID string

	Queue *queue.Queue[*Player]

	Mu                   sync.Mutex
	JoiningCount         int
	LastServerInfo       *ServerInfo
	LastSuccessfulPingAt time.Time
	ActualPlayers        map[string]struct{}
	State                ProcessingState
	ProcessingCancel     context.CancelFunc
	spawnDate            time.Time
}

// NewGameServer creates a new, Idle GameServer for key/instanceID.
func NewGameServer(key ServerKey, instanceID string, now time.Time) *GameServer {
	return &GameServer{
		Key:        key,
		InstanceID: instanceID,
		Queue:      queue.New[*Player](),
		State:      ProcessingIdle,
		spawnDate:  now,
	}
}

// SpawnDate returns when this GameServer record was created.
func (s *GameServer) SpawnDate() time.Time { return s.spawnDate }

// HasActualPlayer reports whether displayName was present in the last
// web-front snapshot. Caller must hold Mu.
func (s *GameServer) HasActualPlayer(displayName string) bool {
	_, ok := s.ActualPlayers[displayName]
	return ok
}

// TryStartProcessing atomically transitions Idle/Stopped -> Running and
// records cancel as the handle used to stop the loop. Returns false if a
// loop is already Running or Stopping (i.e. one must not be started
// twice). Locks Mu itself.
func (s *GameServer) TryStartProcessing(cancel context.CancelFunc) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State == ProcessingRunning || s.State == ProcessingStopping {
		return false
	}
	s.State = ProcessingRunning
	s.ProcessingCancel = cancel
	return true
}

// StopProcessing cancels the running loop, if any. Locks Mu itself.
func (s *GameServer) StopProcessing() {
	s.Mu.Lock()
	cancel := s.ProcessingCancel
	s.Mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Removable reports whether this GameServer may be garbage-collected from
// the registry: empty queue and a stopped processing loop (spec §3).
// Locks Mu itself.
func (s *GameServer) Removable() bool {
	s.Mu.Lock()
	state := s.State
	s.Mu.Unlock()
	return s.Queue.Len() == 0 && state == ProcessingStopped
}
