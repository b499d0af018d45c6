// Package model holds the value types shared across the matchmaking and
// queueing core: players, game servers, probe replies and match criteria.
package model

import (
	"context"
	"sync"
	"time"
)

// PlayerState is the state machine position of a Player (spec §3, §4.7).
type PlayerState int

const (
	StateConnected PlayerState = iota
	StateMatchmaking
	StateQueued
	StateJoining
	StateJoined
	StateDisconnected
)

func (s PlayerState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateMatchmaking:
		return "MATCHMAKING"
	case StateQueued:
		return "QUEUED"
	case StateJoining:
		return "JOINING"
	case StateJoined:
		return "JOINED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ServerKey identifies a GameServer by its (ip, port) pair.
type ServerKey struct {
	IP   string
	Port uint16
}

// DequeueReason explains why a Player left a queue (spec §3).
type DequeueReason int

const (
	ReasonUnknown DequeueReason = iota
	ReasonUserLeave
	ReasonDisconnect
	ReasonJoinFailed
	ReasonJoinTimeout
	ReasonMaxJoinAttemptsReached
	ReasonJoined
)

func (r DequeueReason) String() string {
	switch r {
	case ReasonUserLeave:
		return "UserLeave"
	case ReasonDisconnect:
		return "Disconnect"
	case ReasonJoinFailed:
		return "JoinFailed"
	case ReasonJoinTimeout:
		return "JoinTimeout"
	case ReasonMaxJoinAttemptsReached:
		return "MaxJoinAttemptsReached"
	case ReasonJoined:
		return "Joined"
	default:
		return "Unknown"
	}
}

// Player is the mutable per-session record described in spec §3.
//
// Player identity (StableID, DisplayName) is immutable after creation.
// Mu guards every other field. Before Server is set, callers lock Mu
// directly (e.g. JoinQueue's precondition check, EnterMatchmaking). Once
// Server != nil the owning GameServer's Mu is the authoritative lock for
// this player's State/JoinAttempts (spec §5: "owned by the per-GameServer
// loop once the player is enqueued") — callers must hold that GameServer's
// Mu and then Player.Mu, in that order, for those mutations.
type Player struct {
	StableID        string
	DisplayName     string
	ClientChannelID string

	Mu           sync.Mutex
	State        PlayerState
	Server       *ServerKey
	QueuedAt     time.Time
	JoinAttempts []time.Time

	// DispatchCancel cancels the in-flight NotifyJoin push for the current
	// join attempt, if any (nil otherwise). Set when a Queued player is
	// reserved for dispatch, cleared once that attempt resolves. Spec §5:
	// "client disconnect synchronously cancels any outstanding join
	// dispatch for that player" — callers hold Mu (and the owning
	// GameServer's Mu) when invoking it.
	DispatchCancel context.CancelFunc

	// Criteria/PreferredServers are only meaningful while State ==
	// StateMatchmaking; set by EnterMatchmaking and cleared on exit.
	Criteria         *MatchSearchCriteria
	PreferredServers []ServerPing
	MatchmakingSince time.Time
}

// ResetJoinAttempts clears the recorded join attempts, done whenever a
// player enters a new queue (spec §3).
func (p *Player) ResetJoinAttempts() {
	p.JoinAttempts = nil
}
