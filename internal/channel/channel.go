// Package channel defines the abstract Client Channel capability set from
// spec §6 and Design Notes ("SignalR-style hub"): a typed push interface
// from server to client. Every event the core emits is an explicit
// notification to an explicit recipient, never a broadcast observer bag.
// Transports (WebSocket, or anything else) implement Client.
package channel

import (
	"context"

	"github.com/arcadequeue/matchqueue/internal/model"
)

// Client is the push capability set a Client Channel must implement.
// Implementations must not block indefinitely; callers that need a
// deadline wrap ctx accordingly.
type Client interface {
	// ID returns the opaque handle stored as Player.ClientChannelID.
	ID() string

	// NotifyJoin asks the client to connect to ip:port now. The returned
	// bool reports synchronous delivery-acceptance (spec §4.6); the
	// returned error reports a transport failure distinct from a
	// client-side rejection.
	NotifyJoin(ctx context.Context, ip string, port uint16) (bool, error)

	// QueuePositionChanged reports a 1-indexed position out of length.
	QueuePositionChanged(ctx context.Context, position, length int) error

	// RemovedFromQueue is a one-way notification; never sent to a player
	// whose own LeaveQueue or JoinAck(success) caused the removal.
	RemovedFromQueue(ctx context.Context, reason model.DequeueReason) error

	// MatchFound reports a matchmaking success prior to NotifyJoin.
	MatchFound(ctx context.Context, ip string, port uint16) error

	// MatchmakingFailed reports a matchmaking session giving up.
	MatchmakingFailed(ctx context.Context, reason string) error
}

// Registry resolves a Player.ClientChannelID to its live Client. Transport
// implementations (e.g. transport/ws) populate and own a Registry; the
// Queueing and Matchmaking services only ever read from it.
type Registry interface {
	Get(clientChannelID string) (Client, bool)
}

