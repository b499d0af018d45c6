// Package queueing implements the Queueing Service from spec §4.6: the
// core of the matchmaking & server queue system. It owns per-GameServer
// processing loops, dispatches bounded join attempts, and enforces
// timeouts and capacity.
package queueing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arcadequeue/matchqueue/internal/channel"
	"github.com/arcadequeue/matchqueue/internal/config"
	"github.com/arcadequeue/matchqueue/internal/errkind"
	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/probe"
	"github.com/arcadequeue/matchqueue/internal/registry"
	"github.com/arcadequeue/matchqueue/internal/webfront"
)

// Service is the Queueing Service. Construct with New and keep it for the
// process lifetime; call Shutdown to drain all per-server loops.
//
// Lock ordering: whenever both a GameServer.Mu and a Player.Mu must be
// held, GameServer.Mu is acquired first. This module never acquires two
// GameServer locks at once and never holds a lock across a network call.
type Service struct {
	cfg      config.Config
	players  *registry.PlayerRegistry
	servers  *registry.GameServerRegistry
	channels channel.Registry
	prober   *probe.Prober
	webfront *webfront.Client // nil disables the cross-check (spec §4.6 step 3)
	clock    func() time.Time

	ctx context.Context
	wg  sync.WaitGroup
}

// New constructs a Service. ctx bounds the lifetime of every per-server
// processing loop the service starts; cancel it (or call Shutdown) to
// stop them all. webfrontClient may be nil to disable the cross-check.
func New(
	ctx context.Context,
	cfg config.Config,
	players *registry.PlayerRegistry,
	servers *registry.GameServerRegistry,
	channels channel.Registry,
	prober *probe.Prober,
	webfrontClient *webfront.Client,
) *Service {
	return &Service{
		cfg:      cfg,
		players:  players,
		servers:  servers,
		channels: channels,
		prober:   prober,
		webfront: webfrontClient,
		clock:    time.Now,
		ctx:      ctx,
	}
}

// Shutdown waits for every per-server loop this service started to
// observe ctx cancellation and exit.
func (s *Service) Shutdown() {
	s.wg.Wait()
}

// JoinQueue implements spec §4.6 JoinQueue(player, ip, port, instanceId).
func (s *Service) JoinQueue(player *model.Player, key model.ServerKey, instanceID string) bool {
	server := s.servers.GetOrCreate(key, instanceID)

	server.Mu.Lock()
	player.Mu.Lock()
	var rejectErr error
	ok := func() bool {
		if player.State != model.StateConnected && player.State != model.StateMatchmaking {
			rejectErr = errkind.InvalidState
			return false
		}
		if server.Queue.Contains(player) {
			rejectErr = errkind.InvalidState
			return false
		}
		if server.Queue.Len() >= s.cfg.QueueHardCap {
			rejectErr = errkind.CapacityExceeded
			return false
		}
		player.Criteria = nil
		player.PreferredServers = nil
		player.ResetJoinAttempts()
		player.State = model.StateQueued
		k := key
		player.Server = &k
		player.QueuedAt = s.clock()
		server.Queue.Enqueue(player)
		return true
	}()
	player.Mu.Unlock()
	server.Mu.Unlock()

	if !ok {
		slog.Warn("queueing: joinQueue rejected", "player", player.StableID, "server", key, "err", rejectErr)
		return false
	}

	s.ensureLoopRunning(server)
	s.broadcastQueuePositions(server)
	return true
}

// LeaveQueue implements spec §4.6 leaveQueue(player). No notification is
// sent to the leaver.
func (s *Service) LeaveQueue(player *model.Player) {
	server, ok := s.serverOf(player)
	if !ok {
		return
	}

	server.Mu.Lock()
	player.Mu.Lock()
	var res dequeueResult
	dequeued := false
	if player.State == model.StateQueued || player.State == model.StateJoining {
		res = dequeueLocked(server, player, model.ReasonUserLeave, model.StateConnected)
		dequeued = true
	}
	player.Mu.Unlock()
	server.Mu.Unlock()

	if !dequeued {
		return
	}
	if res.notifyRemoval {
		s.pushRemoved(player, res.reason)
	}
	s.broadcastQueuePositions(server)
}

// Disconnect synchronously removes player from whatever queue it is in,
// with no notification to the now-gone client (spec's "disconnect while
// queued" scenario, §8).
func (s *Service) Disconnect(player *model.Player) {
	server, ok := s.serverOf(player)
	if !ok {
		player.Mu.Lock()
		player.State = model.StateDisconnected
		player.Mu.Unlock()
		return
	}

	server.Mu.Lock()
	player.Mu.Lock()
	dequeued := false
	if player.State == model.StateQueued || player.State == model.StateJoining {
		dequeueLocked(server, player, model.ReasonDisconnect, model.StateDisconnected)
		dequeued = true
	} else {
		player.State = model.StateDisconnected
	}
	player.Mu.Unlock()
	server.Mu.Unlock()

	if dequeued {
		s.broadcastQueuePositions(server)
	}
}

// OnJoinAck implements spec §4.6 onJoinAck(player, success).
func (s *Service) OnJoinAck(player *model.Player, success bool) {
	server, ok := s.serverOf(player)
	if !ok {
		return
	}

	if success {
		server.Mu.Lock()
		player.Mu.Lock()
		joined := false
		if player.State == model.StateJoining {
			dequeueLocked(server, player, model.ReasonJoined, model.StateJoined)
			joined = true
		}
		player.Mu.Unlock()
		server.Mu.Unlock()
		if joined {
			s.broadcastQueuePositions(server)
		} else {
			slog.Warn("queueing: JoinAck(true) from non-joining player", "player", player.StableID, "err", errkind.InvalidState)
		}
		return
	}

	s.finishJoinFailed(server, player)
}

func (s *Service) serverOf(player *model.Player) (*model.GameServer, bool) {
	player.Mu.Lock()
	key := player.Server
	player.Mu.Unlock()
	if key == nil {
		return nil, false
	}
	return s.servers.Get(*key)
}

func (s *Service) ensureLoopRunning(server *model.GameServer) {
	ctx, cancel := context.WithCancel(s.ctx)
	if !server.TryStartProcessing(cancel) {
		cancel()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx, server)
	}()
}

// dequeueResult is returned by dequeueLocked so the caller can decide
// whether to push RemovedFromQueue once it has released the locks that
// dequeueLocked was called under.
type dequeueResult struct {
	reason        model.DequeueReason
	notifyRemoval bool
}

// dequeueLocked removes player from server's queue and assigns its new
// state. Caller must hold both server.Mu and player.Mu. Cancels any
// outstanding join dispatch for player, so a NotifyJoin push in flight
// does not keep running past the player leaving the queue for any reason
// (spec §5: disconnect synchronously cancels the outstanding dispatch;
// applied here for every dequeue path since none of them leave a pending
// push meaningful).
func dequeueLocked(server *model.GameServer, player *model.Player, reason model.DequeueReason, newState model.PlayerState) dequeueResult {
	wasJoining := player.State == model.StateJoining
	server.Queue.TryRemove(player)
	if wasJoining && server.JoiningCount > 0 {
		server.JoiningCount--
	}
	if player.DispatchCancel != nil {
		player.DispatchCancel()
		player.DispatchCancel = nil
	}
	player.State = newState
	player.Server = nil
	return dequeueResult{reason: reason, notifyRemoval: shouldNotifyRemoval(reason)}
}

// shouldNotifyRemoval implements the "no notification to the leaver"
// carve-outs named explicitly in spec §4.6: UserLeave, the silent Joined
// transition, and the no-notification branch of the late-failure policy
// (JoinFailed). Disconnect is silent because there is no channel left to
// notify.
func shouldNotifyRemoval(reason model.DequeueReason) bool {
	switch reason {
	case model.ReasonUserLeave, model.ReasonJoined, model.ReasonJoinFailed, model.ReasonDisconnect:
		return false
	default:
		return true
	}
}

// finishDequeue performs a locked dequeue and then, once the locks are
// released, sends the resulting notifications. Applies only if player is
// still in fromState and still belongs to server: callers resolving a
// goroutine's work (a dispatch's NotifyJoin result, a timeout check taken
// from a snapshot) observe player/server across a window where a
// concurrent LeaveQueue/Disconnect/OnJoinAck may already have moved the
// player elsewhere; without this check the stale resolution would
// resurrect or misclassify a player that has already left (invariants 1
// and 2). A mismatch is a silent no-op, not an error: the other path
// already handled the player.
func (s *Service) finishDequeue(server *model.GameServer, player *model.Player, fromState model.PlayerState, reason model.DequeueReason, newState model.PlayerState) {
	server.Mu.Lock()
	player.Mu.Lock()
	if player.State != fromState || player.Server == nil || *player.Server != server.Key {
		player.Mu.Unlock()
		server.Mu.Unlock()
		return
	}
	res := dequeueLocked(server, player, reason, newState)
	player.Mu.Unlock()
	server.Mu.Unlock()

	if res.notifyRemoval {
		s.pushRemoved(player, res.reason)
	}
	s.broadcastQueuePositions(server)
}

// finishJoinFailed implements the late-failure policy from spec §4.6
// (onJoinFailed): max-attempts dequeue, "server filled ahead of us"
// revert-to-Queued, or a silent JoinFailed dequeue.
func (s *Service) finishJoinFailed(server *model.GameServer, player *model.Player) {
	server.Mu.Lock()
	player.Mu.Lock()

	if player.State != model.StateJoining || player.Server == nil || *player.Server != server.Key {
		player.Mu.Unlock()
		server.Mu.Unlock()
		slog.Warn("queueing: late join-failure for a player no longer dispatched on this server",
			"player", player.StableID, "err", errkind.InvalidState)
		return
	}

	var (
		res        dequeueResult
		dequeued   bool
		revertOnly bool
	)
	switch {
	case len(player.JoinAttempts) >= s.cfg.MaxJoinAttempts:
		res = dequeueLocked(server, player, model.ReasonMaxJoinAttemptsReached, model.StateConnected)
		dequeued = true
	case server.LastServerInfo != nil && server.LastServerInfo.FreeSlots() == 0:
		if server.JoiningCount > 0 {
			server.JoiningCount--
		}
		if player.DispatchCancel != nil {
			player.DispatchCancel()
			player.DispatchCancel = nil
		}
		player.State = model.StateQueued
		if s.cfg.ClearJoinAttemptsOnLateFailure {
			player.ResetJoinAttempts()
		}
		revertOnly = true
	default:
		res = dequeueLocked(server, player, model.ReasonJoinFailed, model.StateConnected)
		dequeued = true
	}

	player.Mu.Unlock()
	server.Mu.Unlock()

	if revertOnly {
		return
	}
	if dequeued && res.notifyRemoval {
		s.pushRemoved(player, res.reason)
	}
	s.broadcastQueuePositions(server)
}

// dispatchJoin implements the "join attempt procedure" from spec §4.6.
// The slot is reserved synchronously, before this function returns: state
// -> Joining and joiningCount++ happen here, under server.Mu+player.Mu,
// not after NotifyJoin's up-to-10s round trip completes. processQueue
// calls this once per Queued candidate per tick and only ever dispatches
// players still in StateQueued, so without an immediate reservation the
// same still-Queued, still-in-flight player would be re-picked and
// re-dispatched on every subsequent tick until its NotifyJoin finally
// returns (duplicate pushes, unbounded joinAttempts growth). Reserving
// here also gives Disconnect/LeaveQueue a DispatchCancel to synchronously
// cancel (spec §5), instead of letting an orphaned push run to its own
// timeout for a player no longer in the queue.
func (s *Service) dispatchJoin(ctx context.Context, server *model.GameServer, player *model.Player) {
	server.Mu.Lock()
	player.Mu.Lock()
	if player.State != model.StateQueued || !server.Queue.Contains(player) {
		player.Mu.Unlock()
		server.Mu.Unlock()
		return
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.JoinAttemptDeadline())
	player.JoinAttempts = append(player.JoinAttempts, s.clock())
	player.State = model.StateJoining
	player.DispatchCancel = cancel
	server.JoiningCount++
	player.Mu.Unlock()
	server.Mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		ch, found := s.channels.Get(player.ClientChannelID)
		if !found {
			s.finishDequeue(server, player, model.StateJoining, model.ReasonUnknown, model.StateConnected)
			return
		}

		delivered, err := ch.NotifyJoin(dctx, server.Key.IP, server.Key.Port)

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			s.finishDequeue(server, player, model.StateJoining, model.ReasonJoinTimeout, model.StateConnected)
		case err != nil:
			slog.Warn("queueing: NotifyJoin transport error", "player", player.StableID, "err", err)
			s.finishDequeue(server, player, model.StateJoining, model.ReasonUnknown, model.StateConnected)
		case !delivered:
			s.finishJoinFailed(server, player)
		default:
			player.Mu.Lock()
			if player.DispatchCancel != nil {
				player.DispatchCancel = nil
			}
			player.Mu.Unlock()
		}
	}()
}

// broadcastQueuePositions pushes QueuePositionChanged to every currently
// queued player, 1-indexed by enqueue order (spec §4.6).
func (s *Service) broadcastQueuePositions(server *model.GameServer) {
	nodes := server.Queue.Snapshot()
	length := len(nodes)
	for i, n := range nodes {
		s.pushQueuePosition(n.Value(), i+1, length)
	}
}

func (s *Service) pushQueuePosition(player *model.Player, position, length int) {
	ch, ok := s.channels.Get(player.ClientChannelID)
	if !ok {
		return
	}
	if err := ch.QueuePositionChanged(context.Background(), position, length); err != nil {
		slog.Warn("queueing: push queue position failed", "player", player.StableID, "err", err)
	}
}

func (s *Service) pushRemoved(player *model.Player, reason model.DequeueReason) {
	ch, ok := s.channels.Get(player.ClientChannelID)
	if !ok {
		return
	}
	if err := ch.RemovedFromQueue(context.Background(), reason); err != nil {
		slog.Warn("queueing: push removed-from-queue failed", "player", player.StableID, "err", err)
	}
}
