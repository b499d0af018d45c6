package queueing

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
)

// runLoop is the per-GameServer processing loop from spec §4.6: started
// lazily on first enqueue, runs until ctx is cancelled. Each iteration
// performs the numbered steps from the spec in order: web-front
// cross-check, probe, and dispatch/timeout handling, paced so the loop
// does not busy-spin on an idle or fully-joining server.
func (s *Service) runLoop(ctx context.Context, server *model.GameServer) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queueing: processing loop panicked, resetting lastServerInfo", "server", server.Key, "panic", r)
			server.Mu.Lock()
			server.LastServerInfo = nil
			server.Mu.Unlock()
			// Carry on after one pacing interval in a fresh goroutine;
			// State stays Running, so only cancellation ends the loop.
			if sleepCtx(ctx, s.cfg.PacingInterval) {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.runLoop(ctx, server)
				}()
				return
			}
		}
		server.Mu.Lock()
		server.State = model.ProcessingStopped
		server.Mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if server.Queue.Len() == 0 {
			if !sleepCtx(ctx, s.cfg.IdleSleep) {
				return
			}
			continue
		}

		iterStart := s.clock()

		if s.webfront != nil && s.cfg.ConfirmJoinsWithWebfrontAPI {
			server.Mu.Lock()
			joining := server.JoiningCount
			server.Mu.Unlock()
			if joining > 0 {
				s.confirmJoinsViaWebfront(ctx, server)
			}
		}

		server.Mu.Lock()
		joiningCount := server.JoiningCount
		queueLen := server.Queue.Len()
		server.Mu.Unlock()

		if queueLen == 0 {
			if !sleepCtx(ctx, s.cfg.IdleSleep) {
				return
			}
			continue
		}

		if joiningCount < queueLen {
			info := s.prober.RequestInfo(ctx, server.Key, s.cfg.ProbeTimeout)
			server.Mu.Lock()
			server.LastServerInfo = info
			if info != nil {
				server.LastSuccessfulPingAt = s.clock()
			}
			server.Mu.Unlock()

			s.processQueue(ctx, server)
		}

		if !s.pace(ctx, iterStart) {
			return
		}
	}
}

// confirmJoinsViaWebfront implements spec §4.6 step 3 / §4.3: a Joining
// player whose DisplayName does not appear in the web-front's current
// roster is left alone (it may simply not have connected yet); a
// web-front fetch that yields nothing at all (down, empty, or errored —
// the webfront client deliberately collapses those, spec §4.3) is taken
// as "assume joined" for every currently-Joining player, never for one
// that's merely absent from a non-empty roster.
func (s *Service) confirmJoinsViaWebfront(ctx context.Context, server *model.GameServer) {
	names := s.webfront.ActualPlayerNames(ctx, server.InstanceID)
	assumeAll := len(names) == 0
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}
	server.Mu.Lock()
	server.ActualPlayers = present
	server.Mu.Unlock()

	nodes := server.Queue.Snapshot()
	var confirmed []*model.Player
	for _, n := range nodes {
		p := n.Value()
		p.Mu.Lock()
		isJoining := p.State == model.StateJoining
		name := p.DisplayName
		p.Mu.Unlock()
		if !isJoining {
			continue
		}
		if _, ok := present[name]; assumeAll || ok {
			confirmed = append(confirmed, p)
		}
	}

	for _, p := range confirmed {
		server.Mu.Lock()
		p.Mu.Lock()
		if p.State == model.StateJoining {
			dequeueLocked(server, p, model.ReasonJoined, model.StateJoined)
		}
		p.Mu.Unlock()
		server.Mu.Unlock()
	}

	if len(confirmed) > 0 {
		s.broadcastQueuePositions(server)
	}
}

// processQueue implements spec §4.6 steps 5-7: compute the free,
// unreserved slot budget, time out any Joining player whose total join
// time has elapsed, and dispatch new join attempts for Queued players up
// to that budget, in queue order.
func (s *Service) processQueue(ctx context.Context, server *model.GameServer) {
	server.Mu.Lock()
	info := server.LastServerInfo
	joiningCount := server.JoiningCount
	server.Mu.Unlock()

	freeSlots := 0
	if info != nil {
		freeSlots = info.FreeSlots()
	}
	budget := freeSlots - joiningCount
	if budget < 0 {
		budget = 0
	}

	now := s.clock()
	for _, n := range server.Queue.Snapshot() {
		p := n.Value()

		p.Mu.Lock()
		state := p.State
		var firstAttempt time.Time
		if len(p.JoinAttempts) > 0 {
			firstAttempt = p.JoinAttempts[0]
		}
		p.Mu.Unlock()

		switch state {
		case model.StateJoining:
			if !firstAttempt.IsZero() && now.Sub(firstAttempt) > s.cfg.TotalJoinTimeLimit {
				s.finishDequeue(server, p, model.StateJoining, model.ReasonJoinTimeout, model.StateConnected)
			}
		case model.StateQueued:
			if budget > 0 {
				s.dispatchJoin(ctx, server, p)
				budget--
			}
		}
	}
}

// pace sleeps out the remainder of cfg.PacingInterval since iterStart, so
// the loop does not hammer the probe or web-front faster than configured.
// Returns false if ctx was cancelled while sleeping.
func (s *Service) pace(ctx context.Context, iterStart time.Time) bool {
	remaining := s.cfg.PacingInterval - s.clock().Sub(iterStart)
	return sleepCtx(ctx, remaining)
}

// sleepCtx sleeps for d, or returns early (false) if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
