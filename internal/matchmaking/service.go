// Package matchmaking implements the Matchmaking Service from spec
// §4.7: the pre-queue phase that picks a server for a player who hasn't
// chosen one, then hands the match off to the Queueing Service.
package matchmaking

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arcadequeue/matchqueue/internal/channel"
	"github.com/arcadequeue/matchqueue/internal/config"
	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/probe"
	"github.com/arcadequeue/matchqueue/internal/queueing"
	"github.com/arcadequeue/matchqueue/internal/registry"
)

// Service is the Matchmaking Service. Construct with New and call Start
// once to begin the periodic tick; Shutdown waits for it to stop.
type Service struct {
	cfg      config.Config
	players  *registry.PlayerRegistry
	queueing *queueing.Service
	channels channel.Registry
	prober   *probe.Prober
	clock    func() time.Time

	ctx context.Context
	wg  sync.WaitGroup
}

// New constructs a Service. ctx bounds the tick loop's lifetime.
func New(
	ctx context.Context,
	cfg config.Config,
	players *registry.PlayerRegistry,
	queueingSvc *queueing.Service,
	channels channel.Registry,
	prober *probe.Prober,
) *Service {
	return &Service{
		cfg:      cfg,
		players:  players,
		queueing: queueingSvc,
		channels: channels,
		prober:   prober,
		clock:    time.Now,
		ctx:      ctx,
	}
}

// Start launches the periodic matchmaking tick in the background.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop()
	}()
}

// Shutdown waits for the tick loop to observe ctx cancellation and stop.
func (s *Service) Shutdown() {
	s.wg.Wait()
}

// EnterMatchmaking implements spec §4.7 enterMatchmaking(player, criteria,
// preferredServers). Precondition: player is Connected.
func (s *Service) EnterMatchmaking(player *model.Player, criteria model.MatchSearchCriteria, preferredServers []model.ServerPing) bool {
	player.Mu.Lock()
	defer player.Mu.Unlock()

	if player.State != model.StateConnected {
		return false
	}
	c := criteria
	player.State = model.StateMatchmaking
	player.Criteria = &c
	player.PreferredServers = append([]model.ServerPing(nil), preferredServers...)
	player.MatchmakingSince = s.clock()
	return true
}

// UpdateSearchPreferences implements spec §4.7
// updateSearchPreferences(player, criteria, serverPings): replaces the
// criteria for an in-flight matchmaking session.
func (s *Service) UpdateSearchPreferences(player *model.Player, criteria model.MatchSearchCriteria, preferredServers []model.ServerPing) bool {
	player.Mu.Lock()
	defer player.Mu.Unlock()

	if player.State != model.StateMatchmaking {
		return false
	}
	c := criteria
	player.Criteria = &c
	player.PreferredServers = append([]model.ServerPing(nil), preferredServers...)
	return true
}

// LeaveMatchmaking implements spec §4.7 leaveMatchmaking(player). Only
// valid from Matchmaking; transitions to Connected.
func (s *Service) LeaveMatchmaking(player *model.Player) {
	player.Mu.Lock()
	defer player.Mu.Unlock()

	if player.State != model.StateMatchmaking {
		return
	}
	player.State = model.StateConnected
	player.Criteria = nil
	player.PreferredServers = nil
}

func (s *Service) tickLoop() {
	interval := s.cfg.MatchmakingTickInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// matchmakingSnapshot is a point-in-time copy of the fields tick needs
// from a Matchmaking player, taken under Player.Mu so the tick's probe
// batch and ranking work can run lock-free.
type matchmakingSnapshot struct {
	player     *model.Player
	criteria   model.MatchSearchCriteria
	candidates []model.ServerPing
	since      time.Time
}

// tick implements spec §4.7's periodic matchmaking evaluation: probe
// every candidate server named by any in-flight Matchmaking player, then
// for each player rank its candidates and try the best one via JoinQueue.
func (s *Service) tick() {
	var snapshots []matchmakingSnapshot
	candidateKeys := make(map[model.ServerKey]struct{})

	s.players.Range(func(p *model.Player) bool {
		p.Mu.Lock()
		if p.State == model.StateMatchmaking && p.Criteria != nil {
			snap := matchmakingSnapshot{
				player:     p,
				criteria:   *p.Criteria,
				candidates: append([]model.ServerPing(nil), p.PreferredServers...),
				since:      p.MatchmakingSince,
			}
			snapshots = append(snapshots, snap)
			for _, c := range snap.candidates {
				candidateKeys[c.Server] = struct{}{}
			}
		}
		p.Mu.Unlock()
		return true
	})

	if len(snapshots) == 0 {
		return
	}

	keys := make([]model.ServerKey, 0, len(candidateKeys))
	for k := range candidateKeys {
		keys = append(keys, k)
	}

	infos := make(map[model.ServerKey]*model.ServerInfo, len(keys))
	var infoMu sync.Mutex
	s.prober.StartBatch(s.ctx, keys, s.cfg.ProbeTimeout, func(key model.ServerKey, info *model.ServerInfo) {
		infoMu.Lock()
		infos[key] = info
		infoMu.Unlock()
	})

	now := s.clock()
	timeout := s.cfg.MatchmakingTimeout
	for _, snap := range snapshots {
		if timeout > 0 && now.Sub(snap.since) > timeout {
			s.failMatchmaking(snap.player, "no suitable server found")
			continue
		}

		key, instanceID, ok := pickCandidate(snap.criteria, snap.candidates, infos)
		if !ok {
			continue
		}
		s.queueing.JoinQueue(snap.player, key, instanceID)
	}
}

type rankedCandidate struct {
	server      model.ServerKey
	instanceID  string
	pingMs      int
	realPlayers int
}

// pickCandidate implements spec §4.7's ranking: candidates must pass
// criteria against the probed info and the client-reported ping; among
// survivors, rank by realPlayers (ascending if TryFreshGamesFirst, else
// descending), then by ping ascending.
func pickCandidate(criteria model.MatchSearchCriteria, candidates []model.ServerPing, infos map[model.ServerKey]*model.ServerInfo) (model.ServerKey, string, bool) {
	var ranked []rankedCandidate
	for _, c := range candidates {
		info, ok := infos[c.Server]
		if !ok || info == nil {
			continue
		}
		if !criteria.Passes(*info, c.PingMs) {
			continue
		}
		ranked = append(ranked, rankedCandidate{
			server:      c.Server,
			instanceID:  c.InstanceID,
			pingMs:      c.PingMs,
			realPlayers: info.RealPlayers(),
		})
	}
	if len(ranked) == 0 {
		return model.ServerKey{}, "", false
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].realPlayers != ranked[j].realPlayers {
			if criteria.TryFreshGamesFirst {
				return ranked[i].realPlayers < ranked[j].realPlayers
			}
			return ranked[i].realPlayers > ranked[j].realPlayers
		}
		return ranked[i].pingMs < ranked[j].pingMs
	})

	top := ranked[0]
	return top.server, top.instanceID, true
}

func (s *Service) failMatchmaking(player *model.Player, reason string) {
	player.Mu.Lock()
	wasMatchmaking := player.State == model.StateMatchmaking
	channelID := player.ClientChannelID
	if wasMatchmaking {
		player.State = model.StateConnected
		player.Criteria = nil
		player.PreferredServers = nil
	}
	player.Mu.Unlock()

	if !wasMatchmaking {
		return
	}
	ch, ok := s.channels.Get(channelID)
	if !ok {
		return
	}
	if err := ch.MatchmakingFailed(context.Background(), reason); err != nil {
		slog.Warn("matchmaking: push MatchmakingFailed failed", "player", player.StableID, "err", err)
	}
}
