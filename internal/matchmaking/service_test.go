package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/arcadequeue/matchqueue/internal/channel"
	"github.com/arcadequeue/matchqueue/internal/config"
	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/probe"
	"github.com/arcadequeue/matchqueue/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestEnterMatchmakingRequiresConnected(t *testing.T) {
	p := &model.Player{StableID: "p1", State: model.StateJoined}
	svc := &Service{clock: time.Now}

	ok := svc.EnterMatchmaking(p, model.MatchSearchCriteria{}, nil)
	require.False(t, ok)

	p.State = model.StateConnected
	ok = svc.EnterMatchmaking(p, model.MatchSearchCriteria{MaxPing: 100}, []model.ServerPing{
		{Server: model.ServerKey{IP: "1.2.3.4", Port: 7777}, PingMs: 40, InstanceID: "inst"},
	})
	require.True(t, ok)
	require.Equal(t, model.StateMatchmaking, p.State)
	require.NotNil(t, p.Criteria)
	require.Len(t, p.PreferredServers, 1)
}

func TestLeaveMatchmakingOnlyFromMatchmaking(t *testing.T) {
	svc := &Service{clock: time.Now}
	p := &model.Player{StableID: "p1", State: model.StateConnected}

	svc.LeaveMatchmaking(p)
	require.Equal(t, model.StateConnected, p.State)

	p.State = model.StateMatchmaking
	c := model.MatchSearchCriteria{}
	p.Criteria = &c
	svc.LeaveMatchmaking(p)
	require.Equal(t, model.StateConnected, p.State)
	require.Nil(t, p.Criteria)
}

func TestPickCandidateRanksByRealPlayersThenPing(t *testing.T) {
	criteria := model.MatchSearchCriteria{MaxPing: 200, MinPlayers: 0, MaxPlayersOnServer: -1}
	a := model.ServerKey{IP: "10.0.0.1", Port: 1}
	b := model.ServerKey{IP: "10.0.0.2", Port: 2}
	candidates := []model.ServerPing{
		{Server: a, PingMs: 80, InstanceID: "a"},
		{Server: b, PingMs: 20, InstanceID: "b"},
	}
	infos := map[model.ServerKey]*model.ServerInfo{
		a: {MaxClients: 16, CurrentPlayers: 10},
		b: {MaxClients: 16, CurrentPlayers: 10},
	}

	// Equal realPlayers: lower ping wins.
	key, instanceID, ok := pickCandidate(criteria, candidates, infos)
	require.True(t, ok)
	require.Equal(t, b, key)
	require.Equal(t, "b", instanceID)

	// TryFreshGamesFirst prefers fewer real players even at higher ping.
	infos[a].CurrentPlayers = 2
	criteria.TryFreshGamesFirst = true
	key, _, ok = pickCandidate(criteria, candidates, infos)
	require.True(t, ok)
	require.Equal(t, a, key)
}

func TestPickCandidateFiltersByCriteria(t *testing.T) {
	criteria := model.MatchSearchCriteria{MaxPing: 50, MinPlayers: 5, MaxPlayersOnServer: -1}
	a := model.ServerKey{IP: "10.0.0.1", Port: 1}
	candidates := []model.ServerPing{{Server: a, PingMs: 999, InstanceID: "a"}}
	infos := map[model.ServerKey]*model.ServerInfo{a: {MaxClients: 16, CurrentPlayers: 10}}

	_, _, ok := pickCandidate(criteria, candidates, infos)
	require.False(t, ok, "ping over MaxPing must be excluded")
}

// fakeClient + fakeRegistry mirror the queueing package's test doubles,
// kept local since matchmaking only needs MatchmakingFailed.
type fakeClient struct {
	id              string
	failedReasons   []string
}

func (c *fakeClient) ID() string { return c.id }
func (c *fakeClient) NotifyJoin(ctx context.Context, ip string, port uint16) (bool, error) {
	return true, nil
}
func (c *fakeClient) QueuePositionChanged(ctx context.Context, position, length int) error {
	return nil
}
func (c *fakeClient) RemovedFromQueue(ctx context.Context, reason model.DequeueReason) error {
	return nil
}
func (c *fakeClient) MatchFound(ctx context.Context, ip string, port uint16) error { return nil }
func (c *fakeClient) MatchmakingFailed(ctx context.Context, reason string) error {
	c.failedReasons = append(c.failedReasons, reason)
	return nil
}

type fakeRegistry struct {
	clients map[string]channel.Client
}

func (r *fakeRegistry) Get(id string) (channel.Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

func TestTickTimesOutPersistentNoMatch(t *testing.T) {
	client := &fakeClient{id: "c1"}
	channels := &fakeRegistry{clients: map[string]channel.Client{"c1": client}}

	cfg := config.Default()
	cfg.MatchmakingTimeout = 10 * time.Millisecond

	players := registry.NewPlayerRegistry()
	svc := &Service{
		cfg:      cfg,
		players:  players,
		channels: channels,
		prober:   probe.New(),
		clock:    time.Now,
		ctx:      context.Background(),
	}

	p, _ := players.GetOrAdd("p1", "c1", "Alice", time.Now())
	p.State = model.StateMatchmaking
	p.MatchmakingSince = time.Now().Add(-time.Second)
	c := model.MatchSearchCriteria{}
	p.Criteria = &c

	svc.tick()

	require.Equal(t, model.StateConnected, p.State)
	require.Len(t, client.failedReasons, 1)
	require.Equal(t, "no suitable server found", client.failedReasons[0])
}
