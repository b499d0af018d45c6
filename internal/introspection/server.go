// Package introspection implements the read-only operator HTTP API from
// spec §4.8: a listing of every GameServer and its queue, filterable by
// processing state, plus the liveness endpoint a deployable service
// carries regardless of the spec's Non-goals around external surfaces.
package introspection

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/registry"
)

// Server exposes the introspection HTTP API over the GameServerRegistry.
type Server struct {
	servers *registry.GameServerRegistry
	mux     *http.ServeMux
	clock   func() time.Time
}

// New builds a Server wired to the given registry.
func New(servers *registry.GameServerRegistry) *Server {
	s := &Server{servers: servers, clock: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/queues", s.handleServers)
	s.mux = mux
	return s
}

// ServeHTTP lets Server be used directly as an http.Handler (e.g. behind
// http.ListenAndServe or httptest.NewServer).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serverView and playerView are the JSON shapes from spec §4.8, plus the
// SPEC_FULL `?server=` filter added alongside the existing `state=` one.
type serverView struct {
	IP              string        `json:"ip"`
	Port            uint16        `json:"port"`
	InstanceID      string        `json:"instanceId"`
	ProcessingState string        `json:"processingState"`
	LastServerInfo  *infoView     `json:"lastServerInfo,omitempty"`
	SpawnDate       time.Time     `json:"spawnDate"`
	Players         []playerView  `json:"players"`
}

type infoView struct {
	HostName       string `json:"hostName"`
	MapName        string `json:"mapName"`
	GameType       string `json:"gameType"`
	CurrentPlayers int    `json:"currentPlayers"`
	Bots           int    `json:"bots"`
	MaxClients     int    `json:"maxClients"`
	IsPrivate      bool   `json:"isPrivate"`
	Ping           int    `json:"ping"`
}

type playerView struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	JoinAttempts int       `json:"joinAttempts"`
	QueueTime    float64   `json:"queueTimeSeconds"`
}

// handleServers implements spec §6's `GET /queues`: list every GameServer,
// filterable by `?state=` (processingState) and, per SPEC_FULL, by
// `?server=ip:port`.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	stateFilter := strings.ToUpper(r.URL.Query().Get("state"))
	serverFilter := r.URL.Query().Get("server")

	now := s.clock()
	views := make([]serverView, 0)
	for _, gs := range s.servers.Snapshot() {
		gs.Mu.Lock()
		state := gs.State
		info := gs.LastServerInfo
		gs.Mu.Unlock()

		if stateFilter != "" && !strings.EqualFold(state.String(), stateFilter) {
			continue
		}
		if serverFilter != "" && serverFilter != serverAddr(gs.Key) {
			continue
		}

		view := serverView{
			IP:              gs.Key.IP,
			Port:            gs.Key.Port,
			InstanceID:      gs.InstanceID,
			ProcessingState: state.String(),
			SpawnDate:       gs.SpawnDate(),
			Players:         make([]playerView, 0),
		}
		if info != nil {
			view.LastServerInfo = &infoView{
				HostName:       info.HostName,
				MapName:        info.MapName,
				GameType:       info.GameType,
				CurrentPlayers: info.CurrentPlayers,
				Bots:           info.Bots,
				MaxClients:     info.MaxClients,
				IsPrivate:      info.IsPrivate,
				Ping:           info.Ping,
			}
		}

		for _, node := range gs.Queue.Snapshot() {
			p := node.Value()
			p.Mu.Lock()
			view.Players = append(view.Players, playerView{
				Name:         p.DisplayName,
				State:        p.State.String(),
				JoinAttempts: len(p.JoinAttempts),
				QueueTime:    now.Sub(p.QueuedAt).Seconds(),
			})
			p.Mu.Unlock()
		}

		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		slog.Error("introspection: encode response failed", "err", err)
	}
}

func serverAddr(key model.ServerKey) string {
	return key.IP + ":" + strconv.Itoa(int(key.Port))
}
