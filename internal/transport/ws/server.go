// Package ws is the concrete Client Channel transport (spec §6): a
// WebSocket connection per authenticated client session, implementing
// channel.Client and channel.Registry. Grounded on the reference pack's
// plain net/http + gorilla/websocket serving style (no router
// framework), adapted from a broadcast game-state pusher to a typed
// request/reply push protocol.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arcadequeue/matchqueue/internal/channel"
	"github.com/arcadequeue/matchqueue/internal/errkind"
	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/arcadequeue/matchqueue/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers are the core operations a client's messages are dispatched
// to. Kept as plain funcs rather than importing the queueing/matchmaking
// packages directly, so this transport has no compile-time dependency on
// the services it drives — cmd/matchqueue-server wires the two
// together.
type Handlers struct {
	JoinQueue               func(player *model.Player, key model.ServerKey, instanceID string) bool
	LeaveQueue              func(player *model.Player)
	OnJoinAck               func(player *model.Player, success bool)
	Disconnect              func(player *model.Player)
	EnterMatchmaking        func(player *model.Player, criteria model.MatchSearchCriteria, preferred []model.ServerPing) bool
	UpdateSearchPreferences func(player *model.Player, criteria model.MatchSearchCriteria, preferred []model.ServerPing) bool
	LeaveMatchmaking        func(player *model.Player)
}

// Server accepts WebSocket connections and resolves them by
// ClientChannelID, implementing channel.Registry.
type Server struct {
	players  *registry.PlayerRegistry
	handlers Handlers
	clock    func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
}

// New builds a Server bound to players and handlers.
func New(players *registry.PlayerRegistry, handlers Handlers) *Server {
	return &Server{
		players:  players,
		handlers: handlers,
		clock:    time.Now,
		clients:  make(map[string]*Client),
	}
}

// SetHandlers replaces the bound Handlers. Intended to be called once
// during wiring, before ServeHTTP starts accepting connections — the
// Queueing/Matchmaking services are constructed after the transport so
// each can reference the other without an import cycle.
func (s *Server) SetHandlers(handlers Handlers) {
	s.handlers = handlers
}

// Get implements channel.Registry.
func (s *Server) Get(clientChannelID string) (channel.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientChannelID]
	if !ok {
		return nil, false
	}
	return c, true
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	if c.player != nil && s.handlers.Disconnect != nil {
		s.handlers.Disconnect(c.player)
		s.players.TryRemove(c.player.StableID, c.id)
	}
}

// ServeHTTP upgrades the request to a WebSocket and starts the
// connection's read/write pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	client := newClient(id, conn, s)
	s.register(client)

	go client.writePump()
	go client.readPump()
}

// dispatch routes one inbound envelope from c to the bound handler.
func (s *Server) dispatch(c *Client, env envelope) {
	switch env.Type {
	case msgHello:
		s.handleHello(c, env)
	case msgJoinQueue:
		s.handleJoinQueue(c, env)
	case msgLeaveQueue:
		if c.player != nil {
			s.handlers.LeaveQueue(c.player)
		}
	case msgJoinAck:
		s.handleJoinAck(c, env)
	case msgSearchMatch:
		s.handleSearchMatch(c, env)
	case msgUpdateSearchPreferences:
		s.handleUpdateSearchPreferences(c, env)
	case msgLeaveMatchmaking:
		if c.player != nil {
			s.handlers.LeaveMatchmaking(c.player)
		}
	case msgNotifyJoinResult:
		s.handleNotifyJoinResult(c, env)
	default:
		slog.Warn("ws: unknown message type", "client", c.id, "type", env.Type)
	}
}

func (s *Server) handleHello(c *Client, env envelope) {
	var data helloData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(c, "malformed hello")
		return
	}
	player, ok := s.players.GetOrAdd(data.StableID, c.id, data.DisplayName, s.clock())
	if !ok {
		slog.Warn("ws: rejecting duplicate session", "client", c.id, "stableId", data.StableID, "err", errkind.ClientProtocolViolation)
		errData, _ := json.Marshal(errorData{Message: errkind.ClientProtocolViolation.Error()})
		_ = c.enqueueFinal(envelope{Type: msgError, Data: errData})
		return
	}
	c.player = player
}

func (s *Server) handleJoinQueue(c *Client, env envelope) {
	if c.player == nil {
		s.sendError(c, "hello required before joinQueue")
		return
	}
	var data joinQueueData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(c, "malformed joinQueue")
		return
	}
	key := model.ServerKey{IP: data.IP, Port: data.Port}
	ok := s.handlers.JoinQueue(c.player, key, data.InstanceID)
	s.reply(c, msgJoinQueueResult, env.RequestID, boolResultData{OK: ok})
}

func (s *Server) handleJoinAck(c *Client, env envelope) {
	if c.player == nil {
		return
	}
	var data joinAckData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(c, "malformed joinAck")
		return
	}
	s.handlers.OnJoinAck(c.player, data.Success)
}

func (s *Server) handleSearchMatch(c *Client, env envelope) {
	if c.player == nil {
		s.sendError(c, "hello required before searchMatch")
		return
	}
	var data searchMatchData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(c, "malformed searchMatch")
		return
	}
	criteria, preferred := decodeSearchMatch(data)
	ok := s.handlers.EnterMatchmaking(c.player, criteria, preferred)
	s.reply(c, msgSearchMatchResult, env.RequestID, boolResultData{OK: ok})
}

func (s *Server) handleUpdateSearchPreferences(c *Client, env envelope) {
	if c.player == nil {
		return
	}
	var data searchMatchData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.sendError(c, "malformed updateSearchPreferences")
		return
	}
	criteria, preferred := decodeSearchMatch(data)
	ok := s.handlers.UpdateSearchPreferences(c.player, criteria, preferred)
	s.reply(c, msgSearchMatchResult, env.RequestID, boolResultData{OK: ok})
}

func (s *Server) handleNotifyJoinResult(c *Client, env envelope) {
	var data boolResultData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return
	}
	c.resolveNotifyJoinReply(env.RequestID, data.OK)
}

func decodeSearchMatch(data searchMatchData) (model.MatchSearchCriteria, []model.ServerPing) {
	criteria := model.MatchSearchCriteria{
		MaxPing:            data.MaxPing,
		MinPlayers:         data.MinPlayers,
		MaxScore:           data.MaxScore,
		MaxPlayersOnServer: data.MaxPlayersOnServer,
		TryFreshGamesFirst: data.TryFreshGamesFirst,
	}
	preferred := make([]model.ServerPing, 0, len(data.PreferredServers))
	for _, sp := range data.PreferredServers {
		preferred = append(preferred, model.ServerPing{
			Server:     model.ServerKey{IP: sp.IP, Port: sp.Port},
			PingMs:     sp.PingMs,
			InstanceID: sp.InstanceID,
		})
	}
	return criteria, preferred
}

func (s *Server) reply(c *Client, msgType, requestID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("ws: marshal reply failed", "client", c.id, "type", msgType, "err", err)
		return
	}
	if err := c.enqueue(envelope{Type: msgType, RequestID: requestID, Data: data}); err != nil {
		slog.Warn("ws: reply enqueue failed", "client", c.id, "err", err)
	}
}

func (s *Server) sendError(c *Client, message string) {
	data, err := json.Marshal(errorData{Message: message})
	if err != nil {
		return
	}
	_ = c.enqueue(envelope{Type: msgError, Data: data})
}
