package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcadequeue/matchqueue/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// outboundFrame wraps an envelope queued for writePump. final marks a
// frame that should be followed by a close handshake once written —
// used to deliver a last error message before disconnecting a client
// without racing writePump's exclusive ownership of the connection.
type outboundFrame struct {
	env   envelope
	final bool
}

// Client is one live WebSocket connection, the concrete implementation
// of channel.Client for this transport. Every push method enqueues onto
// send and returns once the frame is queued (or, for NotifyJoin, once a
// correlated reply arrives or ctx expires).
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan outboundFrame
	server *Server

	player *model.Player // set once hello completes; nil until then

	pendingMu sync.Mutex
	pending   map[string]chan bool
}

func newClient(id string, conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan outboundFrame, sendBuffer),
		server:  server,
		pending: make(map[string]chan bool),
	}
}

// ID implements channel.Client.
func (c *Client) ID() string { return c.id }

// NotifyJoin implements channel.Client: pushes a notifyJoin frame and
// blocks for the correlated notifyJoinResult reply, or ctx expiry.
func (c *Client) NotifyJoin(ctx context.Context, ip string, port uint16) (bool, error) {
	reqID := c.id + "-" + fmt.Sprintf("%d", time.Now().UnixNano())
	reply := make(chan bool, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(notifyJoinData{IP: ip, Port: port})
	if err != nil {
		return false, fmt.Errorf("marshal notifyJoin: %w", err)
	}
	if err := c.enqueue(envelope{Type: msgNotifyJoin, RequestID: reqID, Data: data}); err != nil {
		return false, err
	}

	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolveNotifyJoinReply is called from readPump on a notifyJoinResult
// frame to unblock the NotifyJoin call waiting on requestID, if any.
func (c *Client) resolveNotifyJoinReply(requestID string, ok bool) {
	c.pendingMu.Lock()
	reply, found := c.pending[requestID]
	c.pendingMu.Unlock()
	if found {
		reply <- ok
	}
}

// QueuePositionChanged implements channel.Client.
func (c *Client) QueuePositionChanged(ctx context.Context, position, length int) error {
	data, err := json.Marshal(queuePositionChangedData{Position: position, Length: length})
	if err != nil {
		return fmt.Errorf("marshal queuePositionChanged: %w", err)
	}
	return c.enqueue(envelope{Type: msgQueuePositionChanged, Data: data})
}

// RemovedFromQueue implements channel.Client.
func (c *Client) RemovedFromQueue(ctx context.Context, reason model.DequeueReason) error {
	data, err := json.Marshal(removedFromQueueData{Reason: reason.String()})
	if err != nil {
		return fmt.Errorf("marshal removedFromQueue: %w", err)
	}
	return c.enqueue(envelope{Type: msgRemovedFromQueue, Data: data})
}

// MatchFound implements channel.Client.
func (c *Client) MatchFound(ctx context.Context, ip string, port uint16) error {
	data, err := json.Marshal(notifyJoinData{IP: ip, Port: port})
	if err != nil {
		return fmt.Errorf("marshal matchFound: %w", err)
	}
	return c.enqueue(envelope{Type: msgMatchFound, Data: data})
}

// MatchmakingFailed implements channel.Client.
func (c *Client) MatchmakingFailed(ctx context.Context, reason string) error {
	data, err := json.Marshal(matchmakingFailedData{Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal matchmakingFailed: %w", err)
	}
	return c.enqueue(envelope{Type: msgMatchmakingFailed, Data: data})
}

// enqueue queues env for writePump, without blocking indefinitely on a
// slow or dead client.
func (c *Client) enqueue(env envelope) error {
	select {
	case c.send <- outboundFrame{env: env}:
		return nil
	default:
		return fmt.Errorf("client %s: send buffer full", c.id)
	}
}

// enqueueFinal queues env as the last frame on this connection: once
// writePump writes it, the connection is closed.
func (c *Client) enqueueFinal(env envelope) error {
	select {
	case c.send <- outboundFrame{env: env, final: true}:
		return nil
	default:
		return fmt.Errorf("client %s: send buffer full", c.id)
	}
}

// readPump reads frames off the connection until it errors or closes,
// dispatching each to the Server's handlers. Grounded on the reference
// pack's websocket read-loop idiom (set read deadline, refresh on pong,
// break the loop on any read error).
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("ws: read error", "client", c.id, "err", err)
			}
			return
		}
		c.server.dispatch(c, env)
	}
}

// writePump drains send to the connection and keeps it alive with
// periodic pings, mirroring the reference pack's writePump idiom.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame.env); err != nil {
				return
			}
			if frame.final {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
