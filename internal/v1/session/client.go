// Package session owns the per-connection state machine and the server
// shell around it: one Session per WebSocket connection, driving it from
// handshake through Joined to Closed, and the Hub that owns the global room
// registry, disconnect-grace reconnection, and drain.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
	"github.com/nimeshas/conclave-sub002/internal/v1/room"

	"github.com/gorilla/websocket"
)

// wsConnection is the subset of *websocket.Conn the Client needs; narrowed
// to ease testing with a fake transport.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Client owns one WebSocket connection's read/write goroutines. It
// implements room.clientHandle so a Participant can address it directly
// without the room package importing this one.
type Client struct {
	conn    wsConnection
	send    chan any // room.Message (broadcast) or room.Ack (request response)
	session *Session

	disconnect sync.Once
}

func newClient(conn wsConnection, s *Session) *Client {
	c := &Client{conn: conn, send: make(chan any, sendBuffer), session: s}
	return c
}

// Send implements room.clientHandle: enqueues a broadcast for delivery by
// writePump. The send is non-blocking with a bounded channel; a slow
// consumer drops messages rather than stalling the room's single-writer
// executor.
func (c *Client) Send(msg room.Message) {
	c.enqueue(msg, "event", string(msg.Event))
}

// sendAck enqueues a request/response ack, the reply half of the envelope
// Send handles for fire-and-forget broadcasts.
func (c *Client) sendAck(ack room.Ack) {
	c.enqueue(ack, "requestId", ack.RequestId)
}

func (c *Client) enqueue(v any, logKey, logVal string) {
	select {
	case c.send <- v:
	default:
		slog.Warn("client send buffer full, dropping message", logKey, logVal, "connectionId", c.session.ConnectionId)
	}
}

// Disconnect implements room.clientHandle: closes the underlying socket,
// which unblocks readPump and triggers the normal disconnect path.
func (c *Client) Disconnect() {
	c.disconnect.Do(func() {
		_ = c.conn.Close()
	})
}

// readPump decodes inbound JSON frames and hands them to the Session. Runs
// until the connection errors or is closed, then drives Session teardown.
func (c *Client) readPump(hub *Hub) {
	defer func() {
		close(c.send)
		hub.handleClientGone(c.session)
		metrics.ActiveWebSocketConnections.Dec()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg room.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("failed to decode inbound message", "connectionId", c.session.ConnectionId, "error", err)
			continue
		}

		c.session.handleMessage(msg)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Error("failed to encode outbound message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
