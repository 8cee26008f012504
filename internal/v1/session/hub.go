package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/apperr"
	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
	"github.com/nimeshas/conclave-sub002/internal/v1/policy"
	"github.com/nimeshas/conclave-sub002/internal/v1/room"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub is the server shell's global room registry: it accepts WebSocket
// upgrades, authenticates them, and routes each connection to its Room,
// creating rooms on first join and reaping them once empty past TTL.
type Hub struct {
	mu                  sync.Mutex
	rooms               map[room.RoomIdType]*room.Room
	pendingRoomCleanups map[room.RoomIdType]*time.Timer

	validator   types.TokenValidator
	bus         types.BusService
	mediaRouter types.MediaRouterProvider
	policies    *policy.Table

	disconnectGrace time.Duration
	roomEmptyTTL    time.Duration

	draining atomic.Bool

	reconnectMu sync.Mutex
	reconnects  map[string]*pendingReconnect // keyed by claims.SessionId

	rateLimiter wsUserLimiter
}

// wsUserLimiter is the per-user WebSocket connection limit check
// (*ratelimit.RateLimiter satisfies it); kept as a narrow interface here so
// this package doesn't need to import ratelimit just to wire it in.
type wsUserLimiter interface {
	CheckWebSocketUser(ctx context.Context, userID string) error
}

type pendingReconnect struct {
	session *Session
	timer   *time.Timer
}

// NewHub wires a Hub from its component dependencies.
func NewHub(validator types.TokenValidator, bus types.BusService, mediaRouter types.MediaRouterProvider, policies *policy.Table, disconnectGrace, roomEmptyTTL time.Duration) *Hub {
	return &Hub{
		rooms:               make(map[room.RoomIdType]*room.Room),
		pendingRoomCleanups: make(map[room.RoomIdType]*time.Timer),
		validator:           validator,
		bus:                 bus,
		mediaRouter:         mediaRouter,
		policies:            policies,
		disconnectGrace:     disconnectGrace,
		roomEmptyTTL:        roomEmptyTTL,
		reconnects:          make(map[string]*pendingReconnect),
	}
}

// SetRateLimiter wires the per-user WebSocket connection limit checked once
// a connection's token has been validated.
func (h *Hub) SetRateLimiter(rl wsUserLimiter) {
	h.rateLimiter = rl
}

// Drain sets the global drain flag: new joins are refused with
// SERVER_DRAINING while existing rooms keep functioning.
func (h *Hub) Drain() {
	h.draining.Store(true)
}

// Rooms returns a redacted summary of every currently active room, backing
// the getRooms request. Unlike room-scoped requests this needs no membership
// in any particular room, so the Session answers it directly rather than
// dispatching into a Room.
func (h *Hub) Rooms() []room.RoomSummary {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	out := make([]room.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}

// BroadcastServerRestarting notifies every room's members that the process
// is shutting down, so clients can reconnect elsewhere.
func (h *Hub) BroadcastServerRestarting(ctx context.Context) {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Announce(ctx, room.EventServerRestarting, room.H{})
	}
}

// ServeWs authenticates the connection and upgrades it to a WebSocket,
// handing off to a fresh Session/Client pair.
func (h *Hub) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperr.CodeUnauthenticated)})
		return
	}

	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperr.CodeUnauthenticated)})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocketUser(c.Request.Context(), string(userKeyFromClaims(claims))); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		}
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range allowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}

	displayName := c.Query("username")
	if displayName == "" {
		displayName = claims.Name
		if displayName == "" {
			displayName = claims.Subject
		}
	}

	s := newSession(h, claims, displayName)
	client := newClient(conn, s)
	s.Client = client

	metrics.ActiveWebSocketConnections.Inc()

	go client.writePump()
	go client.readPump(h)
}

// getOrCreateRoom returns the Room for roomId, creating it on first access.
// channelId is derived from roomId directly; no remapping layer exists yet.
func (h *Hub) getOrCreateRoom(roomId room.RoomIdType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomId]; ok {
		if timer, pending := h.pendingRoomCleanups[roomId]; pending {
			timer.Stop()
			delete(h.pendingRoomCleanups, roomId)
		}
		return r
	}

	r := room.NewRoom(roomId, room.ChannelId(roomId), h.mediaRouter, h.bus, h.policies, h.scheduleRoomCleanup)
	h.rooms[roomId] = r
	metrics.ActiveRooms.Inc()
	return r
}

// scheduleRoomCleanup is the onEmpty callback passed to every Room: it waits
// roomEmptyTTL and deletes the room if it is still empty.
func (h *Hub) scheduleRoomCleanup(roomId room.RoomIdType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.pendingRoomCleanups[roomId]; ok {
		existing.Stop()
	}

	h.pendingRoomCleanups[roomId] = time.AfterFunc(h.roomEmptyTTL, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		r, ok := h.rooms[roomId]
		if !ok {
			return
		}
		if r.IsEmpty() && r.EmptyElapsed(h.roomEmptyTTL) {
			delete(h.rooms, roomId)
			delete(h.pendingRoomCleanups, roomId)
			metrics.ActiveRooms.Dec()
			metrics.RoomParticipants.DeleteLabelValues(string(roomId))
			slog.Info("removed empty room after TTL", "roomId", roomId)
		} else {
			delete(h.pendingRoomCleanups, roomId)
		}
	})
}
