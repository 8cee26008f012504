package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/room"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWsUserLimiter struct {
	err error
}

func (f *fakeWsUserLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	return f.err
}

func TestServeWs_RejectsWhenUserRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub(t)
	hub.SetRateLimiter(&fakeWsUserLimiter{err: errors.New("rate limit exceeded for user")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/ws/room/room-1?token=valid", nil)
	c.Params = gin.Params{{Key: "roomId", Value: "room-1"}}

	hub.ServeWs(c)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestGetOrCreateRoom_ReturnsSameInstanceOnReuse(t *testing.T) {
	hub := newTestHub(t)
	r1 := hub.getOrCreateRoom("room-1")
	r2 := hub.getOrCreateRoom("room-1")
	assert.Same(t, r1, r2)
}

func TestGetOrCreateRoom_CancelsPendingCleanupOnReuse(t *testing.T) {
	hub := newTestHub(t)
	r := hub.getOrCreateRoom("room-1")
	hub.scheduleRoomCleanup("room-1")

	hub.mu.Lock()
	_, pending := hub.pendingRoomCleanups["room-1"]
	hub.mu.Unlock()
	require.True(t, pending)

	again := hub.getOrCreateRoom("room-1")
	assert.Same(t, r, again)

	hub.mu.Lock()
	_, stillPending := hub.pendingRoomCleanups["room-1"]
	hub.mu.Unlock()
	assert.False(t, stillPending)
}

func TestScheduleRoomCleanup_RemovesEmptyRoomAfterTTL(t *testing.T) {
	hub := newTestHub(t)
	hub.getOrCreateRoom("room-1")
	hub.scheduleRoomCleanup("room-1")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.rooms["room-1"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleRoomCleanup_KeepsRoomIfNoLongerEmpty(t *testing.T) {
	hub := newTestHub(t)
	r := hub.getOrCreateRoom("room-1")
	hub.scheduleRoomCleanup("room-1")

	r.Join(context.Background(), room.JoinRequest{UserKey: "u1", ConnectionId: "c1", JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: newFakeClient()})

	time.Sleep(100 * time.Millisecond)
	hub.mu.Lock()
	_, ok := hub.rooms["room-1"]
	hub.mu.Unlock()
	assert.True(t, ok, "room with a live participant must survive the TTL sweep")
}

func TestDrain_SetsFlag(t *testing.T) {
	hub := newTestHub(t)
	assert.False(t, hub.draining.Load())
	hub.Drain()
	assert.True(t, hub.draining.Load())
}

func TestBroadcastServerRestarting_ReachesEveryRoom(t *testing.T) {
	hub := newTestHub(t)
	r := hub.getOrCreateRoom("room-1")
	client := newFakeClient()
	r.Join(context.Background(), room.JoinRequest{UserKey: "u1", ConnectionId: "c1", JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: client})

	hub.BroadcastServerRestarting(context.Background())
	assert.True(t, client.hasEvent(room.EventServerRestarting))
}
