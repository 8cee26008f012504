package session

import (
	"context"
	"testing"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/policy"
	"github.com/nimeshas/conclave-sub002/internal/v1/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinedTestSession(t *testing.T, hub *Hub, r *room.Room, subject, connID string, forceHost bool) *Session {
	t.Helper()
	claims := &auth.CustomClaims{SessionId: subject + "-sess"}
	claims.Subject = subject
	s := newTestSession(hub, claims, subject)
	out := r.Join(context.Background(), room.JoinRequest{
		UserKey: room.UserKey(subject), ConnectionId: room.ConnectionId(connID),
		JoinMode: room.JoinModeMeeting, IsForcedHost: forceHost, Client: s.Client,
	})
	require.True(t, out.Admitted || out.Waiting)
	s.ConnectionId = room.ConnectionId(connID)
	s.Room = r
	if out.Admitted {
		s.State = StateJoined
		hub.registerJoined(s)
	} else {
		s.State = StateWaiting
	}
	return s
}

func TestRegisterJoined_NoOpWithoutSessionIdClaim(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "u1")
	hub.registerJoined(s)

	hub.reconnectMu.Lock()
	defer hub.reconnectMu.Unlock()
	assert.Empty(t, hub.reconnects)
}

func TestRegisterJoined_StoresPendingEntry(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	s := joinedTestSession(t, hub, r, "host", "c1", true)

	hub.reconnectMu.Lock()
	_, ok := hub.reconnects[s.Claims.SessionId]
	hub.reconnectMu.Unlock()
	assert.True(t, ok)
}

func TestReattachIfPending_FalseWhenNothingPending(t *testing.T) {
	hub := newTestHub(t)
	target := newTestSession(hub, &auth.CustomClaims{}, "u1")
	assert.False(t, hub.reattachIfPending("nonexistent", target))
}

func TestReattachIfPending_RepointsRoomAndCopiesState(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	original := joinedTestSession(t, hub, r, "host", "c1", true)

	reconnectClaims := &auth.CustomClaims{SessionId: original.Claims.SessionId}
	reconnectClaims.Subject = "host"
	target := newTestSession(hub, reconnectClaims, "host")

	ok := hub.reattachIfPending(original.Claims.SessionId, target)
	require.True(t, ok)
	assert.Equal(t, original.ConnectionId, target.ConnectionId)
	assert.Equal(t, StateJoined, target.State)
	assert.Same(t, r, target.Room)
}

func TestHandleClientGone_WaitingNotifiesHostsAndClearsQueue(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	hostClient := newFakeClient()
	r.Join(context.Background(), room.JoinRequest{UserKey: "host", ConnectionId: "h1", JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: hostClient})

	waiter := joinedTestSession(t, hub, r, "guest", "g1", false)
	require.Equal(t, StateWaiting, waiter.State)

	hub.handleClientGone(waiter)
	assert.True(t, hostClient.hasEvent(room.EventPendingUserLeft))
}

func TestHandleClientGone_JoinedEntersReconnectingAndArmsTeardown(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	s := joinedTestSession(t, hub, r, "host", "c1", true)

	hub.handleClientGone(s)
	assert.Equal(t, StateReconnecting, s.State)
	assert.Equal(t, 1, r.ParticipantCount(), "teardown is deferred, not immediate")
}

func TestScheduleTeardown_ImmediateWithoutSessionIdClaim(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	claims := &auth.CustomClaims{}
	claims.Subject = "host"
	s := newTestSession(hub, claims, "host")
	r.Join(context.Background(), room.JoinRequest{UserKey: "host", ConnectionId: "c1", JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: s.Client})
	s.ConnectionId = "c1"
	s.Room = r
	s.State = StateJoined

	hub.scheduleTeardown(s)
	assert.Equal(t, 0, r.ParticipantCount())
}

func TestScheduleTeardown_TearsDownAfterGraceWhenNotReattached(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	s := joinedTestSession(t, hub, r, "host", "c1", true)

	hub.scheduleTeardown(s)
	require.Eventually(t, func() bool {
		return r.ParticipantCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleTeardown_SkippedWhenReattachedBeforeGraceExpires(t *testing.T) {
	hub := newTestHub(t)
	r := room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	s := joinedTestSession(t, hub, r, "host", "c1", true)

	hub.scheduleTeardown(s)

	reconnectClaims := &auth.CustomClaims{SessionId: s.Claims.SessionId}
	reconnectClaims.Subject = "host"
	target := newTestSession(hub, reconnectClaims, "host")
	ok := hub.reattachIfPending(s.Claims.SessionId, target)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.ParticipantCount(), "a timely reattach must cancel the deferred teardown")
}
