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

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(&auth.MockValidator{}, nil, &fakeMediaRouter{}, policy.NewTable(), 50*time.Millisecond, 50*time.Millisecond)
}

func drainAck(t *testing.T, s *Session) room.Ack {
	t.Helper()
	for {
		select {
		case v := <-s.Client.send:
			if ack, ok := v.(room.Ack); ok {
				return ack
			}
			// Skip unicast notifications (snapshots etc.) enqueued ahead of
			// the ack.
		default:
			t.Fatal("no ack was enqueued")
			return room.Ack{}
		}
	}
}

func TestUserKeyFromClaims_PrefersVerifiedEmail(t *testing.T) {
	claims := &auth.CustomClaims{Email: "a@example.com", EmailVerified: true}
	claims.Subject = "sub-123"
	assert.Equal(t, room.UserKey("a@example.com"), userKeyFromClaims(claims))
}

func TestUserKeyFromClaims_FallsBackToSubjectWhenUnverified(t *testing.T) {
	claims := &auth.CustomClaims{Email: "a@example.com", EmailVerified: false}
	claims.Subject = "sub-123"
	assert.Equal(t, room.UserKey("sub-123"), userKeyFromClaims(claims))
}

func TestNewSession_StartsAuthenticated(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{ClientId: "policy-a"}
	claims.Subject = "u1"
	s := newSession(hub, claims, "Alice")
	assert.Equal(t, StateAuthenticated, s.State)
	assert.Equal(t, room.DisplayName("Alice"), s.DisplayName)
	assert.Equal(t, "policy-a", s.ClientPolicyKey)
	assert.NotEmpty(t, s.ConnectionId)
}

func TestHandleMessage_NonJoinedNonJoinEventIsRejected(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	s.handleMessage(room.Message{Event: room.EventSendChat, RequestId: "r1"})
	ack := drainAck(t, s)
	assert.Equal(t, "NOT_READY", ack.Error)
}

func TestHandleMessage_GetRoomsAnsweredWithoutJoining(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	other := hub.getOrCreateRoom("room-9")
	other.Join(context.Background(), room.JoinRequest{UserKey: "host", ConnectionId: "c1", JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: newFakeClient()})

	s.handleMessage(room.Message{Event: room.EventGetRooms, RequestId: "gr1"})
	ack := drainAck(t, s)
	require.Empty(t, ack.Error)
	payload, ok := ack.Payload.(room.H)
	require.True(t, ok)
	rooms, ok := payload["rooms"].([]room.RoomSummary)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.RoomIdType("room-9"), rooms[0].RoomId)
	assert.Equal(t, 1, rooms[0].ParticipantCount)
}

func TestHandleMessage_JoinedForwardsToRoomDispatch(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	s.State = StateJoined
	s.Room = room.NewRoom("room-1", "room-1", &fakeMediaRouter{}, nil, policy.NewTable(), nil)
	s.Room.Join(context.Background(), room.JoinRequest{UserKey: s.UserKey, ConnectionId: s.ConnectionId, JoinMode: room.JoinModeMeeting, IsForcedHost: true, Client: s.Client})

	s.handleMessage(room.Message{Event: room.EventPing, RequestId: "r2"})
	ack := drainAck(t, s)
	assert.Empty(t, ack.Error)
}

func TestHandleJoin_RejectsWrongState(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")
	s.State = StateJoined

	ack := s.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1"}})
	assert.Equal(t, "NOT_READY", ack.Error)
}

func TestHandleJoin_RejectsMissingRoomId(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	ack := s.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{}})
	assert.Equal(t, "NOT_READY", ack.Error)
}

func TestHandleJoin_RejectsWhenDraining(t *testing.T) {
	hub := newTestHub(t)
	hub.Drain()
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	ack := s.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1"}})
	assert.Equal(t, "SERVER_DRAINING", ack.Error)
}

func TestHandleJoin_FirstJoinerBecomesHost(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	ack := s.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1"}})
	require.Empty(t, ack.Error)
	payload := ack.Payload.(room.H)
	assert.Equal(t, "joined", payload["status"])
	assert.Equal(t, StateJoined, s.State)
}

func TestHandleJoin_UpdatesDisplayNameFromPayload(t *testing.T) {
	hub := newTestHub(t)
	claims := &auth.CustomClaims{}
	claims.Subject = "u1"
	s := newTestSession(hub, claims, "Alice")

	s.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1", DisplayName: "Bob"}})
	assert.Equal(t, room.DisplayName("Bob"), s.DisplayName)
}

func TestHandleJoin_SecondJoinerWaits(t *testing.T) {
	hub := newTestHub(t)

	hostClaims := &auth.CustomClaims{}
	hostClaims.Subject = "host"
	hostSession := newTestSession(hub, hostClaims, "Host")
	ack := hostSession.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1"}})
	require.Empty(t, ack.Error)

	guestClaims := &auth.CustomClaims{}
	guestClaims.Subject = "guest"
	guestSession := newTestSession(hub, guestClaims, "Guest")
	ack2 := guestSession.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r2", Payload: joinRoomPayload{RoomId: "room-1"}})
	require.Empty(t, ack2.Error)
	payload := ack2.Payload.(room.H)
	assert.Equal(t, "waiting", payload["status"])
	assert.Equal(t, StateWaiting, guestSession.State)
}

func TestHandleJoin_MapsRoomErrorToWireCode(t *testing.T) {
	hub := newTestHub(t)

	hostClaims := &auth.CustomClaims{}
	hostClaims.Subject = "host"
	hostSession := newTestSession(hub, hostClaims, "Host")
	hostSession.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r1", Payload: joinRoomPayload{RoomId: "room-1"}})
	hostSession.Room.Dispatch(context.Background(), hostSession.ConnectionId, room.Message{Event: room.EventLockRoom, RequestId: "l1", Payload: room.H{"flag": true}})

	guestClaims := &auth.CustomClaims{}
	guestClaims.Subject = "guest"
	guestSession := newTestSession(hub, guestClaims, "Guest")
	ack := guestSession.handleJoin(context.Background(), room.Message{Event: room.EventJoinRoom, RequestId: "r2", Payload: joinRoomPayload{RoomId: "room-1"}})
	assert.Equal(t, "ROOM_LOCKED", ack.Error)
}
