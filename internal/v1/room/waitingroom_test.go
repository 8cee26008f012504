package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitUser_NotifiesPendingClientAndClearsQueue(t *testing.T) {
	r, _ := newTestRoom(t)
	joinHost(t, r, "conn-1")

	pendingClient := newFakeClient()
	out := r.Join(context.Background(), JoinRequest{
		UserKey: "u2", ConnectionId: "conn-2", DisplayName: "Guest", JoinMode: JoinModeMeeting, Client: pendingClient,
	})
	require.True(t, out.Waiting)
	assert.True(t, pendingClient.hasEvent(EventWaitingRoomStatus))
	assert.Len(t, r.PendingSnapshot(), 1)

	ack := r.Dispatch(context.Background(), "conn-1", Message{
		Event: EventAdmitUser, RequestId: "a1", Payload: targetUserPayload{UserId: "u2"},
	})
	require.Empty(t, ack.Error)
	assert.True(t, pendingClient.hasEvent(EventJoinApproved))
	assert.Empty(t, r.PendingSnapshot())
}

func TestAdmitUser_ReissuedJoinIsAdmittedNotRequeued(t *testing.T) {
	r, _ := newTestRoom(t)
	hostClient, _ := joinHost(t, r, "conn-1")

	pendingClient := newFakeClient()
	out := r.Join(context.Background(), JoinRequest{
		UserKey: "u2", ConnectionId: "conn-2", DisplayName: "Guest", JoinMode: JoinModeMeeting, Client: pendingClient,
	})
	require.True(t, out.Waiting)

	ack := r.Dispatch(context.Background(), "conn-1", Message{
		Event: EventAdmitUser, RequestId: "a1", Payload: targetUserPayload{UserId: "u2"},
	})
	require.Empty(t, ack.Error)
	require.True(t, pendingClient.hasEvent(EventJoinApproved))

	// The approved client re-issues joinRoom; the waiting-room policy still
	// applies to everyone else but this join carries the approval.
	rejoin := r.Join(context.Background(), JoinRequest{
		UserKey: "u2", ConnectionId: "conn-2", DisplayName: "Guest", JoinMode: JoinModeMeeting, Client: pendingClient,
	})
	require.True(t, rejoin.Admitted, "an approved join must be admitted, not re-queued")
	assert.Equal(t, RoleTypeParticipant, rejoin.Role)
	assert.False(t, r.IsPending("u2"))
	assert.True(t, hostClient.hasEvent(EventUserJoined))

	// The approval is single-use.
	r.mu.RLock()
	assert.Empty(t, r.approvedUsers)
	r.mu.RUnlock()
}

func TestRejectUser_NotifiesAndRemoves(t *testing.T) {
	r, _ := newTestRoom(t)
	joinHost(t, r, "conn-1")

	pendingClient := newFakeClient()
	r.Join(context.Background(), JoinRequest{
		UserKey: "u2", ConnectionId: "conn-2", JoinMode: JoinModeMeeting, Client: pendingClient,
	})

	ack := r.Dispatch(context.Background(), "conn-1", Message{
		Event: EventRejectUser, RequestId: "r1", Payload: targetUserPayload{UserId: "u2"},
	})
	require.Empty(t, ack.Error)
	assert.True(t, pendingClient.hasEvent(EventJoinRejected))
	assert.False(t, r.IsPending("u2"))
}

func TestAdmitUser_ForbiddenForNonHost(t *testing.T) {
	r, _ := newTestRoom(t)
	joinHost(t, r, "conn-1")
	pendingClient := newFakeClient()
	r.Join(context.Background(), JoinRequest{UserKey: "u2", ConnectionId: "conn-2", JoinMode: JoinModeMeeting, Client: pendingClient})

	guestClient := newFakeClient()
	r.Join(context.Background(), JoinRequest{UserKey: "u3", ConnectionId: "conn-3", JoinMode: JoinModeMeeting, IsForcedHost: true, Client: guestClient})
	r.mu.Lock()
	r.participants["conn-3"].Role = RoleTypeParticipant
	r.mu.Unlock()

	ack := r.Dispatch(context.Background(), "conn-3", Message{
		Event: EventAdmitUser, RequestId: "a1", Payload: targetUserPayload{UserId: "u2"},
	})
	assert.Equal(t, "FORBIDDEN", ack.Error)
}

func TestAdmitUser_NoOpWhenAlreadyGone(t *testing.T) {
	r, _ := newTestRoom(t)
	joinHost(t, r, "conn-1")

	ack := r.Dispatch(context.Background(), "conn-1", Message{
		Event: EventAdmitUser, RequestId: "a1", Payload: targetUserPayload{UserId: "ghost-user"},
	})
	assert.Empty(t, ack.Error)
}

func TestDisconnectPending_NotifiesHost(t *testing.T) {
	r, _ := newTestRoom(t)
	hostClient, _ := joinHost(t, r, "conn-1")

	pendingClient := newFakeClient()
	r.Join(context.Background(), JoinRequest{UserKey: "u2", ConnectionId: "conn-2", JoinMode: JoinModeMeeting, Client: pendingClient})

	ok := r.DisconnectPending(context.Background(), "u2")
	assert.True(t, ok)
	assert.True(t, hostClient.hasEvent(EventPendingUserLeft))
	assert.False(t, r.IsPending("u2"))

	assert.False(t, r.DisconnectPending(context.Background(), "nonexistent"))
}
