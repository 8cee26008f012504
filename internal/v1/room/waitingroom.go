package room

import "context"

// handleAdmitUser resolves a waiting-room entry by admitting it. The pending
// connection re-issues joinRoom after receiving joinApproved; the approval
// is recorded so that re-issued join bypasses the waiting room instead of
// queueing again. If the connection already went away (disconnected, or a
// later session for the same user already joined), admitUser is a no-op.
func (r *Room) handleAdmitUser(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload targetUserPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	pj := r.removePendingLocked(payload.UserId)
	if pj == nil {
		return okAck(msg.RequestId, nil)
	}
	r.approvedUsers[payload.UserId] = true
	sendTo(pj.client, EventJoinApproved, H{"roomId": r.RoomId})
	return okAck(msg.RequestId, nil)
}

// handleRejectUser resolves a waiting-room entry by rejection.
func (r *Room) handleRejectUser(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload targetUserPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	pj := r.removePendingLocked(payload.UserId)
	if pj == nil {
		return okAck(msg.RequestId, nil)
	}
	sendTo(pj.client, EventJoinRejected, H{})
	return okAck(msg.RequestId, nil)
}

// DisconnectPending removes a pending (waiting-room) connection that
// disconnected before the host resolved it, notifying the host via
// pendingUserLeft. Returns true if the userKey was actually pending.
func (r *Room) DisconnectPending(ctx context.Context, userKey UserKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pj := r.removePendingLocked(userKey)
	if pj == nil {
		return false
	}
	r.broadcast(ctx, EventPendingUserLeft, H{"userId": userKey}, hostsOnly())
	return true
}

// IsPending reports whether userKey currently has an unresolved waiting-room
// entry (used by the Session state machine to route a disconnect to either
// DisconnectPending or the deferred grace teardown).
func (r *Room) IsPending(userKey UserKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pendingJoins[userKey]
	return ok
}

// PendingSnapshot lists current waiting-room entries for the host's
// pendingUsersSnapshot catch-up.
func (r *Room) PendingSnapshot() []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingSnapshotLocked()
}

func (r *Room) pendingSnapshotLocked() []H {
	out := make([]H, 0, r.pendingOrder.Len())
	for e := r.pendingOrder.Front(); e != nil; e = e.Next() {
		pj := e.Value.(*pendingJoin)
		out = append(out, H{"userId": pj.UserKey, "displayName": pj.DisplayName})
	}
	return out
}
