package room

import (
	"context"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
)

// JoinRequest carries everything the Session gathers before asking the Room
// to admit a connection: claims the JWT validator already verified, plus the
// join-time choices the client made (meeting invite code, webinar invite
// code).
type JoinRequest struct {
	UserKey         UserKey
	ConnectionId    ConnectionId
	DisplayName     DisplayName
	JoinMode        JoinMode
	ClientPolicyKey string
	IsGhost         bool
	IsForcedHost    bool
	// IsHost mirrors the token's isHost/isAdmin claim (CustomClaims.IsHost());
	// distinct from IsForcedHost, which always wins regardless of policy.
	IsHost bool
	// HasVerifiedEmail mirrors CustomClaims.HasVerifiedEmail(), gating
	// noGuests.
	HasVerifiedEmail  bool
	AllowRoomCreation bool
	MeetingInviteCode string
	WebinarInviteCode string
	Client            clientHandle
}

// JoinOutcome tells the Session state machine whether the connection was
// admitted immediately, placed in the waiting room, or rejected outright.
type JoinOutcome struct {
	Admitted bool
	Waiting  bool
	Role     RoleType
	Err      error

	// Snapshot fields, populated only when Admitted: everything the joinRoom
	// ack needs to hand the client, gathered under the same lock that
	// performed admission so the client never observes a state that changed
	// between admit and snapshot.
	HostUserKey              UserKey
	IsLocked                 bool
	MeetingRequiresInvite    bool
	IsTtsDisabled            bool
	WebinarRole              bool
	WebinarMaxAttendees      int
	WebinarAttendeeCount     int
	WebinarRequiresInvite    bool
	WebinarLocked            bool
	IsWebinarEnabled         bool
	ExistingProducers        []H
}

// Join runs the full admission protocol. Room lock and no-guests checks
// apply regardless of join mode; then webinar gating or meeting invite-code
// verification, host election in an empty room, and waiting-room enqueue for
// everyone else. It is the single entry point the Session calls once a
// connection is authenticated and requests to join.
func (r *Room) Join(ctx context.Context, req JoinRequest) JoinOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()

	if r.isLocked && !req.IsForcedHost {
		return JoinOutcome{Err: roomLocked()}
	}
	if r.noGuests && !req.IsForcedHost && !req.HasVerifiedEmail {
		return JoinOutcome{Err: noGuestsErr()}
	}

	if req.JoinMode == JoinModeWebinarAttendee {
		return r.joinWebinarLocked(ctx, req)
	}
	return r.joinMeetingLocked(ctx, req)
}

func (r *Room) joinMeetingLocked(ctx context.Context, req JoinRequest) JoinOutcome {
	if r.meetingInviteCode != "" && req.MeetingInviteCode != r.meetingInviteCode && !req.IsForcedHost {
		return JoinOutcome{Err: meetingInviteInvalid(req.MeetingInviteCode)}
	}

	pol := r.policies.Get(req.ClientPolicyKey)
	roomEmpty := len(r.participants) == 0 && len(r.pendingJoins) == 0
	// A token asserting host intent only carries weight when the client
	// policy allows host joins; IsForcedHost always wins.
	wantsHost := req.IsForcedHost || (req.IsHost && pol.AllowHostJoin)

	role := RoleTypeParticipant
	admitNow := true

	switch {
	case req.IsForcedHost:
		role = RoleTypeHost
	case roomEmpty && wantsHost:
		role = RoleTypeHost
	case roomEmpty && (pol.AllowNonHostRoomCreation || req.AllowRoomCreation):
		role = RoleTypeHost
	case roomEmpty:
		// A non-host join to a nonexistent room is rejected with
		// ROOM_NOT_FOUND, not a generic permission failure.
		return JoinOutcome{Err: roomNotFound()}
	case wantsHost && r.hostUserKey == "":
		// No current host (mid host-reassignment grace, or a host who left
		// without a successor yet): a fresh host-intent token may claim the
		// seat directly rather than queueing behind the waiting room.
		role = RoleTypeHost
	case pol.UseWaitingRoom && !r.approvedUsers[req.UserKey]:
		// A join re-issued after the host's admitUser carries an approval
		// and skips the queue; everyone else waits.
		admitNow = false
	}

	if !admitNow {
		r.enqueuePendingLocked(ctx, req)
		return JoinOutcome{Waiting: true, Role: RoleTypeParticipant}
	}

	r.admitLocked(ctx, req, role, false)
	return r.admittedOutcomeLocked(req.ConnectionId, role)
}

func (r *Room) joinWebinarLocked(ctx context.Context, req JoinRequest) JoinOutcome {
	if !r.webinar.Enabled {
		return JoinOutcome{Err: webinarDisabled()}
	}
	if r.webinar.Locked {
		return JoinOutcome{Err: webinarLocked()}
	}
	if r.webinar.RequiresInviteCode && req.WebinarInviteCode != r.webinar.InviteCode {
		return JoinOutcome{Err: webinarInviteInvalid(req.WebinarInviteCode)}
	}
	if r.webinar.MaxAttendees > 0 && r.webinar.AttendeeCount >= r.webinar.MaxAttendees {
		return JoinOutcome{Err: webinarFull()}
	}

	r.admitLocked(ctx, req, RoleTypeAttendee, true)
	r.webinar.AttendeeCount++
	r.broadcast(ctx, EventWebinarAttendeeCountChanged, H{"attendeeCount": r.webinar.AttendeeCount}, nil)
	metrics.WebinarAttendees.WithLabelValues(string(r.RoomId)).Set(float64(r.webinar.AttendeeCount))
	// A speaker change reaches every observer including this one; an
	// unchanged speaker still has to reach the newcomer, which missed any
	// earlier feedChanged.
	if !r.selectWebinarFeedLocked(ctx) {
		if payload, ok := r.webinarFeedPayloadLocked(); ok {
			sendTo(req.Client, EventWebinarFeedChanged, payload)
		}
	}
	return r.admittedOutcomeLocked(req.ConnectionId, RoleTypeAttendee)
}

// admittedOutcomeLocked gathers the joinRoom ack snapshot for a connection
// that was just admitted. Caller must hold r.mu.
func (r *Room) admittedOutcomeLocked(connID ConnectionId, role RoleType) JoinOutcome {
	existing := make([]H, 0, len(r.producerIndex))
	for pid, ownerConnID := range r.producerIndex {
		if ownerConnID == connID {
			continue
		}
		owner, ok := r.participants[ownerConnID]
		if !ok {
			continue
		}
		rec, ok := owner.producers[pid]
		if !ok || rec.closed {
			continue
		}
		existing = append(existing, H{
			"connectionId": ownerConnID,
			"producerId":   pid,
			"kind":         rec.Kind,
			"type":         rec.Type,
		})
	}

	return JoinOutcome{
		Admitted:              true,
		Role:                  role,
		HostUserKey:           r.hostUserKey,
		IsLocked:               r.isLocked,
		MeetingRequiresInvite:  r.meetingInviteCode != "",
		IsTtsDisabled:          r.isTtsDisabled,
		WebinarRole:            role == RoleTypeAttendee,
		WebinarMaxAttendees:    r.webinar.MaxAttendees,
		WebinarAttendeeCount:   r.webinar.AttendeeCount,
		WebinarRequiresInvite:  r.webinar.RequiresInviteCode,
		WebinarLocked:          r.webinar.Locked,
		IsWebinarEnabled:       r.webinar.Enabled,
		ExistingProducers:      existing,
	}
}

// admitLocked installs a connection as a full participant (host/participant/
// attendee), assigning the next admission sequence number used for
// host-reassignment tiebreaking. The new member receives its unicast
// catch-up snapshots before peers learn of it; joiners are never backfilled
// with prior broadcasts.
func (r *Room) admitLocked(ctx context.Context, req JoinRequest, role RoleType, isObserver bool) {
	p := newParticipant(req.ConnectionId, req.UserKey, req.DisplayName, role, req.Client)
	p.IsGhost = req.IsGhost
	p.IsObserver = isObserver
	p.ClientPolicyKey = req.ClientPolicyKey
	r.admissionCounter++
	p.admittedSeq = r.admissionCounter

	r.participants[req.ConnectionId] = p
	if r.connectionsByUser[req.UserKey] == nil {
		r.connectionsByUser[req.UserKey] = make(map[ConnectionId]bool)
	}
	r.connectionsByUser[req.UserKey][req.ConnectionId] = true
	delete(r.approvedUsers, req.UserKey)

	if role == RoleTypeHost {
		r.hostUserKey = req.UserKey
		r.hostConnectionId = req.ConnectionId
		r.hostReassignmentDeadline = time.Time{}
		if r.hostReassignmentTimer != nil {
			r.hostReassignmentTimer.Stop()
			r.hostReassignmentTimer = nil
		}
	}

	if !isObserver {
		metrics.RoomParticipants.WithLabelValues(string(r.RoomId)).Set(float64(len(r.participants)))
	}

	r.sendSnapshotsLocked(p)

	r.broadcastExcluding(ctx, EventUserJoined, H{
		"userId":       p.UserKey,
		"connectionId": p.ConnectionId,
		"displayName":  p.DisplayName,
		"role":         p.Role,
	}, nil, p.ConnectionId)
}

// sendSnapshotsLocked delivers the unicast catch-up snapshots a freshly
// admitted member needs: display names and raised hands for everyone, plus
// the waiting-room contents for a host. Caller must hold r.mu.
func (r *Room) sendSnapshotsLocked(p *Participant) {
	names := make([]H, 0, len(r.participants))
	raised := make([]ConnectionId, 0)
	for connID, other := range r.participants {
		if connID == p.ConnectionId {
			continue
		}
		names = append(names, H{"connectionId": connID, "userId": other.UserKey, "displayName": other.DisplayName})
		if other.IsHandRaised {
			raised = append(raised, connID)
		}
	}
	sendTo(p.client, EventDisplayNameSnapshot, H{"participants": names})
	sendTo(p.client, EventHandRaisedSnapshot, H{"raised": raised})
	if p.Role == RoleTypeHost {
		sendTo(p.client, EventPendingUsersSnapshot, H{"pending": r.pendingSnapshotLocked()})
	}
}

// enqueuePendingLocked places a connection in the waiting room, preserving
// arrival order via pendingOrder. The caller learns it is queued via
// waitingRoomStatus; hosts learn someone is knocking via userRequestedJoin.
func (r *Room) enqueuePendingLocked(ctx context.Context, req JoinRequest) {
	pj := &pendingJoin{
		UserKey:      req.UserKey,
		ConnectionId: req.ConnectionId,
		DisplayName:  req.DisplayName,
		ArrivalTime:  time.Now(),
		client:       req.Client,
	}
	r.pendingJoins[req.UserKey] = pj
	r.pendingOrder.PushBack(pj)

	sendTo(req.Client, EventWaitingRoomStatus, H{
		"roomId":   r.RoomId,
		"position": r.pendingOrder.Len(),
	})
	r.broadcast(ctx, EventUserRequestedJoin, H{
		"userId":      req.UserKey,
		"displayName": req.DisplayName,
	}, hostsOnly())
}

// removePendingLocked removes a waiting entry from both the index and the
// ordered queue. Returns the removed entry, or nil if absent.
func (r *Room) removePendingLocked(userKey UserKey) *pendingJoin {
	pj, ok := r.pendingJoins[userKey]
	if !ok {
		return nil
	}
	delete(r.pendingJoins, userKey)
	for e := r.pendingOrder.Front(); e != nil; e = e.Next() {
		if e.Value.(*pendingJoin) == pj {
			r.pendingOrder.Remove(e)
			break
		}
	}
	return pj
}
