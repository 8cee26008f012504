package room

import (
	"context"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
)

// armHostReassignment starts the host-reassignment grace window: the room
// has no host for up to defaultHostReassignmentGrace before hostship
// transfers to the longest-admitted remaining participant. Caller must hold
// r.mu. Safe to call repeatedly; an existing timer is left running rather
// than reset.
func (r *Room) armHostReassignment() {
	if r.hostReassignmentTimer != nil {
		return
	}
	r.hostConnectionId = ""
	r.hostReassignmentDeadline = time.Now().Add(defaultHostReassignmentGrace)
	r.hostReassignmentTimer = time.AfterFunc(defaultHostReassignmentGrace, r.reassignHost)
}

// reassignHost fires once the grace window lapses with no new host having
// claimed the room (e.g. via an explicit rejoin as host). It promotes the
// remaining non-ghost participant with the lowest admittedSeq, ties broken
// by ConnectionId order. With no eligible participant the room stays
// host-less and host-gated operations fail with NO_HOST until someone
// eligible arrives.
func (r *Room) reassignHost() {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hostReassignmentTimer = nil
	if r.hostConnectionId != "" {
		return // a host already claimed the room before the timer fired
	}

	var next *Participant
	for _, p := range r.participants {
		if p.Role != RoleTypeParticipant || p.IsGhost {
			continue
		}
		if next == nil || p.admittedSeq < next.admittedSeq ||
			(p.admittedSeq == next.admittedSeq && p.ConnectionId < next.ConnectionId) {
			next = p
		}
	}

	if next == nil {
		r.hostUserKey = ""
		metrics.HostReassignments.WithLabelValues("no_eligible_participant").Inc()
		r.broadcast(ctx, EventHostChanged, H{"connectionId": nil, "userId": nil}, nil)
		return
	}

	next.Role = RoleTypeHost
	r.hostUserKey = next.UserKey
	r.hostConnectionId = next.ConnectionId
	metrics.HostReassignments.WithLabelValues("reassigned").Inc()

	r.broadcast(ctx, EventHostChanged, H{
		"hostUserId":   next.UserKey,
		"userId":       next.UserKey,
		"connectionId": next.ConnectionId,
		"displayName":  next.DisplayName,
	}, nil)
	sendTo(next.client, EventHostAssigned, H{
		"userId":       next.UserKey,
		"connectionId": next.ConnectionId,
	})
	r.selectWebinarFeedLocked(ctx)
}

type targetUserPayload struct {
	UserId       UserKey      `json:"userId"`
	ConnectionId ConnectionId `json:"connectionId"`
}

func (r *Room) findByUserOrConnLocked(userKey UserKey, connID ConnectionId) *Participant {
	if connID != "" {
		if p, ok := r.participants[connID]; ok {
			return p
		}
		return nil
	}
	for c := range r.connectionsByUser[userKey] {
		if p, ok := r.participants[c]; ok {
			return p
		}
	}
	return nil
}

func (r *Room) handleKickUser(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload targetUserPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	target := r.findByUserOrConnLocked(payload.UserId, payload.ConnectionId)
	if target == nil {
		return okAck(msg.RequestId, nil) // kick is a no-op on a missing target
	}

	sendTo(target.client, EventKicked, H{"reason": "removed by host"})
	target.client.Disconnect()
	r.teardownLocked(ctx, target.ConnectionId)
	return okAck(msg.RequestId, nil)
}

type redirectPayload struct {
	UserId       UserKey      `json:"userId"`
	ConnectionId ConnectionId `json:"connectionId"`
	Url          string       `json:"url"`
}

func (r *Room) handleRedirectUser(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload redirectPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if payload.ConnectionId != "" {
		target, ok := r.participants[payload.ConnectionId]
		if !ok {
			return errAck(msg.RequestId, notInRoom())
		}
		sendTo(target.client, EventRedirect, H{"url": payload.Url})
		return okAck(msg.RequestId, nil)
	}
	// Addressed by user: redirect every connection that user has open.
	if len(r.connectionsByUser[payload.UserId]) == 0 {
		return errAck(msg.RequestId, notInRoom())
	}
	r.sendToUser(payload.UserId, EventRedirect, H{"url": payload.Url})
	return okAck(msg.RequestId, nil)
}
