package room

import (
	"context"
	"time"
)

// Reattach swaps a connection's live client handle without touching any
// other Participant state (producers, consumers, role): a reconnect within
// the grace window resumes the old session rather than rejoining from
// scratch. A returning host silently reclaims the host seat and disarms the
// pending reassignment, with no hostChanged broadcast. Returns false if the
// connection is no longer present (grace already expired and Teardown ran).
func (r *Room) Reattach(connID ConnectionId, client clientHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return false
	}
	p.client = client

	if p.Role == RoleTypeHost && r.hostUserKey == p.UserKey && r.hostConnectionId == "" {
		r.hostConnectionId = connID
		r.hostReassignmentDeadline = time.Time{}
		if r.hostReassignmentTimer != nil {
			r.hostReassignmentTimer.Stop()
			r.hostReassignmentTimer = nil
		}
	}
	return true
}

// Announce broadcasts a server-originated notification (restart notice,
// room-wide administrative events) to every current member, with no
// originating request.
func (r *Room) Announce(ctx context.Context, event Event, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast(ctx, event, payload, nil)
}

