package room

import (
	"context"
	"log/slog"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"

	"k8s.io/utils/set"
)

// broadcast implements the per-channel fan-out: every current member
// observes events in the order emitted; members that subscribe later are
// never backfilled. Caller must hold r.mu.
//
// roles == nil fans out to every current member; a non-nil set restricts
// delivery to matching roles (e.g. host-only notifications).
func (r *Room) broadcast(ctx context.Context, event Event, payload any, roles set.Set[RoleType]) {
	r.broadcastExcluding(ctx, event, payload, roles, "")
}

func (r *Room) broadcastExcluding(ctx context.Context, event Event, payload any, roles set.Set[RoleType], exclude ConnectionId) {
	msg := Message{Event: event, Payload: payload}

	for connID, p := range r.participants {
		if connID == exclude {
			continue
		}
		if roles != nil && !roles.Has(p.Role) {
			continue
		}
		p.client.Send(msg)
	}

	metrics.WebsocketEvents.WithLabelValues(string(event), "broadcast").Inc()

	if r.bus != nil {
		roleStrings := roleSetToStrings(roles)
		go func() {
			if err := r.bus.Publish(context.Background(), string(r.ChannelId), string(event), payload, instanceID, roleStrings); err != nil {
				slog.Error("failed to republish broadcast to bus", "room", r.RoomId, "event", event, "error", err)
			}
		}()
	}
}

// sendTo delivers a unicast notification to one connection (snapshots,
// joinApproved/joinRejected, kicked). Snapshots are the only catch-up
// mechanism a late subscriber gets.
func sendTo(client clientHandle, event Event, payload any) {
	client.Send(Message{Event: event, Payload: payload})
}

// sendToUser fans a notification out to every connection sharing userKey
// within the room (a user on phone and laptop gets both copies).
func (r *Room) sendToUser(userKey UserKey, event Event, payload any) {
	for connID := range r.connectionsByUser[userKey] {
		if p, ok := r.participants[connID]; ok {
			sendTo(p.client, event, payload)
		}
	}
}

func roleSetToStrings(roles set.Set[RoleType]) []string {
	if roles == nil {
		return nil
	}
	out := make([]string, 0, roles.Len())
	for r := range roles {
		out = append(out, string(r))
	}
	return out
}

// hostsOnly is a convenience role filter for admin-notification broadcasts.
func hostsOnly() set.Set[RoleType] {
	return set.New[RoleType](RoleTypeHost)
}
