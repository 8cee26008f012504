package room

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nimeshas/conclave-sub002/internal/v1/bus"

	"github.com/google/uuid"
	"k8s.io/utils/set"
)

// instanceID distinguishes this process from other pods sharing the same
// Redis bus, so a room never re-delivers its own publish back to its local
// participants; the bus only needs to reach the other pods' local members.
var instanceID = uuid.NewString()

// subscribeToBus wires the Room's local broadcast fan-out to the
// cluster-wide bus: events published by other pods for this room's ChannelId
// are delivered to this pod's local participants only, never re-published
// (the originating pod already did that).
func (r *Room) subscribeToBus() {
	r.bus.Subscribe(context.Background(), string(r.ChannelId), nil, r.handleBusMessage)
	slog.Info("subscribed room to bus", "roomId", r.RoomId, "channelId", r.ChannelId)
}

func (r *Room) handleBusMessage(payload bus.PubSubPayload) {
	if payload.SenderID == instanceID {
		return // this pod originated the publish; local delivery already happened synchronously
	}

	var decoded any
	if len(payload.Payload) > 0 {
		if err := json.Unmarshal(payload.Payload, &decoded); err != nil {
			slog.Error("bus payload unmarshal failed", "room", r.RoomId, "error", err)
			return
		}
	}

	var roles set.Set[RoleType]
	if len(payload.Roles) > 0 {
		roles = set.New[RoleType]()
		for _, role := range payload.Roles {
			roles.Insert(RoleType(role))
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	msg := Message{Event: Event(payload.Event), Payload: decoded}
	for _, p := range r.participants {
		if roles != nil && !roles.Has(p.Role) {
			continue
		}
		p.client.Send(msg)
	}
}
