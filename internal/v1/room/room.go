// Package room implements the authoritative per-room state: the admission
// protocol, producer lifecycle, host transfer, policy toggles, waiting room,
// shared apps, and the webinar overlay. Each Room is a single-writer domain;
// every mutating operation is serialized on the Room's lock.
package room

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
	"github.com/nimeshas/conclave-sub002/internal/v1/policy"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"
)

// H is a small map alias used for broadcast/ack payloads throughout this
// package.
type H = map[string]any

// defaultHostReassignmentGrace is how long a room stays host-less after the
// host disconnects before hostship transfers to another participant.
const defaultHostReassignmentGrace = 120 * time.Second

// defaultMaxChatHistory bounds in-memory chat retention.
const defaultMaxChatHistory = 100

// NewRoom constructs an empty Room. onEmptyCallback is invoked (from a
// panic-recovered goroutine) once the room has no participants left, so the
// owner can schedule TTL cleanup.
func NewRoom(roomId RoomIdType, channelId ChannelId, mediaRouter types.MediaRouterProvider, bus types.BusService, policies *policy.Table, onEmptyCallback func(RoomIdType)) *Room {
	now := time.Now()
	r := &Room{
		RoomId:                roomId,
		ChannelId:             channelId,
		participants:          make(map[ConnectionId]*Participant),
		connectionsByUser:     make(map[UserKey]map[ConnectionId]bool),
		producerIndex:         make(map[ProducerId]ConnectionId),
		pendingJoins:          make(map[UserKey]*pendingJoin),
		pendingOrder:          list.New(),
		approvedUsers:         make(map[UserKey]bool),
		chatHistory:           list.New(),
		maxChatHistoryLength:  defaultMaxChatHistory,
		createdAt:             now,
		lastActivityAt:        now,
		emptySince:            now, // empty from birth until the first admission clears it
		mediaRouter:           mediaRouter,
		bus:                   bus,
		policies:              policies,
		onEmpty:               onEmptyCallback,
		closedProducerReasons: make(map[ProducerId]bool),
	}
	r.webinar.LinkSlug = generateLinkSlug()
	r.webinar.FeedMode = FeedModeActiveSpeaker
	r.apps.docs = make(map[string]*appState)

	if mediaRouter != nil {
		mediaRouter.OnProducerClosed(func(producerID ProducerId, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closeProducerLocked(context.Background(), producerID, reason)
		})
		mediaRouter.OnTransportClosed(func(transportID TransportId) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.handleTransportClosedLocked(context.Background(), transportID)
		})
	}
	if bus != nil {
		r.subscribeToBus()
	}

	return r
}

// touch bumps lastActivityAt and clears emptySince; callers must hold r.mu.
func (r *Room) touch() {
	r.lastActivityAt = time.Now()
	r.emptySince = time.Time{}
}

// Dispatch runs one inbound request through the Room's dispatch table. The
// caller (the Session state machine) has already confirmed the connection is
// Joined or Waiting before calling Dispatch for anything but a small
// allow-list of pre-join events.
func (r *Room) Dispatch(ctx context.Context, connID ConnectionId, msg Message) Ack {
	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(msg.Event)).Observe(time.Since(start).Seconds())
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()

	p, inRoom := r.participants[connID]
	if !inRoom {
		metrics.WebsocketEvents.WithLabelValues(string(msg.Event), "not_in_room").Inc()
		return errAck(msg.RequestId, notInRoom())
	}

	ack := r.dispatch(ctx, p, msg)
	status := "success"
	if ack.Error != "" {
		status = "error"
	}
	metrics.WebsocketEvents.WithLabelValues(string(msg.Event), status).Inc()
	return ack
}

func (r *Room) dispatch(ctx context.Context, p *Participant, msg Message) Ack {
	isParticipant := HasPermission(p.Role, HasParticipantPermission())

	switch msg.Event {
	case EventCreateProducerTransport:
		return r.handleCreateTransport(ctx, p, msg, true)
	case EventCreateConsumerTransport:
		return r.handleCreateTransport(ctx, p, msg, false)
	case EventConnectProducerTransport, EventConnectConsumerTransport:
		return r.handleConnectTransport(ctx, p, msg)
	case EventRestartIce:
		return r.handleRestartIce(ctx, p, msg)
	case EventProduce:
		if !isParticipant {
			return errAck(msg.RequestId, observerReadonly())
		}
		return r.handleProduce(ctx, p, msg)
	case EventConsume:
		return r.handleConsume(ctx, p, msg)
	case EventResumeConsumer:
		return r.handleResumeConsumer(ctx, p, msg)
	case EventToggleMute:
		return r.handleToggleMute(ctx, p, msg)
	case EventToggleCamera:
		return r.handleToggleCamera(ctx, p, msg)
	case EventCloseProducer:
		return r.handleCloseProducer(ctx, p, msg)
	case EventSetHandRaised:
		if !isParticipant {
			return errAck(msg.RequestId, observerReadonly())
		}
		return r.handleSetHandRaised(ctx, p, msg)
	case EventSendChat:
		if !isParticipant {
			return errAck(msg.RequestId, observerReadonly())
		}
		return r.handleSendChat(ctx, p, msg)
	case EventReaction:
		return r.handleReaction(ctx, p, msg)
	case EventUpdateDisplayName:
		if !isParticipant {
			return errAck(msg.RequestId, observerReadonly())
		}
		return r.handleUpdateDisplayName(ctx, p, msg)
	case EventLockRoom:
		return r.handlePolicyToggle(ctx, p, msg, &r.isLocked, EventRoomLockChanged, "isLocked")
	case EventSetNoGuests:
		return r.handlePolicyToggle(ctx, p, msg, &r.noGuests, EventNoGuestsChanged, "noGuests")
	case EventLockChat:
		return r.handlePolicyToggle(ctx, p, msg, &r.isChatLocked, EventChatLockChanged, "isChatLocked")
	case EventSetTtsDisabled:
		return r.handlePolicyToggle(ctx, p, msg, &r.isTtsDisabled, EventTtsDisabledChanged, "isTtsDisabled")
	case EventSetVideoQuality:
		return r.handleSetVideoQuality(ctx, p, msg)
	case EventAdmitUser:
		return r.handleAdmitUser(ctx, p, msg)
	case EventRejectUser:
		return r.handleRejectUser(ctx, p, msg)
	case EventKickUser:
		return r.handleKickUser(ctx, p, msg)
	case EventRedirectUser:
		return r.handleRedirectUser(ctx, p, msg)
	case EventCloseRemoteProducer:
		return r.handleCloseRemoteProducer(ctx, p, msg)
	case EventGetProducers:
		return r.handleGetProducers(ctx, p, msg)
	case EventMeetingGetConfig:
		return r.handleMeetingGetConfig(ctx, p, msg)
	case EventMeetingUpdateConfig:
		return r.handleMeetingUpdateConfig(ctx, p, msg)
	case EventWebinarGetConfig:
		return r.handleWebinarGetConfig(ctx, p, msg)
	case EventWebinarUpdateConfig:
		return r.handleWebinarUpdateConfig(ctx, p, msg)
	case EventWebinarGenerateLink:
		return r.handleWebinarGenerateLink(ctx, p, msg)
	case EventWebinarRotateLink:
		return r.handleWebinarRotateLink(ctx, p, msg)
	case EventAppsOpen:
		return r.handleAppsOpen(ctx, p, msg)
	case EventAppsClose:
		return r.handleAppsClose(ctx, p, msg)
	case EventAppsLock:
		return r.handleAppsLock(ctx, p, msg)
	case EventAppsYjsSync:
		return r.handleAppsSync(ctx, p, msg)
	case EventAppsYjsUpdate:
		return r.handleAppsUpdate(ctx, p, msg)
	case EventAppsAwareness:
		return r.handleAppsAwareness(ctx, p, msg)
	case EventPing:
		return Ack{RequestId: msg.RequestId}
	default:
		slog.Warn("received unknown message event", "event", msg.Event, "room", r.RoomId)
		return errAck(msg.RequestId, notReady())
	}
}

// HandleDisconnect records that a connection's socket went away without
// tearing the participant down: the Session state machine holds the
// connection in its reconnect grace window and calls Teardown only once that
// window lapses without reconnect. If the departing connection was the host,
// the host-reassignment timer starts immediately, since a host disconnect
// (not a host leave) is what opens the reassignment window.
func (r *Room) HandleDisconnect(connID ConnectionId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return
	}
	if p.Role == RoleTypeHost && r.hostConnectionId == connID {
		r.armHostReassignment()
	}
}

// Teardown performs the full participant removal (disconnect-grace expiry,
// or an explicit leave): closes the participant's producers first so
// producerClosed broadcasts precede userLeft, releases the participant's
// transports, then removes every index entry and broadcasts userLeft.
func (r *Room) Teardown(ctx context.Context, connID ConnectionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked(ctx, connID)
}

func (r *Room) teardownLocked(ctx context.Context, connID ConnectionId) {
	p, ok := r.participants[connID]
	if !ok {
		return
	}

	for pid := range p.producers {
		r.closeProducerLocked(ctx, pid, "owner disconnected")
	}
	if r.mediaRouter != nil {
		if p.ProducerTransportId != "" {
			_ = r.mediaRouter.CloseTransport(ctx, p.ProducerTransportId)
		}
		if p.ConsumerTransportId != "" {
			_ = r.mediaRouter.CloseTransport(ctx, p.ConsumerTransportId)
		}
	}

	delete(r.participants, connID)
	if users, ok := r.connectionsByUser[p.UserKey]; ok {
		delete(users, connID)
		if len(users) == 0 {
			delete(r.connectionsByUser, p.UserKey)
		}
	}

	if p.IsObserver {
		if r.webinar.AttendeeCount > 0 {
			r.webinar.AttendeeCount--
		}
		r.broadcast(ctx, EventWebinarAttendeeCountChanged, H{"attendeeCount": r.webinar.AttendeeCount}, nil)
		metrics.WebinarAttendees.WithLabelValues(string(r.RoomId)).Set(float64(r.webinar.AttendeeCount))
	}

	if p.Role == RoleTypeHost && r.hostConnectionId == connID {
		r.armHostReassignment()
	}

	r.broadcast(ctx, EventUserLeft, H{"userId": p.UserKey, "connectionId": connID, "displayName": p.DisplayName}, nil)
	metrics.RoomParticipants.WithLabelValues(string(r.RoomId)).Set(float64(len(r.participants)))
	if !p.IsObserver {
		r.selectWebinarFeedLocked(ctx)
	}

	if len(r.participants) == 0 {
		r.emptySince = time.Now()
		if r.onEmpty != nil {
			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						slog.Error("panic in onEmpty callback", "room", r.RoomId, "panic", rec)
					}
				}()
				r.onEmpty(r.RoomId)
			}()
		}
	}
}

// IsEmpty reports whether the room currently has no participants.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

// EmptyElapsed reports whether the room has been empty longer than ttl.
func (r *Room) EmptyElapsed(ttl time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.emptySince.IsZero() && time.Since(r.emptySince) > ttl
}

// ParticipantCount returns the number of currently joined connections.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// RoomSummary is the redacted view of a Room surfaced by the getRooms
// request. It never exposes participant identities or pending-join contents,
// only the counters and toggles a room browser needs.
type RoomSummary struct {
	RoomId           RoomIdType `json:"roomId"`
	ParticipantCount int        `json:"participantCount"`
	IsLocked         bool       `json:"isLocked"`
	HasHost          bool       `json:"hasHost"`
	IsWebinarEnabled bool       `json:"isWebinarEnabled"`
}

// Summary builds this Room's RoomSummary. Caller holds no lock.
func (r *Room) Summary() RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomSummary{
		RoomId:           r.RoomId,
		ParticipantCount: len(r.participants),
		IsLocked:         r.isLocked,
		HasHost:          r.hostUserKey != "",
		IsWebinarEnabled: r.webinar.Enabled,
	}
}
