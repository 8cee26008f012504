package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nimeshas/conclave-sub002/internal/v1/apperr"
	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/room"

	"github.com/google/uuid"
)

// State is one of the session's lifecycle states: Unauthenticated ->
// Authenticated -> Joined -> Leaving -> Closed, with Waiting (Authenticated
// but queued) and ReconnectingGrace (previously Joined, disconnected within
// the recovery window) as side branches.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateWaiting         State = "waiting"
	StateJoined          State = "joined"
	StateReconnecting    State = "reconnectingGrace"
	StateLeaving         State = "leaving"
	StateClosed          State = "closed"
)

// Session drives one WebSocket connection from handshake to close. It holds
// no room state of its own — that lives in room.Room — only the bookkeeping
// needed to validate requests against the current state and to locate the
// Room once joined.
type Session struct {
	ConnectionId room.ConnectionId
	UserKey      room.UserKey
	DisplayName  room.DisplayName
	Claims       *auth.CustomClaims
	ClientPolicyKey string

	Client *Client
	Hub    *Hub
	Room   *room.Room

	State State
}

func newSession(hub *Hub, claims *auth.CustomClaims, displayName string) *Session {
	return &Session{
		ConnectionId:    room.ConnectionId(uuid.NewString()),
		UserKey:         userKeyFromClaims(claims),
		DisplayName:     room.DisplayName(displayName),
		Claims:          claims,
		ClientPolicyKey: claims.ClientId,
		Hub:             hub,
		State:           StateAuthenticated,
	}
}

// userKeyFromClaims picks the stable user identity: verified email first,
// falling back to the token subject.
func userKeyFromClaims(claims *auth.CustomClaims) room.UserKey {
	if claims.HasVerifiedEmail() {
		return room.UserKey(claims.Email)
	}
	return room.UserKey(claims.Subject)
}

// handleMessage is the Session's half of dispatch: joinRoom is handled here
// since it crosses from Authenticated/Waiting into Joined; getRooms needs no
// room membership; every other request is forwarded to the Room only once
// Joined.
func (s *Session) handleMessage(msg room.Message) {
	ctx := context.Background()

	if msg.Event == room.EventJoinRoom {
		s.Client.sendAck(s.handleJoin(ctx, msg))
		return
	}

	if msg.Event == room.EventGetRooms {
		s.Client.sendAck(room.Ack{RequestId: msg.RequestId, Payload: room.H{"rooms": s.Hub.Rooms()}})
		return
	}

	if s.State != StateJoined {
		s.Client.sendAck(room.Ack{RequestId: msg.RequestId, Error: string(apperr.CodeNotReady)})
		return
	}

	ack := s.Room.Dispatch(ctx, s.ConnectionId, msg)
	s.Client.sendAck(ack)
}

type joinRoomPayload struct {
	RoomId            string `json:"roomId"`
	DisplayName       string `json:"displayName"`
	Ghost             bool   `json:"ghost"`
	WebinarInviteCode string `json:"webinarInviteCode"`
	MeetingInviteCode string `json:"meetingInviteCode"`
}

// handleJoin runs the admission protocol against the room named by the
// request, transitioning the Session to Joined or Waiting. A reconnect
// within the grace window reattaches to the old participant instead of
// rejoining from scratch.
func (s *Session) handleJoin(ctx context.Context, msg room.Message) room.Ack {
	if s.State != StateAuthenticated && s.State != StateWaiting {
		return room.Ack{RequestId: msg.RequestId, Error: string(apperr.CodeNotReady)}
	}

	var payload joinRoomPayload
	if !decodeInto(msg.Payload, &payload) || payload.RoomId == "" {
		return room.Ack{RequestId: msg.RequestId, Error: string(apperr.CodeNotReady)}
	}

	if s.Hub.draining.Load() {
		return room.Ack{RequestId: msg.RequestId, Error: string(apperr.CodeServerDraining)}
	}

	if payload.DisplayName != "" {
		s.DisplayName = room.DisplayName(payload.DisplayName)
	}

	if s.State == StateAuthenticated && s.Hub.reattachIfPending(s.Claims.SessionId, s) {
		// Re-register under the same sessionId so a later disconnect gets its
		// own grace window.
		s.Hub.registerJoined(s)
		return room.Ack{RequestId: msg.RequestId, Payload: room.H{"status": "joined", "roomId": payload.RoomId, "reattached": true}}
	}

	r := s.Hub.getOrCreateRoom(room.RoomIdType(payload.RoomId))
	s.Room = r

	joinMode := room.JoinMode(s.Claims.JoinMode)
	if joinMode == "" {
		joinMode = room.JoinModeMeeting
	}

	if s.Claims.HasDiverged() {
		slog.Warn("token isHost/isAdmin claims diverge", "connectionId", s.ConnectionId, "isHost", s.Claims.IsHostClaim, "isAdmin", s.Claims.IsAdminClaim)
	}

	outcome := r.Join(ctx, room.JoinRequest{
		UserKey:           s.UserKey,
		ConnectionId:      s.ConnectionId,
		DisplayName:       s.DisplayName,
		JoinMode:          joinMode,
		ClientPolicyKey:   s.ClientPolicyKey,
		IsGhost:           payload.Ghost,
		IsForcedHost:      s.Claims.IsForcedHost,
		IsHost:            s.Claims.IsHost(),
		HasVerifiedEmail:  s.Claims.HasVerifiedEmail(),
		AllowRoomCreation: s.Claims.AllowRoomCreation,
		MeetingInviteCode: payload.MeetingInviteCode,
		WebinarInviteCode: payload.WebinarInviteCode,
		Client:            s.Client,
	})

	if outcome.Err != nil {
		if e, ok := apperr.As(outcome.Err); ok {
			return room.Ack{RequestId: msg.RequestId, Error: e.Message}
		}
		return room.Ack{RequestId: msg.RequestId, Error: string(apperr.CodeInternal)}
	}

	if outcome.Waiting {
		s.State = StateWaiting
		return room.Ack{RequestId: msg.RequestId, Payload: room.H{"status": "waiting", "roomId": payload.RoomId}}
	}

	var rtpCaps []byte
	if s.Hub.mediaRouter != nil {
		caps, err := s.Hub.mediaRouter.GetRtpCapabilities(ctx)
		if err != nil {
			slog.Warn("failed to fetch rtp capabilities for join ack", "connectionId", s.ConnectionId, "error", err)
		} else {
			rtpCaps = caps
		}
	}

	s.State = StateJoined
	s.Hub.registerJoined(s)
	return room.Ack{RequestId: msg.RequestId, Payload: room.H{
		"status":                    "joined",
		"roomId":                    payload.RoomId,
		"rtpCapabilities":           rtpCaps,
		"existingProducers":         outcome.ExistingProducers,
		"hostUserId":                outcome.HostUserKey,
		"isLocked":                  outcome.IsLocked,
		"meetingRequiresInviteCode": outcome.MeetingRequiresInvite,
		"isTtsDisabled":             outcome.IsTtsDisabled,
		"webinarRole":               outcome.WebinarRole,
		"webinarMaxAttendees":       outcome.WebinarMaxAttendees,
		"webinarAttendeeCount":      outcome.WebinarAttendeeCount,
		"webinarRequiresInviteCode": outcome.WebinarRequiresInvite,
		"webinarLocked":             outcome.WebinarLocked,
		"isWebinarEnabled":          outcome.IsWebinarEnabled,
	}}
}

// decodeInto round-trips a decoded-any payload into a typed struct, mirroring
// room.decodePayload's JSON re-encode trick for untyped `any` fields.
func decodeInto(raw any, out any) bool {
	if raw == nil {
		return true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		slog.Warn("failed to re-marshal message payload", "error", err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}
