package room

// Host-only policy toggles and configuration snapshots: lockRoom,
// setNoGuests, lockChat, setTtsDisabled, meeting:updateConfig, and the
// webinar updateConfig/generateLink/rotateLink trio.

import (
	"context"
)

// handlePolicyToggle is the shared implementation for the four boolean
// room-policy toggles. It is idempotent: flipping a flag to its current
// value still acks success but does not re-broadcast.
func (r *Room) handlePolicyToggle(ctx context.Context, p *Participant, msg Message, flag *bool, event Event, fieldName string) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload toggleFlagPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if *flag == payload.Flag {
		return okAck(msg.RequestId, nil)
	}
	*flag = payload.Flag
	r.broadcast(ctx, event, H{fieldName: payload.Flag}, nil)
	return okAck(msg.RequestId, nil)
}

// --- Meeting config ---

func (r *Room) handleMeetingGetConfig(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	return okAck(msg.RequestId, H{
		"requiresInviteCode": r.meetingInviteCode != "",
		"isLocked":           r.isLocked,
		"noGuests":           r.noGuests,
		"isChatLocked":       r.isChatLocked,
		"isTtsDisabled":      r.isTtsDisabled,
	})
}

type meetingUpdateConfigPayload struct {
	InviteCode *string `json:"inviteCode"`
}

func (r *Room) handleMeetingUpdateConfig(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload meetingUpdateConfigPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if payload.InviteCode != nil {
		r.meetingInviteCode = *payload.InviteCode
	}
	r.broadcast(ctx, EventMeetingConfigChanged, H{"requiresInviteCode": r.meetingInviteCode != ""}, nil)
	return okAck(msg.RequestId, nil)
}

// --- Webinar config ---

func (r *Room) webinarConfigPayload() H {
	return H{
		"enabled":            r.webinar.Enabled,
		"publicAccess":       r.webinar.PublicAccess,
		"locked":             r.webinar.Locked,
		"maxAttendees":       r.webinar.MaxAttendees,
		"attendeeCount":      r.webinar.AttendeeCount,
		"requiresInviteCode": r.webinar.RequiresInviteCode,
		"linkSlug":           r.webinar.LinkSlug,
		"linkVersion":        r.webinar.LinkVersion,
		"feedMode":           r.webinar.FeedMode,
	}
}

func (r *Room) handleWebinarGetConfig(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	return okAck(msg.RequestId, r.webinarConfigPayload())
}

type webinarUpdateConfigPayload struct {
	Enabled            *bool     `json:"enabled"`
	PublicAccess       *bool     `json:"publicAccess"`
	Locked             *bool     `json:"locked"`
	MaxAttendees       *int      `json:"maxAttendees"`
	RequiresInviteCode *bool     `json:"requiresInviteCode"`
	InviteCode         *string   `json:"inviteCode"`
	FeedMode           *FeedMode `json:"feedMode"`
}

func (r *Room) handleWebinarUpdateConfig(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload webinarUpdateConfigPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if payload.Enabled != nil {
		r.webinar.Enabled = *payload.Enabled
	}
	if payload.PublicAccess != nil {
		r.webinar.PublicAccess = *payload.PublicAccess
	}
	if payload.Locked != nil {
		r.webinar.Locked = *payload.Locked
	}
	if payload.MaxAttendees != nil {
		r.webinar.MaxAttendees = *payload.MaxAttendees
	}
	if payload.RequiresInviteCode != nil {
		r.webinar.RequiresInviteCode = *payload.RequiresInviteCode
	}
	if payload.InviteCode != nil {
		r.webinar.InviteCode = *payload.InviteCode
	}
	if payload.FeedMode != nil {
		r.webinar.FeedMode = *payload.FeedMode
	}
	r.broadcast(ctx, EventWebinarConfigChanged, r.webinarConfigPayload(), nil)
	return okAck(msg.RequestId, nil)
}

// handleWebinarGenerateLink returns the room's link slug and linkVersion.
// NewRoom already assigns the slug, so this normally reports the existing
// slug and current version; only a room with an empty slug gets a fresh one
// with linkVersion 1. The slug is stable for the room's lifetime; config
// edits never rotate it.
func (r *Room) handleWebinarGenerateLink(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	if r.webinar.LinkSlug == "" {
		r.webinar.LinkSlug = generateLinkSlug()
		r.webinar.LinkVersion = 1
	}
	return okAck(msg.RequestId, H{"linkSlug": r.webinar.LinkSlug, "linkVersion": r.webinar.LinkVersion})
}

// handleWebinarRotateLink increments linkVersion, invalidating links minted
// against the prior version.
func (r *Room) handleWebinarRotateLink(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	r.webinar.LinkVersion++
	r.broadcast(ctx, EventWebinarConfigChanged, r.webinarConfigPayload(), nil)
	return okAck(msg.RequestId, H{"linkSlug": r.webinar.LinkSlug, "linkVersion": r.webinar.LinkVersion})
}
