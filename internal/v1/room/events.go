package room

// Event is the typed name of a wire-protocol request or broadcast
// notification. Request names and broadcast names share one string-typed
// namespace since both travel inside the same envelope.
type Event string

const (
	// Requests
	EventJoinRoom                 Event = "joinRoom"
	EventCreateProducerTransport  Event = "createProducerTransport"
	EventCreateConsumerTransport  Event = "createConsumerTransport"
	EventConnectProducerTransport Event = "connectProducerTransport"
	EventConnectConsumerTransport Event = "connectConsumerTransport"
	EventRestartIce               Event = "restartIce"
	EventProduce                  Event = "produce"
	EventConsume                  Event = "consume"
	EventResumeConsumer           Event = "resumeConsumer"
	EventToggleMute               Event = "toggleMute"
	EventToggleCamera             Event = "toggleCamera"
	EventCloseProducer            Event = "closeProducer"
	EventSetHandRaised            Event = "setHandRaised"
	EventSendChat                 Event = "sendChat"
	EventLockRoom                 Event = "lockRoom"
	EventSetNoGuests              Event = "setNoGuests"
	EventLockChat                 Event = "lockChat"
	EventSetTtsDisabled           Event = "setTtsDisabled"
	EventSetVideoQuality          Event = "setVideoQuality"
	EventAdmitUser                Event = "admitUser"
	EventRejectUser               Event = "rejectUser"
	EventKickUser                 Event = "kickUser"
	EventRedirectUser             Event = "redirectUser"
	EventCloseRemoteProducer      Event = "closeRemoteProducer"
	EventGetProducers             Event = "getProducers"
	EventGetRooms                 Event = "getRooms"
	EventMeetingGetConfig         Event = "meeting:getConfig"
	EventMeetingUpdateConfig      Event = "meeting:updateConfig"
	EventWebinarGetConfig         Event = "webinar:getConfig"
	EventWebinarUpdateConfig      Event = "webinar:updateConfig"
	EventWebinarGenerateLink      Event = "webinar:generateLink"
	EventWebinarRotateLink        Event = "webinar:rotateLink"
	EventAppsOpen                 Event = "apps:open"
	EventAppsClose                Event = "apps:close"
	EventAppsLock                 Event = "apps:lock"
	EventAppsYjsSync              Event = "apps:yjs:sync"
	EventAppsYjsUpdate            Event = "apps:yjs:update"
	EventAppsAwareness            Event = "apps:awareness"
	EventUpdateDisplayName        Event = "updateDisplayName"
	EventPing                     Event = "ping"

	// Broadcasts
	EventUserJoined                  Event = "userJoined"
	EventUserLeft                    Event = "userLeft"
	EventNewProducer                 Event = "newProducer"
	EventProducerClosed              Event = "producerClosed"
	EventParticipantMuted            Event = "participantMuted"
	EventParticipantCameraOff        Event = "participantCameraOff"
	EventHandRaised                  Event = "handRaised"
	EventChatMessage                 Event = "chatMessage"
	EventReaction                    Event = "reaction"
	EventDisplayNameUpdated          Event = "displayNameUpdated"
	EventHostChanged                 Event = "hostChanged"
	EventHostAssigned                Event = "hostAssigned"
	EventRoomLockChanged             Event = "roomLockChanged"
	EventNoGuestsChanged             Event = "noGuestsChanged"
	EventChatLockChanged             Event = "chatLockChanged"
	EventTtsDisabledChanged          Event = "ttsDisabledChanged"
	EventVideoQualityChanged         Event = "videoQualityChanged"
	EventMeetingConfigChanged        Event = "meeting:configChanged"
	EventWebinarConfigChanged        Event = "webinar:configChanged"
	EventWebinarAttendeeCountChanged Event = "webinar:attendeeCountChanged"
	EventWebinarFeedChanged          Event = "webinar:feedChanged"
	EventAppsState                   Event = "apps:state"
	EventKicked                      Event = "kicked"
	EventRedirect                    Event = "redirect"
	EventRoomClosed                  Event = "roomClosed"
	EventServerRestarting            Event = "serverRestarting"
	EventJoinApproved                Event = "joinApproved"
	EventJoinRejected                Event = "joinRejected"
	EventUserRequestedJoin           Event = "userRequestedJoin"
	EventPendingUserLeft             Event = "pendingUserLeft"
	EventDisplayNameSnapshot         Event = "displayNameSnapshot"
	EventHandRaisedSnapshot          Event = "handRaisedSnapshot"
	EventPendingUsersSnapshot        Event = "pendingUsersSnapshot"
	EventWaitingRoomStatus           Event = "waitingRoomStatus"
)

// Message is the JSON envelope carried by the bidirectional channel. Event
// names the request/broadcast; RequestId correlates a client request with
// its ack (empty for broadcasts); Payload is request- or event-specific.
type Message struct {
	Event     Event  `json:"event"`
	RequestId string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Ack is the response envelope for a RequestId-correlated request: either an
// error code/message or a success payload, never both.
type Ack struct {
	RequestId string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// --- Role-hierarchy permission predicates ---

// Permission is a predicate over a RoleType.
type Permission func(RoleType) bool

// HasPermission evaluates a permission predicate against a role.
func HasPermission(role RoleType, p Permission) bool {
	return p(role)
}

// HasHostPermission grants only to the host.
func HasHostPermission() Permission {
	return func(r RoleType) bool { return r == RoleTypeHost }
}

// HasParticipantPermission grants to hosts and participants (full meeting
// members), but not webinar attendees.
func HasParticipantPermission() Permission {
	return func(r RoleType) bool { return r == RoleTypeHost || r == RoleTypeParticipant }
}

// HasAttendeePermission grants to webinar attendees (read-only observers).
func HasAttendeePermission() Permission {
	return func(r RoleType) bool { return r == RoleTypeAttendee }
}
