package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nimeshas/conclave-sub002/internal/v1/apperr"
)

// errNoMediaRouter is wrapped into a MEDIA_ROUTER_ERROR ack when a room was
// constructed without a MediaRouter adapter (e.g. in tests exercising
// signaling-only behavior).
var errNoMediaRouter = errors.New("media router not configured")

// okAck builds a success Ack.
func okAck(requestId string, payload any) Ack {
	return Ack{RequestId: requestId, Payload: payload}
}

// errAck builds an error Ack from an *apperr.Error (anything else collapses
// to an INTERNAL code). The wire `error` field carries the Error's Message,
// which defaults to the bare Code string but is overridden for the handful
// of errors (invite-code checks) that carry a stable diagnostic substring
// clients pattern-match on.
func errAck(requestId string, err error) Ack {
	if ae, ok := apperr.As(err); ok {
		return Ack{RequestId: requestId, Error: ae.Message}
	}
	return Ack{RequestId: requestId, Error: string(apperr.CodeInternal)}
}

func roomNotFound() error        { return apperr.New(apperr.CodeRoomNotFound) }
func notInRoom() error           { return apperr.New(apperr.CodeNotInRoom) }
func notReady() error            { return apperr.New(apperr.CodeNotReady) }
func observerReadonly() error    { return apperr.New(apperr.CodeObserverReadonly) }
func forbidden() error           { return apperr.New(apperr.CodeForbidden) }
func roomLocked() error          { return apperr.New(apperr.CodeRoomLocked) }
func noGuestsErr() error         { return apperr.New(apperr.CodeNoGuests) }
func webinarDisabled() error     { return apperr.New(apperr.CodeWebinarDisabled) }
func webinarLocked() error       { return apperr.New(apperr.CodeWebinarLocked) }
func webinarFull() error         { return apperr.New(apperr.CodeWebinarFull) }
func noHost() error              { return apperr.New(apperr.CodeNoHost) }
func screenBusy() error          { return apperr.New(apperr.CodeScreenBusy) }
func ghostNoMedia() error        { return apperr.New(apperr.CodeGhostNoMedia) }
func displayNameDisabled() error { return apperr.New(apperr.CodeDisplayNameDisabled) }
func transportNotFound() error   { return apperr.New(apperr.CodeTransportNotFound) }
func producerNotFound() error    { return apperr.New(apperr.CodeProducerNotFound) }
func consumerNotFound() error    { return apperr.New(apperr.CodeConsumerNotFound) }
func cannotConsume() error       { return apperr.New(apperr.CodeCannotConsume) }

// webinarInviteInvalid distinguishes a missing code from a wrong one: the
// client retries on "required" by prompting for a code at all, and on
// "invalid" by prompting again for a different one.
func webinarInviteInvalid(provided string) error {
	if provided == "" {
		return apperr.WithMessage(apperr.CodeWebinarInviteCodeInvalid, "webinar invite code required")
	}
	return apperr.WithMessage(apperr.CodeWebinarInviteCodeInvalid, "invalid webinar invite code")
}

// meetingInviteInvalid mirrors webinarInviteInvalid for the meeting path.
func meetingInviteInvalid(provided string) error {
	if provided == "" {
		return apperr.WithMessage(apperr.CodeMeetingInviteCodeInvalid, "meeting invite code required")
	}
	return apperr.WithMessage(apperr.CodeMeetingInviteCodeInvalid, "invalid meeting invite code")
}

// hostOnlyErrLocked picks the refusal for a non-host caller of a host-gated
// operation: FORBIDDEN while a host exists, NO_HOST while the room sits in
// the host-reassignment window with nobody holding the seat. Caller must
// hold r.mu.
func (r *Room) hostOnlyErrLocked() error {
	if r.hostUserKey == "" {
		return noHost()
	}
	return forbidden()
}

// mediaRouterErr wraps a MediaRouter failure for the wire, logging the
// underlying error instead of surfacing it (it may contain internal
// addresses or gRPC transport detail a client has no business seeing).
func mediaRouterErr(err error) error {
	slog.Error("media router request failed", "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.CodeTimeout)
	}
	return apperr.New(apperr.CodeMediaRouterError)
}
