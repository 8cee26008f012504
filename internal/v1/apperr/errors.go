// Package apperr defines the stable wire error codes returned over the
// signaling ACK envelope. Handlers return these instead of bare errors so the
// session dispatcher has a single, uniform place to render `{error: code}}`.
package apperr

import "fmt"

// Code is a stable, client-visible error identifier.
type Code string

const (
	// Auth
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"

	// Admission
	CodeRoomNotFound             Code = "ROOM_NOT_FOUND"
	CodeRoomLocked               Code = "ROOM_LOCKED"
	CodeNoGuests                 Code = "NO_GUESTS"
	CodeWebinarDisabled          Code = "WEBINAR_DISABLED"
	CodeWebinarLocked            Code = "WEBINAR_LOCKED"
	CodeWebinarFull              Code = "WEBINAR_FULL"
	CodeWebinarInviteCodeInvalid Code = "WEBINAR_INVITE_CODE_INVALID"
	CodeMeetingInviteCodeInvalid Code = "MEETING_INVITE_CODE_INVALID"

	// State
	CodeNotReady   Code = "NOT_READY"
	CodeNotInRoom  Code = "NOT_IN_ROOM"
	CodeNoHost     Code = "NO_HOST"
	CodeScreenBusy Code = "SCREEN_BUSY"

	// Capability
	CodeGhostNoMedia        Code = "GHOST_NO_MEDIA"
	CodeObserverReadonly    Code = "OBSERVER_READONLY"
	CodeDisplayNameDisabled Code = "DISPLAY_NAME_DISABLED"

	// Media
	CodeTransportNotFound Code = "TRANSPORT_NOT_FOUND"
	CodeProducerNotFound  Code = "PRODUCER_NOT_FOUND"
	CodeConsumerNotFound  Code = "CONSUMER_NOT_FOUND"
	CodeCannotConsume     Code = "CANNOT_CONSUME"
	CodeMediaRouterError  Code = "MEDIA_ROUTER_ERROR"

	// Infra
	CodeTimeout        Code = "TIMEOUT"
	CodeServerDraining Code = "SERVER_DRAINING"
	CodeInternal       Code = "INTERNAL"
)

// Error is a wire error: a stable machine-readable Code plus a diagnostic
// Message. Some admission errors carry diagnostic text the client
// pattern-matches on (e.g. "invite code required"); Message is what gets
// surfaced on the wire, Code is for programmatic dispatch.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// New builds an Error whose wire Message defaults to its Code.
func New(code Code) *Error {
	return &Error{Code: code, Message: string(code)}
}

// Newf builds an Error with a custom diagnostic message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMessage returns a copy of a sentinel error with a custom message,
// used for the invite-code diagnostics the client keys off of.
func WithMessage(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// As extracts an *Error from err, returning (nil, false) for anything else.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
