// Package types defines shared identifiers and cross-package contracts for
// the conferencing core. Keeping these in one leaf package avoids import
// cycles between auth, room, session, and bus.
package types

import (
	"context"
	"errors"
	"sync"

	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/bus"
)

// --- Core Domain Types ---

// UserKey is the stable identity of a user, derived from the token's email
// or subject. Multiple connections may share a UserKey (same user on
// phone+laptop).
type UserKey string

// ConnectionId is the per-session identifier assigned at admission.
type ConnectionId string

// RoomIdType is the short, user-facing room identifier.
type RoomIdType string

// ChannelId is the internal broadcast scope for a room (opaque, may differ
// from RoomIdType to allow internal remapping).
type ChannelId string

// DisplayNameType is the human-readable name for a connection.
type DisplayNameType string

// RoleType is the participant's role within a room.
type RoleType string

const (
	RoleTypeAttendee    RoleType = "attendee" // read-only webinar observer
	RoleTypeParticipant RoleType = "participant"
	RoleTypeHost        RoleType = "host"
	RoleTypeUnknown     RoleType = "unknown"
)

// JoinMode selects whether a connection is joining as a full meeting
// participant or a read-only webinar attendee.
type JoinMode string

const (
	JoinModeMeeting         JoinMode = "meeting"
	JoinModeWebinarAttendee JoinMode = "webinar_attendee"
)

// ProducerKind is the media kind of a producer.
type ProducerKind string

const (
	ProducerKindAudio ProducerKind = "audio"
	ProducerKindVideo ProducerKind = "video"
)

// ProducerType distinguishes a webcam producer from a screen-share producer.
type ProducerType string

const (
	ProducerTypeWebcam ProducerType = "webcam"
	ProducerTypeScreen ProducerType = "screen"
)

// ProducerId / ConsumerId / TransportId are opaque handles minted by the
// MediaRouter adapter.
type ProducerId string
type ConsumerId string
type TransportId string

// FeedMode selects how a webinar's observer feed is chosen.
type FeedMode string

const (
	FeedModeActiveSpeaker FeedMode = "active-speaker"
	FeedModeHostPinned    FeedMode = "host-pinned"
)

// --- Chat ---

type ChatID string
type ChatIndex int
type ChatContent string
type Timestamp int64

// ClientInfo is used internally to track connection details.
type ClientInfo struct {
	ConnectionId ConnectionId    `json:"connectionId"`
	DisplayName  DisplayNameType `json:"displayName"`
}

// ChatInfo represents a chat message stored in the Room's history list.
type ChatInfo struct {
	ClientInfo
	ChatID      ChatID      `json:"chatId"`
	Timestamp   Timestamp   `json:"timestamp"`
	ChatContent ChatContent `json:"chatContent"`
}

// ValidateChat ensures chat messages are safe to store.
func (c ChatInfo) ValidateChat() error {
	if len(string(c.ChatContent)) == 0 {
		return errors.New("chat content cannot be empty")
	}
	if len(string(c.ChatContent)) > 1000 {
		return errors.New("chat content cannot exceed 1000 characters")
	}
	if string(c.ConnectionId) == "" {
		return errors.New("connection id cannot be empty")
	}
	return nil
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// BusService defines the interface for distributed pub/sub messaging.
type BusService interface {
	Publish(ctx context.Context, roomID string, event string, payload any, senderID string, roles []string) error
	PublishDirect(ctx context.Context, targetUserID string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Close() error
	// Redis Set operations for distributed state management across pods.
	SetAdd(ctx context.Context, key string, value string) error
	SetRem(ctx context.Context, key string, value string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}

// MediaRouterProvider is the interface the Room depends on for all WebRTC
// transport/producer/consumer operations. It is implemented by
// internal/v1/mediarouter against the external media worker.
type MediaRouterProvider interface {
	// GetRtpCapabilities returns the worker's router RTP capabilities, which
	// clients need before creating a device/transport.
	GetRtpCapabilities(ctx context.Context) ([]byte, error)
	CreateTransport(ctx context.Context, connID ConnectionId) (*TransportDescriptor, error)
	ConnectTransport(ctx context.Context, transportID TransportId, dtlsParameters []byte) error
	CloseTransport(ctx context.Context, transportID TransportId) error
	Produce(ctx context.Context, transportID TransportId, kind ProducerKind, rtpParameters []byte, appData []byte) (ProducerId, error)
	Consume(ctx context.Context, transportID TransportId, producerID ProducerId, rtpCapabilities []byte) (*ConsumerDescriptor, error)
	CanConsume(ctx context.Context, producerID ProducerId, rtpCapabilities []byte) (bool, error)
	PauseProducer(ctx context.Context, producerID ProducerId) error
	ResumeProducer(ctx context.Context, producerID ProducerId) error
	CloseProducer(ctx context.Context, producerID ProducerId) error
	RestartIce(ctx context.Context, transportID TransportId) ([]byte, error)
	// Close observer events delivered asynchronously.
	OnProducerClosed(handler func(producerID ProducerId, reason string))
	OnTransportClosed(handler func(transportID TransportId))
}

// TransportDescriptor is the opaque WebRTC transport handle returned by the
// MediaRouter's createTransport call.
type TransportDescriptor struct {
	ID             TransportId `json:"id"`
	IceParameters  []byte      `json:"iceParameters"`
	IceCandidates  []byte      `json:"iceCandidates"`
	DtlsParameters []byte      `json:"dtlsParameters"`
}

// ConsumerDescriptor is the opaque consumer handle returned by consume.
type ConsumerDescriptor struct {
	ID            ConsumerId   `json:"id"`
	ProducerID    ProducerId   `json:"producerId"`
	Kind          ProducerKind `json:"kind"`
	RtpParameters []byte       `json:"rtpParameters"`
}
