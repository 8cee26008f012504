package room

import (
	"container/list"
	"sync"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/policy"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"
)

// Re-exported so call sites outside this package can refer to room.RoleType
// etc. without importing internal/v1/types directly.
type (
	RoleType     = types.RoleType
	UserKey      = types.UserKey
	ConnectionId = types.ConnectionId
	RoomIdType   = types.RoomIdType
	ChannelId    = types.ChannelId
	DisplayName  = types.DisplayNameType
	JoinMode     = types.JoinMode
	ProducerId   = types.ProducerId
	ConsumerId   = types.ConsumerId
	TransportId  = types.TransportId
	ProducerKind = types.ProducerKind
	ProducerType = types.ProducerType
	FeedMode     = types.FeedMode
)

const (
	RoleTypeHost        = types.RoleTypeHost
	RoleTypeParticipant = types.RoleTypeParticipant
	RoleTypeAttendee    = types.RoleTypeAttendee

	JoinModeMeeting         = types.JoinModeMeeting
	JoinModeWebinarAttendee = types.JoinModeWebinarAttendee

	ProducerKindAudio = types.ProducerKindAudio
	ProducerKindVideo = types.ProducerKindVideo

	ProducerTypeWebcam = types.ProducerTypeWebcam
	ProducerTypeScreen = types.ProducerTypeScreen

	FeedModeActiveSpeaker = types.FeedModeActiveSpeaker
	FeedModeHostPinned    = types.FeedModeHostPinned
)

// producerRecord is one entry in a Participant's producer map.
type producerRecord struct {
	Id     ProducerId
	Kind   ProducerKind
	Type   ProducerType
	Paused bool
	closed bool // dedupes producerClosed broadcast, see Room.closeProducerLocked
}

// consumerRecord is one entry in a Participant's consumer map.
type consumerRecord struct {
	Id         ConsumerId
	ProducerId ProducerId
	Kind       ProducerKind
}

// Participant is the per-connection member state. It is guarded by the
// owning Room's mutex; there is no independent lock because every mutation
// happens inside the Room's single-writer executor.
type Participant struct {
	ConnectionId    ConnectionId
	UserKey         UserKey
	DisplayName     DisplayName
	Role            RoleType
	IsGhost         bool
	IsObserver      bool
	ClientPolicyKey string

	ProducerTransportId TransportId
	ConsumerTransportId TransportId

	producers map[ProducerId]*producerRecord
	consumers map[ConsumerId]*consumerRecord

	IsMuted      bool
	IsCameraOff  bool
	IsHandRaised bool

	admittedSeq int // monotonic admission order, used for host-transfer tie-break

	client clientHandle // transport-facing send/disconnect hooks
}

// clientHandle is the narrow surface the Room needs from a live connection;
// implemented by session.Client. Kept minimal so room has no import-time
// dependency on the transport package.
type clientHandle interface {
	Send(msg Message)
	Disconnect()
}

func newParticipant(connID ConnectionId, userKey UserKey, displayName DisplayName, role RoleType, client clientHandle) *Participant {
	return &Participant{
		ConnectionId: connID,
		UserKey:      userKey,
		DisplayName:  displayName,
		Role:         role,
		producers:    make(map[ProducerId]*producerRecord),
		consumers:    make(map[ConsumerId]*consumerRecord),
		client:       client,
	}
}

// getProducer returns the participant's live producer of the given
// kind+type, if any; toggle-mute/camera operate on the webcam producers
// through this.
func (p *Participant) getProducer(kind ProducerKind, typ ProducerType) *producerRecord {
	for _, pr := range p.producers {
		if pr.Kind == kind && pr.Type == typ && !pr.closed {
			return pr
		}
	}
	return nil
}

// pendingJoin is one entry in the Room's waiting room.
type pendingJoin struct {
	UserKey      UserKey
	ConnectionId ConnectionId
	DisplayName  DisplayName
	ArrivalTime  time.Time
	client       clientHandle
}

// webinarConfig is the Room's webinar overlay state.
type webinarConfig struct {
	Enabled            bool
	PublicAccess       bool
	Locked             bool
	MaxAttendees       int
	AttendeeCount      int
	RequiresInviteCode bool
	InviteCode         string
	LinkSlug           string
	LinkVersion        int
	FeedMode           FeedMode
	currentSpeaker     ConnectionId
}

// appState is one shared "app": a tunneled CRDT doc plus its awareness
// channel.
type appState struct {
	Doc       []byte
	Awareness map[string][]byte // keyed by per-origin id, last-writer
}

// appsConfig is the Room's shared-apps overlay state.
type appsConfig struct {
	ActiveAppId string
	Locked      bool
	docs        map[string]*appState
}

// Room is the authoritative per-room state. All mutating operations are
// serialized by mu: one logical owner per room.
type Room struct {
	RoomId    RoomIdType
	ChannelId ChannelId
	mu        sync.RWMutex

	participants map[ConnectionId]*Participant
	// index by UserKey -> set of ConnectionIds, for display-name fan-out and
	// the "UserKey appears in pendingJoins only if not currently admitted"
	// invariant.
	connectionsByUser map[UserKey]map[ConnectionId]bool

	hostUserKey              UserKey
	hostConnectionId         ConnectionId
	hostReassignmentDeadline time.Time
	hostReassignmentTimer    *time.Timer
	admissionCounter         int

	producerIndex         map[ProducerId]ConnectionId
	screenShareProducerId ProducerId

	pendingJoins map[UserKey]*pendingJoin
	pendingOrder *list.List // *pendingJoin elements, oldest first
	// approvedUsers holds user keys the host has admitted from the waiting
	// room whose re-issued joinRoom has not arrived yet; consumed (removed)
	// on admission so the approval is single-use.
	approvedUsers map[UserKey]bool

	isLocked          bool
	noGuests          bool
	isChatLocked      bool
	isTtsDisabled     bool
	meetingInviteCode string

	webinar webinarConfig
	apps    appsConfig

	chatHistory          *list.List
	maxChatHistoryLength int

	createdAt      time.Time
	lastActivityAt time.Time
	emptySince     time.Time

	mediaRouter types.MediaRouterProvider
	bus         types.BusService
	policies    *policy.Table

	onEmpty func(RoomIdType)

	closedProducerReasons map[ProducerId]bool // idempotent-close dedupe, belt-and-suspenders alongside producerRecord.closed
}
