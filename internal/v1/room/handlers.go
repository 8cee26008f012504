package room

import (
	"context"
	"encoding/json"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
)

// --- Transport lifecycle ---

func (r *Room) handleCreateTransport(ctx context.Context, p *Participant, msg Message, isProducer bool) Ack {
	if p.IsObserver && isProducer {
		return errAck(msg.RequestId, observerReadonly())
	}
	if p.IsGhost && isProducer {
		return errAck(msg.RequestId, ghostNoMedia())
	}
	if r.mediaRouter == nil {
		return errAck(msg.RequestId, mediaRouterErr(errNoMediaRouter))
	}

	desc, err := r.mediaRouter.CreateTransport(ctx, p.ConnectionId)
	if err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}

	if isProducer {
		p.ProducerTransportId = desc.ID
	} else {
		p.ConsumerTransportId = desc.ID
	}

	return okAck(msg.RequestId, H{
		"id":             desc.ID,
		"iceParameters":  desc.IceParameters,
		"iceCandidates":  desc.IceCandidates,
		"dtlsParameters": desc.DtlsParameters,
	})
}

type connectTransportPayload struct {
	TransportId    TransportId `json:"transportId"`
	DtlsParameters []byte      `json:"dtlsParameters"`
}

func (r *Room) handleConnectTransport(ctx context.Context, p *Participant, msg Message) Ack {
	var payload connectTransportPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if payload.TransportId != p.ProducerTransportId && payload.TransportId != p.ConsumerTransportId {
		return errAck(msg.RequestId, transportNotFound())
	}
	if r.mediaRouter == nil {
		return errAck(msg.RequestId, mediaRouterErr(errNoMediaRouter))
	}
	if err := r.mediaRouter.ConnectTransport(ctx, payload.TransportId, payload.DtlsParameters); err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}
	return okAck(msg.RequestId, nil)
}

// restartIcePayload selects which of the connection's two transports to
// restart: "producer" or "consumer".
type restartIcePayload struct {
	Transport string `json:"transport"`
}

func (r *Room) handleRestartIce(ctx context.Context, p *Participant, msg Message) Ack {
	var payload restartIcePayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	var transportID TransportId
	switch payload.Transport {
	case "producer":
		transportID = p.ProducerTransportId
	case "consumer":
		transportID = p.ConsumerTransportId
	default:
		return errAck(msg.RequestId, notReady())
	}
	if transportID == "" {
		return errAck(msg.RequestId, transportNotFound())
	}
	if r.mediaRouter == nil {
		return errAck(msg.RequestId, mediaRouterErr(errNoMediaRouter))
	}
	iceParams, err := r.mediaRouter.RestartIce(ctx, transportID)
	if err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}
	return okAck(msg.RequestId, H{"iceParameters": iceParams})
}

// --- Producer lifecycle ---

type producePayload struct {
	Kind          ProducerKind `json:"kind"`
	Type          ProducerType `json:"type"`
	RtpParameters []byte       `json:"rtpParameters"`
	AppData       []byte       `json:"appData"`
}

func (r *Room) handleProduce(ctx context.Context, p *Participant, msg Message) Ack {
	if p.IsGhost {
		return errAck(msg.RequestId, ghostNoMedia())
	}
	var payload producePayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if p.ProducerTransportId == "" {
		return errAck(msg.RequestId, transportNotFound())
	}

	// The screen-share singleton applies to the video track only; screen
	// audio rides alongside without occupying the slot.
	isScreenVideo := payload.Type == ProducerTypeScreen && payload.Kind == ProducerKindVideo
	if isScreenVideo && r.screenShareProducerId != "" {
		return errAck(msg.RequestId, screenBusy())
	}

	if r.mediaRouter == nil {
		return errAck(msg.RequestId, mediaRouterErr(errNoMediaRouter))
	}
	pid, err := r.mediaRouter.Produce(ctx, p.ProducerTransportId, payload.Kind, payload.RtpParameters, payload.AppData)
	if err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}

	p.producers[pid] = &producerRecord{Id: pid, Kind: payload.Kind, Type: payload.Type}
	r.producerIndex[pid] = p.ConnectionId
	if isScreenVideo {
		r.screenShareProducerId = pid
	}

	metrics.ActiveProducers.WithLabelValues(string(r.RoomId), string(payload.Type)).Inc()
	metrics.ProducerEvents.WithLabelValues(string(payload.Kind), string(payload.Type), "produce").Inc()

	r.broadcastExcluding(ctx, EventNewProducer, H{
		"userId":       p.UserKey,
		"connectionId": p.ConnectionId,
		"producerId":   pid,
		"kind":         payload.Kind,
		"type":         payload.Type,
	}, nil, p.ConnectionId)
	r.selectWebinarFeedLocked(ctx)

	return okAck(msg.RequestId, H{"producerId": pid})
}

type consumePayload struct {
	ProducerId      ProducerId `json:"producerId"`
	RtpCapabilities []byte     `json:"rtpCapabilities"`
}

func (r *Room) handleConsume(ctx context.Context, p *Participant, msg Message) Ack {
	var payload consumePayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if _, ok := r.producerIndex[payload.ProducerId]; !ok {
		return errAck(msg.RequestId, producerNotFound())
	}
	if p.ConsumerTransportId == "" {
		return errAck(msg.RequestId, transportNotFound())
	}
	// One consumer per remote producer per connection.
	for _, rec := range p.consumers {
		if rec.ProducerId == payload.ProducerId {
			return errAck(msg.RequestId, cannotConsume())
		}
	}
	if r.mediaRouter == nil {
		return errAck(msg.RequestId, mediaRouterErr(errNoMediaRouter))
	}

	ok, err := r.mediaRouter.CanConsume(ctx, payload.ProducerId, payload.RtpCapabilities)
	if err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}
	if !ok {
		return errAck(msg.RequestId, cannotConsume())
	}

	desc, err := r.mediaRouter.Consume(ctx, p.ConsumerTransportId, payload.ProducerId, payload.RtpCapabilities)
	if err != nil {
		return errAck(msg.RequestId, mediaRouterErr(err))
	}
	p.consumers[desc.ID] = &consumerRecord{Id: desc.ID, ProducerId: payload.ProducerId, Kind: desc.Kind}

	return okAck(msg.RequestId, H{
		"id":            desc.ID,
		"producerId":    desc.ProducerID,
		"kind":          desc.Kind,
		"rtpParameters": desc.RtpParameters,
	})
}

type consumerIdPayload struct {
	ConsumerId ConsumerId `json:"consumerId"`
}

// handleResumeConsumer acknowledges the client's unpause of a consumer it
// created earlier. The media worker resumes delivery on its own once the
// consumer's transport is connected; the core only validates ownership.
func (r *Room) handleResumeConsumer(ctx context.Context, p *Participant, msg Message) Ack {
	var payload consumerIdPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if _, ok := p.consumers[payload.ConsumerId]; !ok {
		return errAck(msg.RequestId, consumerNotFound())
	}
	return okAck(msg.RequestId, nil)
}

type producerIdPayload struct {
	ProducerId ProducerId `json:"producerId"`
}

func (r *Room) handleCloseProducer(ctx context.Context, p *Participant, msg Message) Ack {
	var payload producerIdPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if _, owned := p.producers[payload.ProducerId]; !owned {
		return errAck(msg.RequestId, producerNotFound())
	}
	r.closeProducerLocked(ctx, payload.ProducerId, "closed by owner")
	return okAck(msg.RequestId, nil)
}

// closeProducerLocked is the single idempotent teardown path for a producer.
// The media worker's close observer and an explicit closeProducer request
// can race each other; dedupe on the producer id so producerClosed is
// broadcast exactly once. Caller must hold r.mu.
func (r *Room) closeProducerLocked(ctx context.Context, pid ProducerId, reason string) {
	if r.closedProducerReasons[pid] {
		return
	}
	connID, ok := r.producerIndex[pid]
	if !ok {
		return
	}
	p, ok := r.participants[connID]
	if !ok {
		return
	}
	rec, ok := p.producers[pid]
	if !ok || rec.closed {
		return
	}

	rec.closed = true
	r.closedProducerReasons[pid] = true
	delete(r.producerIndex, pid)
	if r.screenShareProducerId == pid {
		r.screenShareProducerId = ""
	}
	if r.mediaRouter != nil {
		_ = r.mediaRouter.CloseProducer(ctx, pid)
	}

	metrics.ActiveProducers.WithLabelValues(string(r.RoomId), string(rec.Type)).Dec()
	metrics.ProducerEvents.WithLabelValues(string(rec.Kind), string(rec.Type), "close").Inc()

	r.broadcast(ctx, EventProducerClosed, H{
		"userId":       p.UserKey,
		"connectionId": p.ConnectionId,
		"producerId":   pid,
		"reason":       reason,
	}, nil)
}

// handleTransportClosedLocked reacts to the media worker reporting a
// transport gone: every producer riding that transport closes (with the
// usual producerClosed fan-out) and the stale handle is dropped so a
// subsequent createTransport starts clean. Caller must hold r.mu.
func (r *Room) handleTransportClosedLocked(ctx context.Context, transportID TransportId) {
	for _, p := range r.participants {
		if p.ProducerTransportId == transportID {
			for pid := range p.producers {
				r.closeProducerLocked(ctx, pid, "transport closed")
			}
			p.ProducerTransportId = ""
		}
		if p.ConsumerTransportId == transportID {
			p.ConsumerTransportId = ""
		}
	}
}

func (r *Room) handleCloseRemoteProducer(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload producerIdPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if _, ok := r.producerIndex[payload.ProducerId]; !ok {
		return errAck(msg.RequestId, producerNotFound())
	}
	r.closeProducerLocked(ctx, payload.ProducerId, "closed by host")
	return okAck(msg.RequestId, nil)
}

func (r *Room) handleGetProducers(ctx context.Context, p *Participant, msg Message) Ack {
	type entry struct {
		ConnectionId ConnectionId `json:"connectionId"`
		ProducerId   ProducerId   `json:"producerId"`
		Kind         ProducerKind `json:"kind"`
		Type         ProducerType `json:"type"`
	}
	var out []entry
	for connID, other := range r.participants {
		if connID == p.ConnectionId {
			continue
		}
		for _, rec := range other.producers {
			if rec.closed {
				continue
			}
			out = append(out, entry{ConnectionId: connID, ProducerId: rec.Id, Kind: rec.Kind, Type: rec.Type})
		}
	}
	return okAck(msg.RequestId, H{"producers": out})
}

// --- Toggles ---

// togglePausedPayload backs toggleMute/toggleCamera: `paused` mirrors the
// track's own paused state directly (true means muted/camera-off), unlike
// the old `enabled` field it replaces which was the track's active state.
type togglePausedPayload struct {
	Paused bool `json:"paused"`
}

// toggleRaisedPayload backs setHandRaised.
type toggleRaisedPayload struct {
	Raised bool `json:"raised"`
}

// toggleFlagPayload backs the boolean room-policy toggles and apps:lock,
// all of which wire-name their payload field `flag`.
type toggleFlagPayload struct {
	Flag bool `json:"flag"`
}

// handleToggleMute pauses or resumes the caller's webcam audio producer.
// The recorded flag reflects the post-state, not the request: with no live
// audio producer the participant collapses to muted regardless of what was
// asked.
func (r *Room) handleToggleMute(ctx context.Context, p *Participant, msg Message) Ack {
	var payload togglePausedPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	rec := p.getProducer(ProducerKindAudio, ProducerTypeWebcam)
	if rec == nil {
		p.IsMuted = true
	} else {
		p.IsMuted = payload.Paused
		rec.Paused = payload.Paused
		if r.mediaRouter != nil {
			if p.IsMuted {
				_ = r.mediaRouter.PauseProducer(ctx, rec.Id)
			} else {
				_ = r.mediaRouter.ResumeProducer(ctx, rec.Id)
			}
		}
	}
	r.broadcast(ctx, EventParticipantMuted, H{"connectionId": p.ConnectionId, "isMuted": p.IsMuted}, nil)
	return okAck(msg.RequestId, nil)
}

func (r *Room) handleToggleCamera(ctx context.Context, p *Participant, msg Message) Ack {
	var payload togglePausedPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	rec := p.getProducer(ProducerKindVideo, ProducerTypeWebcam)
	if rec == nil {
		p.IsCameraOff = true
	} else {
		p.IsCameraOff = payload.Paused
		rec.Paused = payload.Paused
		if r.mediaRouter != nil {
			if p.IsCameraOff {
				_ = r.mediaRouter.PauseProducer(ctx, rec.Id)
			} else {
				_ = r.mediaRouter.ResumeProducer(ctx, rec.Id)
			}
		}
	}
	r.broadcast(ctx, EventParticipantCameraOff, H{"connectionId": p.ConnectionId, "isCameraOff": p.IsCameraOff}, nil)
	return okAck(msg.RequestId, nil)
}

func (r *Room) handleSetHandRaised(ctx context.Context, p *Participant, msg Message) Ack {
	var payload toggleRaisedPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	p.IsHandRaised = payload.Raised
	r.broadcast(ctx, EventHandRaised, H{"connectionId": p.ConnectionId, "isHandRaised": p.IsHandRaised}, nil)
	return okAck(msg.RequestId, nil)
}

type videoQualityPayload struct {
	Quality string `json:"quality"`
}

// handleSetVideoQuality relays a coarse quality hint to every client. The
// Room does not retain it; clients apply it to their own encodings.
func (r *Room) handleSetVideoQuality(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload videoQualityPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	r.broadcast(ctx, EventVideoQualityChanged, H{"quality": payload.Quality}, nil)
	return okAck(msg.RequestId, nil)
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

// handleReaction relays a transient reaction to the rest of the room; no
// state is kept.
func (r *Room) handleReaction(ctx context.Context, p *Participant, msg Message) Ack {
	var payload reactionPayload
	if !decodePayload(msg.Payload, &payload) || payload.Emoji == "" {
		return errAck(msg.RequestId, notReady())
	}
	r.broadcastExcluding(ctx, EventReaction, H{
		"connectionId": p.ConnectionId,
		"displayName":  p.DisplayName,
		"emoji":        payload.Emoji,
	}, nil, p.ConnectionId)
	return okAck(msg.RequestId, nil)
}

type updateDisplayNamePayload struct {
	DisplayName string `json:"displayName"`
}

// handleUpdateDisplayName renames the caller on every connection sharing its
// user key, then announces the change to the room. Non-hosts are refused
// when the client policy withholds display-name updates.
func (r *Room) handleUpdateDisplayName(ctx context.Context, p *Participant, msg Message) Ack {
	pol := r.policies.Get(p.ClientPolicyKey)
	if !pol.AllowDisplayNameUpdate && !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, displayNameDisabled())
	}
	var payload updateDisplayNamePayload
	if !decodePayload(msg.Payload, &payload) || payload.DisplayName == "" {
		return errAck(msg.RequestId, notReady())
	}
	name := DisplayName(payload.DisplayName)
	for connID := range r.connectionsByUser[p.UserKey] {
		if other, ok := r.participants[connID]; ok {
			other.DisplayName = name
		}
	}
	r.broadcast(ctx, EventDisplayNameUpdated, H{
		"userId":      p.UserKey,
		"displayName": name,
	}, nil)
	return okAck(msg.RequestId, nil)
}

func decodePayload(raw any, out any) bool {
	data, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
