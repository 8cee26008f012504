package room

// Webinar feed selection: observers consume a single selected speaker's
// producers rather than the full producer graph. feedMode host-pinned always
// selects the host; active-speaker would normally rank by the media worker's
// speaker score, but no score stream is wired up yet, so it degrades to the
// earliest-admitted member holding a webcam producer.

import (
	"context"

	"k8s.io/utils/set"
)

// selectWebinarFeedLocked recomputes the webinar's current speaker and, if
// it changed, broadcasts webinar:feedChanged with that speaker's producer
// set to every observer. Reports whether a change was broadcast. Caller must
// hold r.mu.
func (r *Room) selectWebinarFeedLocked(ctx context.Context) bool {
	if !r.webinar.Enabled {
		return false
	}

	next := r.pickWebinarSpeakerLocked()
	if next == r.webinar.currentSpeaker {
		return false
	}
	r.webinar.currentSpeaker = next
	if next == "" {
		return false
	}

	payload, ok := r.webinarFeedPayloadLocked()
	if !ok {
		return false
	}
	r.broadcast(ctx, EventWebinarFeedChanged, payload, observersOnly())
	return true
}

// webinarFeedPayloadLocked builds the feedChanged payload for the current
// speaker: its identity plus every live producer the observer should
// consume. Caller must hold r.mu.
func (r *Room) webinarFeedPayloadLocked() (H, bool) {
	speaker, ok := r.participants[r.webinar.currentSpeaker]
	if !ok {
		return nil, false
	}
	producers := make([]H, 0, len(speaker.producers))
	for _, rec := range speaker.producers {
		if rec.closed {
			continue
		}
		producers = append(producers, H{"producerId": rec.Id, "kind": rec.Kind, "type": rec.Type})
	}
	return H{
		"connectionId": speaker.ConnectionId,
		"userId":       speaker.UserKey,
		"producers":    producers,
	}, true
}

// observersOnly is a convenience role filter restricting a broadcast to
// webinar attendees (the observer role), mirroring hostsOnly in broadcast.go.
func observersOnly() set.Set[RoleType] {
	return set.New[RoleType](RoleTypeAttendee)
}

// pickWebinarSpeakerLocked implements the feedMode selection rule. Caller
// must hold r.mu (read access is sufficient but callers already hold the
// write lock from Join/admitLocked/teardownLocked).
func (r *Room) pickWebinarSpeakerLocked() ConnectionId {
	if r.webinar.FeedMode == FeedModeHostPinned && r.hostConnectionId != "" {
		return r.hostConnectionId
	}

	// active-speaker fallback: earliest-admitted non-observer with a
	// webcam producer.
	var best *Participant
	for _, p := range r.participants {
		if p.IsObserver {
			continue
		}
		if p.getProducer(ProducerKindVideo, ProducerTypeWebcam) == nil && p.getProducer(ProducerKindAudio, ProducerTypeWebcam) == nil {
			continue
		}
		if best == nil || p.admittedSeq < best.admittedSeq {
			best = p
		}
	}
	if best != nil {
		return best.ConnectionId
	}
	if r.hostConnectionId != "" {
		return r.hostConnectionId
	}
	return ""
}
