package room

// Shared "apps" overlay: host-gated open/close/lock of a tunneled CRDT
// document plus a best-effort awareness channel. The Room never interprets
// the document bytes; it validates shape, applies/merges opaquely, and
// forwards.

import "context"

const maxAppPayloadBytes = 1 << 20 // 1MiB, generous bound for a CRDT update frame

type appIdPayload struct {
	AppId string `json:"appId"`
}

func (r *Room) handleAppsOpen(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload appIdPayload
	if !decodePayload(msg.Payload, &payload) || payload.AppId == "" {
		return errAck(msg.RequestId, notReady())
	}
	r.apps.ActiveAppId = payload.AppId
	if _, ok := r.apps.docs[payload.AppId]; !ok {
		r.apps.docs[payload.AppId] = &appState{Awareness: make(map[string][]byte)}
	}
	r.broadcast(ctx, EventAppsState, H{"appId": payload.AppId, "active": true, "locked": r.apps.Locked}, nil)
	return okAck(msg.RequestId, nil)
}

// handleAppsClose deactivates the app but retains its doc, so reopening with
// the same appId resumes where the room left off. Awareness is transient and
// cleared on close.
func (r *Room) handleAppsClose(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload appIdPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if r.apps.ActiveAppId == payload.AppId {
		r.apps.ActiveAppId = ""
	}
	if doc, ok := r.apps.docs[payload.AppId]; ok {
		doc.Awareness = make(map[string][]byte)
	}
	r.broadcast(ctx, EventAppsState, H{"appId": payload.AppId, "active": false}, nil)
	return okAck(msg.RequestId, nil)
}

func (r *Room) handleAppsLock(ctx context.Context, p *Participant, msg Message) Ack {
	if !HasPermission(p.Role, HasHostPermission()) {
		return errAck(msg.RequestId, r.hostOnlyErrLocked())
	}
	var payload toggleFlagPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	r.apps.Locked = payload.Flag
	r.broadcast(ctx, EventAppsState, H{"appId": r.apps.ActiveAppId, "locked": r.apps.Locked}, nil)
	return okAck(msg.RequestId, nil)
}

// appsMutationAllowed: observers are denied all mutation; when the room is
// apps-locked, non-hosts are denied updates but still receive broadcasts.
func (r *Room) appsMutationAllowed(p *Participant) bool {
	if p.IsObserver {
		return false
	}
	if r.apps.Locked && p.Role != RoleTypeHost {
		return false
	}
	return true
}

type appsSyncPayload struct {
	AppId       string `json:"appId"`
	StateVector []byte `json:"stateVector"`
}

// handleAppsSync answers a client's state-vector with the server's current
// doc bytes (the adapter layer is intentionally naive: it hands back the
// full doc rather than a computed diff, since the CRDT merge semantics
// themselves are opaque to the core) plus the current awareness snapshot.
func (r *Room) handleAppsSync(ctx context.Context, p *Participant, msg Message) Ack {
	var payload appsSyncPayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	doc, ok := r.apps.docs[payload.AppId]
	if !ok {
		return okAck(msg.RequestId, H{"diff": []byte(nil), "awareness": H{}})
	}
	awareness := make(H, len(doc.Awareness))
	for origin, bytes := range doc.Awareness {
		awareness[origin] = bytes
	}
	return okAck(msg.RequestId, H{"diff": doc.Doc, "awareness": awareness})
}

type appsUpdatePayload struct {
	AppId  string `json:"appId"`
	Update []byte `json:"update"`
}

// handleAppsUpdate validates an update's shape (non-empty, bounded length),
// applies it to the doc, and fans it out to the rest of the room.
func (r *Room) handleAppsUpdate(ctx context.Context, p *Participant, msg Message) Ack {
	if !r.appsMutationAllowed(p) {
		return errAck(msg.RequestId, observerReadonly())
	}
	var payload appsUpdatePayload
	if !decodePayload(msg.Payload, &payload) {
		return errAck(msg.RequestId, notReady())
	}
	if len(payload.Update) == 0 || len(payload.Update) > maxAppPayloadBytes {
		return errAck(msg.RequestId, notReady())
	}
	doc, ok := r.apps.docs[payload.AppId]
	if !ok {
		doc = &appState{Awareness: make(map[string][]byte)}
		r.apps.docs[payload.AppId] = doc
	}
	// The CRDT merge itself is opaque to the core; updates accumulate and
	// the client-side CRDT library resolves them idempotently on sync.
	doc.Doc = append(doc.Doc, payload.Update...)

	r.broadcastExcluding(ctx, EventAppsYjsUpdate, H{"appId": payload.AppId, "update": payload.Update}, nil, p.ConnectionId)
	return okAck(msg.RequestId, nil)
}

type appsAwarenessPayload struct {
	AppId  string `json:"appId"`
	Origin string `json:"origin"`
	State  []byte `json:"state"`
}

// handleAppsAwareness applies a last-writer-wins awareness update keyed by
// per-origin id and forwards it to the rest of the room.
func (r *Room) handleAppsAwareness(ctx context.Context, p *Participant, msg Message) Ack {
	if !r.appsMutationAllowed(p) {
		return errAck(msg.RequestId, observerReadonly())
	}
	var payload appsAwarenessPayload
	if !decodePayload(msg.Payload, &payload) || payload.Origin == "" {
		return errAck(msg.RequestId, notReady())
	}
	doc, ok := r.apps.docs[payload.AppId]
	if !ok {
		doc = &appState{Awareness: make(map[string][]byte)}
		r.apps.docs[payload.AppId] = doc
	}
	doc.Awareness[payload.Origin] = payload.State

	r.broadcastExcluding(ctx, EventAppsAwareness, H{"appId": payload.AppId, "origin": payload.Origin, "state": payload.State}, nil, p.ConnectionId)
	return okAck(msg.RequestId, nil)
}
