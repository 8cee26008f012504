package session

import (
	"context"
	"log/slog"
	"time"
)

// registerJoined records a freshly admitted Session under its token's
// sessionId so a dropped connection can be reattached within the grace
// window. Tokens without a sessionId claim cannot be reconnected; the
// disconnect simply proceeds straight to teardown.
func (h *Hub) registerJoined(s *Session) {
	if s.Claims.SessionId == "" {
		return
	}
	h.reconnectMu.Lock()
	defer h.reconnectMu.Unlock()
	if existing, ok := h.reconnects[s.Claims.SessionId]; ok {
		existing.timer.Stop()
	}
	h.reconnects[s.Claims.SessionId] = &pendingReconnect{session: s}
}

// reattachIfPending looks for a ReconnectingGrace session matching
// sessionId and, if found, repoints its Room Participant at target's
// Client and copies the original ConnectionId/Room/DisplayName onto
// target, cancelling the pending teardown. Returns false if there is
// nothing to reattach to, leaving target untouched (a normal fresh join
// should proceed).
func (h *Hub) reattachIfPending(sessionId string, target *Session) bool {
	if sessionId == "" {
		return false
	}
	h.reconnectMu.Lock()
	pending, ok := h.reconnects[sessionId]
	if ok {
		delete(h.reconnects, sessionId)
	}
	h.reconnectMu.Unlock()
	if !ok {
		return false
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}

	old := pending.session
	if old.Room == nil || !old.Room.Reattach(old.ConnectionId, target.Client) {
		return false
	}
	target.ConnectionId = old.ConnectionId
	target.Room = old.Room
	target.DisplayName = old.DisplayName
	target.State = StateJoined
	return true
}

// handleClientGone runs when a Client's socket closes, regardless of why. A
// never-joined connection is simply dropped; a waiting connection's pending
// entry is removed and hosts are notified; a joined connection enters
// ReconnectingGrace and its full teardown is deferred by disconnectGrace.
func (h *Hub) handleClientGone(s *Session) {
	ctx := context.Background()

	switch s.State {
	case StateWaiting:
		if s.Room != nil {
			s.Room.DisconnectPending(ctx, s.UserKey)
		}
	case StateJoined:
		s.Room.HandleDisconnect(s.ConnectionId)
		s.State = StateReconnecting
		h.scheduleTeardown(s)
	default:
		// Unauthenticated/Authenticated: nothing was ever admitted.
	}
}

// scheduleTeardown arms the deferred full-participant teardown for a
// ReconnectingGrace session; cancelled by reattachIfPending on a timely
// reconnect.
func (h *Hub) scheduleTeardown(s *Session) {
	if s.Claims.SessionId == "" {
		// No sessionId claim means reconnection can never be matched back to
		// this session; tear down immediately rather than leak the grace
		// window.
		s.Room.Teardown(context.Background(), s.ConnectionId)
		return
	}

	h.reconnectMu.Lock()
	pending, ok := h.reconnects[s.Claims.SessionId]
	if !ok || pending.session != s {
		h.reconnectMu.Unlock()
		return
	}
	pending.timer = time.AfterFunc(h.disconnectGrace, func() {
		h.reconnectMu.Lock()
		cur, stillPending := h.reconnects[s.Claims.SessionId]
		if stillPending && cur.session == s {
			delete(h.reconnects, s.Claims.SessionId)
		}
		h.reconnectMu.Unlock()
		if !stillPending || cur.session != s {
			return
		}
		s.Room.Teardown(context.Background(), s.ConnectionId)
		slog.Info("reconnect grace expired, tore down participant", "connectionId", s.ConnectionId)
	})
	h.reconnectMu.Unlock()
}
