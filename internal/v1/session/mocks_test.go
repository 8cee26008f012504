package session

import (
	"context"
	"sync"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/room"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"
)

// fakeClient satisfies room's unexported clientHandle interface structurally
// (Send/Disconnect), letting tests join a room.Room directly without a real
// Session/Client pair.
type fakeClient struct {
	mu           sync.Mutex
	received     []room.Message
	disconnected bool
}

func newFakeClient() *fakeClient { return &fakeClient{} }

func (c *fakeClient) Send(msg room.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, msg)
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) hasEvent(e room.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.received {
		if m.Event == e {
			return true
		}
	}
	return false
}

// fakeMediaRouter is a minimal types.MediaRouterProvider good enough to back
// a room.Room for Session/Hub tests; none of these tests exercise actual
// media negotiation, so every call returns zero values.
type fakeMediaRouter struct {
	nextID int
}

func (m *fakeMediaRouter) CreateTransport(ctx context.Context, connID types.ConnectionId) (*types.TransportDescriptor, error) {
	m.nextID++
	return &types.TransportDescriptor{ID: types.TransportId("t")}, nil
}
func (m *fakeMediaRouter) ConnectTransport(ctx context.Context, transportID types.TransportId, dtlsParameters []byte) error {
	return nil
}
func (m *fakeMediaRouter) GetRtpCapabilities(ctx context.Context) ([]byte, error) {
	return []byte(`{}`), nil
}
func (m *fakeMediaRouter) CloseTransport(ctx context.Context, transportID types.TransportId) error {
	return nil
}
func (m *fakeMediaRouter) Produce(ctx context.Context, transportID types.TransportId, kind types.ProducerKind, rtpParameters []byte, appData []byte) (types.ProducerId, error) {
	m.nextID++
	return types.ProducerId("p"), nil
}
func (m *fakeMediaRouter) Consume(ctx context.Context, transportID types.TransportId, producerID types.ProducerId, rtpCapabilities []byte) (*types.ConsumerDescriptor, error) {
	return &types.ConsumerDescriptor{ID: types.ConsumerId("c"), ProducerID: producerID}, nil
}
func (m *fakeMediaRouter) CanConsume(ctx context.Context, producerID types.ProducerId, rtpCapabilities []byte) (bool, error) {
	return true, nil
}
func (m *fakeMediaRouter) PauseProducer(ctx context.Context, producerID types.ProducerId) error  { return nil }
func (m *fakeMediaRouter) ResumeProducer(ctx context.Context, producerID types.ProducerId) error { return nil }
func (m *fakeMediaRouter) CloseProducer(ctx context.Context, producerID types.ProducerId) error  { return nil }
func (m *fakeMediaRouter) RestartIce(ctx context.Context, transportID types.TransportId) ([]byte, error) {
	return nil, nil
}
func (m *fakeMediaRouter) OnProducerClosed(handler func(producerID types.ProducerId, reason string)) {
}
func (m *fakeMediaRouter) OnTransportClosed(handler func(transportID types.TransportId)) {}

// fakeWsConn implements wsConnection without opening a real socket, so
// Client.sendAck/Send can be exercised without a websocket.Upgrader.
type fakeWsConn struct{}

func (f *fakeWsConn) ReadMessage() (int, []byte, error)   { return 0, nil, nil }
func (f *fakeWsConn) WriteMessage(int, []byte) error      { return nil }
func (f *fakeWsConn) Close() error                        { return nil }
func (f *fakeWsConn) SetReadDeadline(t time.Time) error   { return nil }
func (f *fakeWsConn) SetWriteDeadline(t time.Time) error  { return nil }
func (f *fakeWsConn) SetPongHandler(h func(string) error) {}

// newTestSession builds a Session with a buffered Client whose acks can be
// read back off the send channel without running readPump/writePump.
func newTestSession(hub *Hub, claims *auth.CustomClaims, displayName string) *Session {
	s := newSession(hub, claims, displayName)
	s.Client = &Client{conn: &fakeWsConn{}, send: make(chan any, 16), session: s}
	return s
}
