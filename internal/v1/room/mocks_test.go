package room

import (
	"context"
	"sync"

	"github.com/nimeshas/conclave-sub002/internal/v1/types"
)

// fakeClient is a minimal clientHandle recorder used throughout this
// package's tests in place of a real WebSocket-backed session.Client.
type fakeClient struct {
	mu           sync.Mutex
	received     []Message
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (c *fakeClient) Send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, msg)
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.received))
	for i, m := range c.received {
		out[i] = m.Event
	}
	return out
}

func (c *fakeClient) last() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) == 0 {
		return Message{}
	}
	return c.received[len(c.received)-1]
}

func (c *fakeClient) hasEvent(e Event) bool {
	for _, got := range c.events() {
		if got == e {
			return true
		}
	}
	return false
}

// fakeMediaRouter implements types.MediaRouterProvider against in-memory
// state, standing in for the gRPC-backed internal/v1/mediarouter.Client.
type fakeMediaRouter struct {
	mu               sync.Mutex
	nextID           int
	producerClosed   func(producerID types.ProducerId, reason string)
	transportClosed  func(transportID types.TransportId)
	canConsumeResult bool
	failCreate       bool
	closedTransports []types.TransportId
}

func newFakeMediaRouter() *fakeMediaRouter {
	return &fakeMediaRouter{canConsumeResult: true}
}

func (m *fakeMediaRouter) CreateTransport(ctx context.Context, connID types.ConnectionId) (*types.TransportDescriptor, error) {
	if m.failCreate {
		return nil, context.DeadlineExceeded
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	return &types.TransportDescriptor{ID: types.TransportId(itoa(id))}, nil
}

func (m *fakeMediaRouter) ConnectTransport(ctx context.Context, transportID types.TransportId, dtlsParameters []byte) error {
	return nil
}

func (m *fakeMediaRouter) GetRtpCapabilities(ctx context.Context) ([]byte, error) {
	return []byte(`{"codecs":[]}`), nil
}

func (m *fakeMediaRouter) CloseTransport(ctx context.Context, transportID types.TransportId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedTransports = append(m.closedTransports, transportID)
	return nil
}

func (m *fakeMediaRouter) Produce(ctx context.Context, transportID types.TransportId, kind types.ProducerKind, rtpParameters []byte, appData []byte) (types.ProducerId, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	return types.ProducerId(itoa(id)), nil
}

func (m *fakeMediaRouter) Consume(ctx context.Context, transportID types.TransportId, producerID types.ProducerId, rtpCapabilities []byte) (*types.ConsumerDescriptor, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	return &types.ConsumerDescriptor{ID: types.ConsumerId(itoa(id)), ProducerID: producerID}, nil
}

func (m *fakeMediaRouter) CanConsume(ctx context.Context, producerID types.ProducerId, rtpCapabilities []byte) (bool, error) {
	return m.canConsumeResult, nil
}

func (m *fakeMediaRouter) PauseProducer(ctx context.Context, producerID types.ProducerId) error  { return nil }
func (m *fakeMediaRouter) ResumeProducer(ctx context.Context, producerID types.ProducerId) error { return nil }
func (m *fakeMediaRouter) CloseProducer(ctx context.Context, producerID types.ProducerId) error  { return nil }

func (m *fakeMediaRouter) RestartIce(ctx context.Context, transportID types.TransportId) ([]byte, error) {
	return []byte("ice"), nil
}

func (m *fakeMediaRouter) OnProducerClosed(handler func(producerID types.ProducerId, reason string)) {
	m.producerClosed = handler
}

func (m *fakeMediaRouter) OnTransportClosed(handler func(transportID types.TransportId)) {
	m.transportClosed = handler
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
