// Package mediarouter is the adapter over the external media worker process
// that owns RTP transports, producers, and consumers. The core never
// terminates media itself; it only issues these calls and reacts to the
// worker's close observer events.
//
// The worker does not publish a .proto schema; the adapter drives
// grpc.ClientConn.Invoke directly against stable method names with a JSON
// codec, the same low-level entry point generated stubs call into. Framing,
// deadlines, stream semantics, and the standard health-checking protocol are
// all genuine gRPC; only the payload marshaling differs from protobuf's
// default.
package mediarouter

import (
	"context"
	"fmt"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "media-router"

// Client is the gRPC-backed MediaRouter adapter, circuit-broken so a slow or
// unhealthy worker degrades individual room operations rather than stalling
// the Room's serial executor.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cb     *gobreaker.CircuitBreaker

	onProducerClosed  func(producerID types.ProducerId, reason string)
	onTransportClosed func(transportID types.TransportId)

	cancelWatch context.CancelFunc
}

// New dials the media worker's gRPC endpoint and wraps it in a circuit
// breaker.
func New(address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())))
	if err != nil {
		return nil, fmt.Errorf("mediarouter: dial %s: %w", address, err)
	}

	st := gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(serviceName).Set(v)
		},
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:        conn,
		health:      healthpb.NewHealthClient(conn),
		cb:          gobreaker.NewCircuitBreaker(st),
		cancelWatch: cancel,
	}
	go client.watchCloseEvents(watchCtx)
	return client, nil
}

// Check reports the media worker's liveness via the standard gRPC health
// protocol.
func (c *Client) Check(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		return err
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("mediarouter: not serving (status=%s)", resp.Status)
	}
	return nil
}

type transportRequest struct {
	ConnectionId string `json:"connectionId"`
}

func (c *Client) GetRtpCapabilities(ctx context.Context) ([]byte, error) {
	resp, err := c.execute("getRtpCapabilities", func() (any, error) {
		var out struct {
			RtpCapabilities []byte `json:"rtpCapabilities"`
		}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/GetRtpCapabilities", &struct{}{}, &out)
		return &out, err
	})
	if err != nil {
		return nil, err
	}
	return resp.(*struct {
		RtpCapabilities []byte `json:"rtpCapabilities"`
	}).RtpCapabilities, nil
}

func (c *Client) execute(method string, fn func() (any, error)) (any, error) {
	resp, err := c.cb.Execute(fn)
	if err != nil {
		status := "error"
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues(serviceName).Inc()
			status = "circuit_open"
		}
		metrics.MediaRouterRequests.WithLabelValues(method, status).Inc()
		return nil, err
	}
	metrics.MediaRouterRequests.WithLabelValues(method, "ok").Inc()
	return resp, nil
}

func (c *Client) CreateTransport(ctx context.Context, connID types.ConnectionId) (*types.TransportDescriptor, error) {
	resp, err := c.execute("createTransport", func() (any, error) {
		out := new(types.TransportDescriptor)
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/CreateTransport", &transportRequest{ConnectionId: string(connID)}, out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return resp.(*types.TransportDescriptor), nil
}

type connectTransportRequest struct {
	TransportID    types.TransportId `json:"transportId"`
	DtlsParameters []byte            `json:"dtlsParameters"`
}

func (c *Client) ConnectTransport(ctx context.Context, transportID types.TransportId, dtlsParameters []byte) error {
	_, err := c.execute("connectTransport", func() (any, error) {
		var out struct {
			Ok bool `json:"ok"`
		}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/ConnectTransport", &connectTransportRequest{TransportID: transportID, DtlsParameters: dtlsParameters}, &out)
		return &out, err
	})
	return err
}

func (c *Client) CloseTransport(ctx context.Context, transportID types.TransportId) error {
	_, err := c.execute("closeTransport", func() (any, error) {
		var out struct{}
		req := struct {
			TransportID types.TransportId `json:"transportId"`
		}{transportID}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/CloseTransport", &req, &out)
		return &out, err
	})
	return err
}

type produceRequest struct {
	TransportID   types.TransportId  `json:"transportId"`
	Kind          types.ProducerKind `json:"kind"`
	RtpParameters []byte             `json:"rtpParameters"`
	AppData       []byte             `json:"appData"`
}

type produceResponse struct {
	ProducerId types.ProducerId `json:"producerId"`
}

func (c *Client) Produce(ctx context.Context, transportID types.TransportId, kind types.ProducerKind, rtpParameters []byte, appData []byte) (types.ProducerId, error) {
	resp, err := c.execute("produce", func() (any, error) {
		out := new(produceResponse)
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/Produce", &produceRequest{TransportID: transportID, Kind: kind, RtpParameters: rtpParameters, AppData: appData}, out)
		return out, err
	})
	if err != nil {
		return "", err
	}
	return resp.(*produceResponse).ProducerId, nil
}

type consumeRequest struct {
	TransportID     types.TransportId `json:"transportId"`
	ProducerID      types.ProducerId  `json:"producerId"`
	RtpCapabilities []byte            `json:"rtpCapabilities"`
}

func (c *Client) Consume(ctx context.Context, transportID types.TransportId, producerID types.ProducerId, rtpCapabilities []byte) (*types.ConsumerDescriptor, error) {
	resp, err := c.execute("consume", func() (any, error) {
		out := new(types.ConsumerDescriptor)
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/Consume", &consumeRequest{TransportID: transportID, ProducerID: producerID, RtpCapabilities: rtpCapabilities}, out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return resp.(*types.ConsumerDescriptor), nil
}

func (c *Client) CanConsume(ctx context.Context, producerID types.ProducerId, rtpCapabilities []byte) (bool, error) {
	resp, err := c.execute("canConsume", func() (any, error) {
		var out struct {
			Ok bool `json:"ok"`
		}
		req := struct {
			ProducerID      types.ProducerId `json:"producerId"`
			RtpCapabilities []byte           `json:"rtpCapabilities"`
		}{producerID, rtpCapabilities}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/CanConsume", &req, &out)
		return &out, err
	})
	if err != nil {
		return false, err
	}
	return resp.(*struct {
		Ok bool `json:"ok"`
	}).Ok, nil
}

type producerIDRequest struct {
	ProducerID types.ProducerId `json:"producerId"`
}

func (c *Client) PauseProducer(ctx context.Context, producerID types.ProducerId) error {
	_, err := c.execute("pauseProducer", func() (any, error) {
		var out struct{}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/PauseProducer", &producerIDRequest{producerID}, &out)
		return &out, err
	})
	return err
}

func (c *Client) ResumeProducer(ctx context.Context, producerID types.ProducerId) error {
	_, err := c.execute("resumeProducer", func() (any, error) {
		var out struct{}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/ResumeProducer", &producerIDRequest{producerID}, &out)
		return &out, err
	})
	return err
}

func (c *Client) CloseProducer(ctx context.Context, producerID types.ProducerId) error {
	_, err := c.execute("closeProducer", func() (any, error) {
		var out struct{}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/CloseProducer", &producerIDRequest{producerID}, &out)
		return &out, err
	})
	return err
}

func (c *Client) RestartIce(ctx context.Context, transportID types.TransportId) ([]byte, error) {
	resp, err := c.execute("restartIce", func() (any, error) {
		var out struct {
			IceParameters []byte `json:"iceParameters"`
		}
		req := struct {
			TransportID types.TransportId `json:"transportId"`
		}{transportID}
		err := c.conn.Invoke(ctx, "/mediarouter.MediaRouter/RestartIce", &req, &out)
		return &out, err
	})
	if err != nil {
		return nil, err
	}
	return resp.(*struct {
		IceParameters []byte `json:"iceParameters"`
	}).IceParameters, nil
}

// OnProducerClosed registers the handler invoked when the media worker
// reports a producer close (e.g. track ended, transport failure).
func (c *Client) OnProducerClosed(handler func(producerID types.ProducerId, reason string)) {
	c.onProducerClosed = handler
}

// OnTransportClosed registers the handler invoked when the media worker
// reports a transport close.
func (c *Client) OnTransportClosed(handler func(transportID types.TransportId)) {
	c.onTransportClosed = handler
}

// Close stops the close-event watch loop and releases the underlying gRPC
// connection.
func (c *Client) Close() error {
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
