package mediarouter

import (
	"context"
	"io"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/logging"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// closeEvent is the server-streamed notification the media worker sends
// when a producer or transport it owns goes away on its own (track ended,
// ICE failure, worker-initiated cleanup) rather than via an explicit
// CloseProducer call from this process.
type closeEvent struct {
	Kind        string            `json:"kind"` // "producer" or "transport"
	ProducerId  types.ProducerId  `json:"producerId,omitempty"`
	TransportId types.TransportId `json:"transportId,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

var closeEventsStreamDesc = grpc.StreamDesc{
	StreamName:    "CloseEvents",
	ServerStreams: true,
}

// watchCloseEvents subscribes to the media worker's close-event stream and
// dispatches each event to whichever OnProducerClosed/OnTransportClosed
// handler is registered, reconnecting with a capped backoff until ctx is
// cancelled by Close. This is what makes OnProducerClosed/OnTransportClosed
// actually fire instead of sitting unused.
func (c *Client) watchCloseEvents(ctx context.Context) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runCloseEventStream(ctx); err != nil && ctx.Err() == nil {
			logging.Warn(ctx, "mediarouter close-event stream dropped, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runCloseEventStream(ctx context.Context) error {
	stream, err := c.conn.NewStream(ctx, &closeEventsStreamDesc, "/mediarouter.MediaRouter/CloseEvents")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&struct{}{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var evt closeEvent
		if err := stream.RecvMsg(&evt); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		c.dispatchCloseEvent(evt)
	}
}

func (c *Client) dispatchCloseEvent(evt closeEvent) {
	switch evt.Kind {
	case "producer":
		if c.onProducerClosed != nil {
			c.onProducerClosed(evt.ProducerId, evt.Reason)
		}
	case "transport":
		if c.onTransportClosed != nil {
			c.onTransportClosed(evt.TransportId)
		}
	}
}
