package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// roomChannelFmt and userChannelFmt name the two Redis channel families a
// room's Broadcast Bus fans messages across: one per room (keyed by
// ChannelId) for room-wide broadcasts, one per user (keyed by UserKey) for
// direct delivery to a specific participant's other connections, regardless
// of which pod currently holds them.
const (
	roomChannelFmt = "conclave:room:%s"
	userChannelFmt = "conclave:user:%s"
)

func roomChannel(channelId string) string { return fmt.Sprintf(roomChannelFmt, channelId) }
func userChannel(userKey string) string   { return fmt.Sprintf(userChannelFmt, userKey) }

// PubSubPayload is the envelope carried over every bus channel, wrapping
// whatever the Room's local broadcast already serialized.
type PubSubPayload struct {
	RoomID   string          `json:"roomId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
	Roles    []string        `json:"roles,omitempty"`
}

// Service is the Broadcast Bus: a Redis pub/sub client guarded by a circuit
// breaker so a degraded Redis cluster drops cross-pod fan-out gracefully
// instead of blocking the room loop that publishes to it.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, for callers (health checks,
// rate limiting) that need it directly rather than through the Service API.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials Redis and wires up the circuit breaker that guards every
// subsequent call against a Redis outage.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis broadcast bus", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish fans a room event out to every other pod subscribed to this
// room's channel. roles, when non-empty, restricts delivery to the named
// participant roles; senderID lets each receiving pod's Room drop messages
// it originated itself, since local delivery already happened.
func (s *Service) Publish(ctx context.Context, channelId string, event string, payload any, senderID string, roles []string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal inner payload: %w", err)
		}

		msg := PubSubPayload{
			RoomID:   channelId,
			Event:    event,
			Payload:  innerBytes,
			SenderID: senderID,
			Roles:    roles,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, roomChannel(channelId), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("bus circuit breaker open: dropping room publish", "channelId", channelId)
			return nil
		}
		slog.Error("bus publish failed", "channelId", channelId, "error", err)
		return err
	}

	return nil
}

// PublishDirect delivers a message to a single user's channel, independent
// of which room (or pod) that user's connections currently belong to. Used
// for cross-room notices like a forced reconnect or an account-level ban.
func (s *Service) PublishDirect(ctx context.Context, userKey string, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal direct payload: %w", err)
		}

		msg := PubSubPayload{
			Event:    event,
			Payload:  innerBytes,
			SenderID: senderID,
			// RoomID and Roles are intentionally empty: a direct message
			// isn't scoped to a room or filtered by role.
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal direct envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, userChannel(userKey), data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("bus circuit breaker open: dropping direct publish", "userKey", userKey)
			return nil
		}
		slog.Error("bus publish direct failed", "userKey", userKey, "senderId", senderID, "event", event, "error", err)
		return err
	}

	slog.Debug("published direct bus message", "userKey", userKey, "senderId", senderID, "event", event)
	return nil
}

// Subscribe runs a background listener for every message another pod
// publishes to channelId's room channel, for as long as ctx stays alive.
// Each decoded PubSubPayload is handed to handler; malformed payloads are
// logged and skipped rather than killing the subscription.
func (s *Service) Subscribe(ctx context.Context, channelId string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}

	channel := roomChannel(channelId)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to bus channel", "channel", channel)

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("bus subscription channel closed", "channel", channel)
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					slog.Error("failed to unmarshal bus message", "error", err, "raw", msg.Payload)
					continue
				}

				handler(payload)
			}
		}
	}()
}

// Ping reports whether the bus's Redis connection is reachable, for health
// checks; nil on a nil/single-instance Service since there's nothing to
// reach.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis set, used for cluster-wide bookkeeping
// that outlives any single pod (e.g. which pods hold a connection for a
// given room).
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("bus circuit breaker open: skipping set add", "key", key)
			return nil
		}
		slog.Error("bus set add failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("bus circuit breaker open: skipping set rem", "key", key)
			return nil
		}
		slog.Error("bus set rem failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("remove from set: %w", err)
	}
	return nil
}

// SetMembers lists every member of a Redis set. A degraded breaker returns
// an empty list rather than an error, so a caller folding this into local
// state (e.g. "who else holds this room") degrades to "nobody else" instead
// of failing outright.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("bus circuit breaker open: returning empty set members", "key", key)
			return nil, nil
		}
		slog.Error("bus set members failed", "key", key, "error", err)
		return nil, fmt.Errorf("get set members: %w", err)
	}
	return res.([]string), nil
}
