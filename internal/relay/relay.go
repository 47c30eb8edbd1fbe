package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/shoppad-backend/internal/hub"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

const (
	AttrEventKind = "event_kind"
	AttrOrigin    = "origin"

	defaultPublishTimeout = 5 * time.Second
)

type messagePublisher interface {
	Publish(context.Context, *pubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// Fanout delivers events to the local hub and forwards them to the relay
// topic so other instances can deliver them to their own clients.
type Fanout struct {
	local     hub.Publisher
	publisher messagePublisher
	origin    string
	logg      *logger.Logger
	timeout   time.Duration
}

type FanoutParams struct {
	Local     hub.Publisher
	Publisher *pubsub.Publisher
	Origin    string
	Logger    *logger.Logger
}

func NewFanout(params FanoutParams) (*Fanout, error) {
	if params.Publisher == nil {
		return nil, errors.New("relay publisher is required")
	}
	return newFanout(params.Local, &gcpPublisher{Publisher: params.Publisher}, params.Origin, params.Logger)
}

func newFanout(local hub.Publisher, pub messagePublisher, origin string, logg *logger.Logger) (*Fanout, error) {
	if local == nil {
		return nil, errors.New("local hub is required")
	}
	if pub == nil {
		return nil, errors.New("relay publisher is required")
	}
	if origin == "" {
		return nil, errors.New("relay origin is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Fanout{local: local, publisher: pub, origin: origin, logg: logg, timeout: defaultPublishTimeout}, nil
}

// Publish delivers locally first. Forwarding is best effort: a relay
// failure is logged and never fails the publish.
func (f *Fanout) Publish(ctx context.Context, kind enums.EventKind, payload any) (int, error) {
	delivered, err := f.local.Publish(ctx, kind, payload)
	if err != nil {
		return delivered, err
	}

	logCtx := f.logg.WithFields(ctx, map[string]any{"event_kind": kind.String(), "origin": f.origin})
	data, err := json.Marshal(payload)
	if err != nil {
		f.logg.Error(logCtx, "relay encode failed", err)
		return delivered, nil
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	res := f.publisher.Publish(pubCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEventKind: kind.String(),
			AttrOrigin:    f.origin,
		},
	})
	if res == nil {
		f.logg.Warn(logCtx, "relay publisher unavailable")
		return delivered, nil
	}
	msgID, err := res.Get(pubCtx)
	if err != nil {
		f.logg.Error(logCtx, "relay forward failed", err)
		return delivered, nil
	}
	f.logg.Debug(f.logg.WithField(logCtx, "message_id", msgID), "event forwarded to relay")
	return delivered, nil
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer republishes events forwarded by other instances to the local hub.
type Consumer struct {
	local  hub.Publisher
	sub    receiver
	origin string
	logg   *logger.Logger
}

type ConsumerParams struct {
	Local      hub.Publisher
	Subscriber *pubsub.Subscriber
	Origin     string
	Logger     *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscriber == nil {
		return nil, errors.New("relay subscriber is required")
	}
	return newConsumer(params.Local, params.Subscriber, params.Origin, params.Logger)
}

func newConsumer(local hub.Publisher, sub receiver, origin string, logg *logger.Logger) (*Consumer, error) {
	if local == nil {
		return nil, errors.New("local hub is required")
	}
	if sub == nil {
		return nil, errors.New("relay subscriber is required")
	}
	if origin == "" {
		return nil, errors.New("relay origin is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{local: local, sub: sub, origin: origin, logg: logg}, nil
}

// Run receives until ctx is canceled or the subscription fails. Every
// message is acked: a lost device event is superseded by the next one.
func (c *Consumer) Run(ctx context.Context) error {
	c.logg.Info(c.logg.WithField(ctx, "origin", c.origin), "relay consumer started")
	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		c.process(ctx, msg)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay receive: %w", err)
	}
	return nil
}

type outcome int

const (
	outcomeRepublished outcome = iota
	outcomeOwnOrigin
	outcomeMalformed
	outcomeFailed
)

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) outcome {
	origin := msg.Attributes[AttrOrigin]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"origin":     origin,
		"event_kind": msg.Attributes[AttrEventKind],
	})
	if origin == c.origin {
		return outcomeOwnOrigin
	}

	kind, err := enums.ParseEventKind(msg.Attributes[AttrEventKind])
	if err != nil || kind == enums.EventConnected {
		c.logg.Warn(logCtx, "skipping relay message with unknown event kind")
		return outcomeMalformed
	}
	if !json.Valid(msg.Data) {
		c.logg.Warn(logCtx, "skipping relay message with invalid payload")
		return outcomeMalformed
	}

	delivered, err := c.local.Publish(ctx, kind, json.RawMessage(msg.Data))
	if err != nil {
		c.logg.Error(logCtx, "relay republish failed", err)
		return outcomeFailed
	}
	c.logg.Debug(c.logg.WithField(logCtx, "delivered", delivered), "relay event republished")
	return outcomeRepublished
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
