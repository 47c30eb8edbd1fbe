package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	kind    enums.EventKind
	payload any
}

type stubHub struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (h *stubHub) Publish(_ context.Context, kind enums.EventKind, payload any) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	h.calls = append(h.calls, published{kind: kind, payload: payload})
	return 1, nil
}

type stubResult struct {
	id  string
	err error
}

func (r stubResult) Get(context.Context) (string, error) { return r.id, r.err }

type stubPublisher struct {
	msgs []*pubsub.Message
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	p.msgs = append(p.msgs, msg)
	return stubResult{id: "msg-1", err: p.err}
}

func TestFanoutForwardsAfterLocalDelivery(t *testing.T) {
	local := &stubHub{}
	pub := &stubPublisher{}
	f, err := newFanout(local, pub, "api-1", logger.Nop())
	require.NoError(t, err)

	delivered, err := f.Publish(context.Background(), enums.EventWeightUpdate, types.WeightUpdate{Weight: 1.5, Timestamp: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, local.calls, 1)
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "weight:update", msg.Attributes[AttrEventKind])
	assert.Equal(t, "api-1", msg.Attributes[AttrOrigin])
	assert.JSONEq(t, `{"weight":1.5,"timestamp":"t"}`, string(msg.Data))
}

func TestFanoutRelayFailureDoesNotFailPublish(t *testing.T) {
	pub := &stubPublisher{err: errors.New("unavailable")}
	f, err := newFanout(&stubHub{}, pub, "api-1", logger.Nop())
	require.NoError(t, err)

	delivered, err := f.Publish(context.Background(), enums.EventBarcodeScan, types.BarcodeScan{ScanID: "s"})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestFanoutSkipsRelayWhenLocalPublishFails(t *testing.T) {
	pub := &stubPublisher{}
	f, err := newFanout(&stubHub{err: errors.New("stopped")}, pub, "api-1", logger.Nop())
	require.NoError(t, err)

	_, err = f.Publish(context.Background(), enums.EventNfcPayment, types.NfcPayment{})
	require.Error(t, err)
	assert.Empty(t, pub.msgs)
}

func TestNewFanoutValidatesParams(t *testing.T) {
	_, err := NewFanout(FanoutParams{Local: &stubHub{}, Origin: "x", Logger: logger.Nop()})
	require.Error(t, err)
	_, err = newFanout(&stubHub{}, &stubPublisher{}, "", logger.Nop())
	require.Error(t, err)
}

func newTestConsumer(t *testing.T, local *stubHub) *Consumer {
	t.Helper()
	c, err := newConsumer(local, receiverFunc(nil), "api-1", logger.Nop())
	require.NoError(t, err)
	return c
}

type receiverFunc func(ctx context.Context, f func(context.Context, *pubsub.Message)) error

func (r receiverFunc) Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error {
	if r == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return r(ctx, f)
}

func message(kind, origin, data string) *pubsub.Message {
	return &pubsub.Message{
		ID:         "m",
		Data:       []byte(data),
		Attributes: map[string]string{AttrEventKind: kind, AttrOrigin: origin},
	}
}

func TestConsumerRepublishesForeignEvents(t *testing.T) {
	local := &stubHub{}
	c := newTestConsumer(t, local)

	got := c.process(context.Background(), message("barcode:scan", "api-2", `{"scanId":"s1","barcode":"123"}`))
	assert.Equal(t, outcomeRepublished, got)
	require.Len(t, local.calls, 1)
	assert.Equal(t, enums.EventBarcodeScan, local.calls[0].kind)
	raw, ok := local.calls[0].payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"scanId":"s1","barcode":"123"}`, string(raw))
}

func TestConsumerSkipsOwnAndMalformedMessages(t *testing.T) {
	local := &stubHub{}
	c := newTestConsumer(t, local)
	ctx := context.Background()

	assert.Equal(t, outcomeOwnOrigin, c.process(ctx, message("weight:update", "api-1", `{}`)))
	assert.Equal(t, outcomeMalformed, c.process(ctx, message("bogus", "api-2", `{}`)))
	assert.Equal(t, outcomeMalformed, c.process(ctx, message("connected", "api-2", `{}`)))
	assert.Equal(t, outcomeMalformed, c.process(ctx, message("weight:update", "api-2", `{not json`)))
	assert.Empty(t, local.calls)
}

func TestConsumerReportsHubFailure(t *testing.T) {
	c := newTestConsumer(t, &stubHub{err: errors.New("stopped")})
	assert.Equal(t, outcomeFailed, c.process(context.Background(), message("weight:update", "api-2", `{"weight":1}`)))
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	c := newTestConsumer(t, &stubHub{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	failing, err := newConsumer(&stubHub{}, receiverFunc(func(context.Context, func(context.Context, *pubsub.Message)) error {
		return errors.New("permission denied")
	}), "api-1", logger.Nop())
	require.NoError(t, err)
	require.Error(t, failing.Run(context.Background()))
}
