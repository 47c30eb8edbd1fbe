package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/channel"
	"github.com/angelmondragon/shoppad-backend/internal/dedup"
	"github.com/angelmondragon/shoppad-backend/internal/sensor"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackChannel delivers emitted events synchronously to subscribers.
type loopbackChannel struct {
	mu       sync.Mutex
	handlers map[enums.EventKind]map[int]channel.Handler
	watchers map[int]func(channel.Status)
	next     int
	status   channel.Status
	closed   bool
	closeErr error
}

func newLoopback() *loopbackChannel {
	return &loopbackChannel{
		handlers: map[enums.EventKind]map[int]channel.Handler{},
		watchers: map[int]func(channel.Status){},
		status:   channel.Status{State: enums.ConnectionDisconnected},
	}
}

func (c *loopbackChannel) Start(context.Context) error {
	c.setStatus(channel.Status{State: enums.ConnectionConnected, Connected: true, SocketID: "loop"})
	return nil
}

func (c *loopbackChannel) Subscribe(kind enums.EventKind, handler channel.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.handlers[kind] == nil {
		c.handlers[kind] = map[int]channel.Handler{}
	}
	c.handlers[kind][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *loopbackChannel) Watch(listener func(channel.Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.watchers[id] = listener
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

func (c *loopbackChannel) Status() channel.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *loopbackChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *loopbackChannel) setStatus(s channel.Status) {
	c.mu.Lock()
	c.status = s
	watchers := make([]func(channel.Status), 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.mu.Unlock()
	for _, w := range watchers {
		w(s)
	}
}

func (c *loopbackChannel) subscribers(kind enums.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[kind])
}

func (c *loopbackChannel) emit(t *testing.T, kind enums.EventKind, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	c.mu.Lock()
	handlers := make([]channel.Handler, 0, len(c.handlers[kind]))
	for _, h := range c.handlers[kind] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), data)
	}
}

type catalog map[string]models.Product

func (c catalog) Product(_ context.Context, id string) (*models.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, errors.New("product not found")
	}
	return &p, nil
}

func half() *float64 { w := 0.5; return &w }

var (
	apple  = models.Product{ID: "apple", Name: "Apple", Category: "Produce", Price: 0.5, Weight: half(), Barcode: strPtr("111")}
	cereal = models.Product{ID: "cereal", Name: "Cereal", Category: "Breakfast", Price: 4.25, Barcode: strPtr("222")}
)

func strPtr(s string) *string { return &s }

type latestFunc func(ctx context.Context) (*models.WeightReading, error)

func (f latestFunc) LatestWeight(ctx context.Context) (*models.WeightReading, error) { return f(ctx) }

var opened = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ch      *loopbackChannel
	clock   *clock.Mock
	session *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLatest(t, nil)
}

func newFixtureWithLatest(t *testing.T, latest sensor.LatestSource) *fixture {
	t.Helper()
	f := &fixture{ch: newLoopback(), clock: clock.NewMock()}
	f.clock.Set(opened)
	s, err := New(Params{
		Channel:    f.ch,
		DedupStore: dedup.NewMemoryStore(),
		Products:   catalog{"apple": apple, "cereal": cereal},
		Latest:     latest,
		Clock:      f.clock,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	f.session = s
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return f
}

func (f *fixture) scan(t *testing.T, scanID string, product *models.Product, barcode string) {
	f.ch.emit(t, enums.EventBarcodeScan, types.BarcodeScan{ScanID: scanID, Barcode: barcode, Product: product})
}

func TestNewRequiresChannelAndLogger(t *testing.T) {
	_, err := New(Params{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = New(Params{Channel: newLoopback()})
	require.Error(t, err)
}

func TestScanAddsProductOnceDespiteRedelivery(t *testing.T) {
	f := newFixture(t)

	f.scan(t, "s1", &apple, "111")
	f.scan(t, "s1", &apple, "111")

	state := f.session.Cart().State()
	require.Len(t, state.Lines, 1)
	assert.Equal(t, 1, state.Lines[0].Quantity)
}

func TestSameBarcodeCooldown(t *testing.T) {
	f := newFixture(t)

	f.scan(t, "s1", &apple, "111")
	f.clock.Add(time.Second)
	f.scan(t, "s2", &apple, "111")
	f.scan(t, "s3", &cereal, "222")
	assert.Equal(t, 2, f.session.Cart().State().ItemCount)

	f.clock.Add(DefaultScanCooldown)
	f.scan(t, "s4", &cereal, "222")
	assert.Equal(t, 3, f.session.Cart().State().ItemCount)
}

func TestUnknownBarcodeIsReported(t *testing.T) {
	f := newFixture(t)

	f.scan(t, "s1", nil, "999")

	snap := f.session.Snapshot()
	assert.True(t, snap.Cart.IsEmpty())
	require.NotNil(t, snap.LastScan)
	assert.False(t, snap.LastScan.Known)
	assert.Equal(t, "999", snap.LastScan.Barcode)
}

func TestWeightMatchScenario(t *testing.T) {
	f := newFixture(t)
	f.scan(t, "s1", &apple, "111")
	f.clock.Add(DefaultScanCooldown)
	f.scan(t, "s2", &apple, "111")

	snap := f.session.Snapshot()
	assert.Equal(t, 1.0, snap.Cart.ExpectedWeight)
	assert.Equal(t, enums.WeightUnknown, snap.WeightMatch.Status)

	cases := []struct {
		weight float64
		want   enums.WeightMatchStatus
	}{
		{weight: 1.05, want: enums.WeightMatching},
		{weight: 1.30, want: enums.WeightOverweight},
		{weight: 0.70, want: enums.WeightUnderweight},
	}
	for _, tc := range cases {
		f.ch.emit(t, enums.EventWeightUpdate, types.WeightUpdate{Weight: tc.weight})
		assert.Equal(t, tc.want, f.session.Snapshot().WeightMatch.Status, "weight %v", tc.weight)
	}
	assert.Equal(t, enums.SensorActive, f.session.Snapshot().Sensor.Status)
}

func TestNfcOnlyArmedWhileAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.ch.subscribers(enums.EventNfcPayment))

	f.ch.emit(t, enums.EventNfcPayment, types.NfcPayment{PaymentID: "early", CardUID: "C0"})
	assert.Equal(t, enums.CheckoutIdle, f.session.Checkout().State())

	assert.False(t, f.session.Checkout().RequestCheckout(context.Background()), "empty cart")

	_, err := f.session.AddProduct(context.Background(), "cereal")
	require.NoError(t, err)
	require.True(t, f.session.Checkout().RequestCheckout(context.Background()))
	assert.Equal(t, 1, f.ch.subscribers(enums.EventNfcPayment))

	require.True(t, f.session.Checkout().Cancel())
	assert.Zero(t, f.ch.subscribers(enums.EventNfcPayment))
}

func TestPaymentScenario(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.AddProduct(context.Background(), "apple")
	require.NoError(t, err)
	require.True(t, f.session.Checkout().RequestCheckout(context.Background()))

	f.ch.emit(t, enums.EventNfcPayment, types.NfcPayment{PaymentID: "p1", CardUID: "C1", Status: enums.PaymentStatusPending})
	assert.Equal(t, enums.CheckoutPaymentDetected, f.session.Checkout().State())
	assert.Zero(t, f.ch.subscribers(enums.EventNfcPayment))

	f.ch.emit(t, enums.EventNfcPayment, types.NfcPayment{PaymentID: "p1", CardUID: "C1"})
	assert.Equal(t, enums.CheckoutPaymentDetected, f.session.Checkout().State())

	f.clock.Add(5 * time.Second)
	require.Eventually(t, func() bool {
		return f.session.Checkout().State() == enums.CheckoutReceiptIssued
	}, time.Second, time.Millisecond)
	snap := f.session.Snapshot()
	assert.True(t, snap.Cart.IsEmpty())
	_, ok := f.session.Checkout().Receipt("C1")
	assert.True(t, ok)

	f.clock.Add(180 * time.Second)
	_, ok = f.session.Checkout().Receipt("C1")
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		return f.session.Checkout().State() == enums.CheckoutIdle
	}, time.Second, time.Millisecond)

	// a replayed p1 in a later checkout stays deduplicated
	_, err = f.session.AddProduct(context.Background(), "apple")
	require.NoError(t, err)
	require.True(t, f.session.Checkout().RequestCheckout(context.Background()))
	f.ch.emit(t, enums.EventNfcPayment, types.NfcPayment{PaymentID: "p1", CardUID: "C1"})
	assert.Equal(t, enums.CheckoutAwaitingPayment, f.session.Checkout().State())
}

func TestConnectionDrivesSensorStatus(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, enums.SensorWaiting, f.session.Snapshot().Sensor.Status)

	f.ch.setStatus(channel.Status{State: enums.ConnectionReconnecting, Error: "dropped", Attempt: 1})
	snap := f.session.Snapshot()
	assert.Equal(t, enums.SensorOffline, snap.Sensor.Status)
	assert.Equal(t, "dropped", snap.Connection.Error)
}

func TestAddProductErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.AddProduct(context.Background(), "missing")
	require.Error(t, err)
}

func TestCloseDetachesEverything(t *testing.T) {
	ch := newLoopback()
	ch.closeErr = errors.New("socket already gone")
	window := dedup.NewWindowStore(time.Minute, time.Minute)
	s, err := New(Params{Channel: ch, DedupStore: window, Clock: clock.NewMock(), Logger: logger.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, ch.subscribers(enums.EventBarcodeScan))

	err = s.Close()
	require.EqualError(t, err, "socket already gone")
	assert.True(t, ch.closed)
	assert.Zero(t, ch.subscribers(enums.EventBarcodeScan))
	assert.Zero(t, ch.subscribers(enums.EventWeightUpdate))
	require.NoError(t, s.Close())
	require.Error(t, s.Start(context.Background()))
}

func TestSnapshotWithSeededReading(t *testing.T) {
	f := newFixtureWithLatest(t, latestFunc(func(context.Context) (*models.WeightReading, error) {
		return &models.WeightReading{ID: "r1", DeviceID: "scale", Weight: 2.5, RecordedAt: opened.Add(-time.Minute)}, nil
	}))

	var snap Snapshot
	require.NotPanics(t, func() { snap = f.session.Snapshot() })
	require.NotNil(t, snap.Sensor.Latest)
	assert.Equal(t, 2.5, snap.Sensor.Latest.Weight)
	assert.Equal(t, enums.SensorWaiting, snap.Sensor.Status, "a seeded reading does not prove the scale is live")
	assert.Zero(t, snap.Sensor.Stats.Count)

	// the seeded value is what the cart is weighed against
	assert.Equal(t, enums.WeightOverweight, snap.WeightMatch.Status)
	require.NotNil(t, snap.WeightMatch.Actual)
	assert.Equal(t, 2.5, *snap.WeightMatch.Actual)
	assert.Zero(t, snap.WeightMatch.Expected)

	for i := 0; i < 5; i++ {
		f.session.Cart().Add(apple)
	}
	snap = f.session.Snapshot()
	assert.Equal(t, 2.5, snap.Cart.ExpectedWeight)
	assert.Equal(t, enums.WeightMatching, snap.WeightMatch.Status)

	f.ch.emit(t, enums.EventWeightUpdate, types.WeightUpdate{Weight: 2.6})
	snap = f.session.Snapshot()
	assert.Equal(t, enums.SensorActive, snap.Sensor.Status)
	assert.Equal(t, 1, snap.Sensor.Stats.Count)
	assert.Equal(t, 2.6, snap.Sensor.Stats.Latest)
}
