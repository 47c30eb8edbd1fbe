package kiosk

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/cart"
	"github.com/angelmondragon/shoppad-backend/internal/channel"
	"github.com/angelmondragon/shoppad-backend/internal/checkout"
	"github.com/angelmondragon/shoppad-backend/internal/dedup"
	"github.com/angelmondragon/shoppad-backend/internal/reconcile"
	"github.com/angelmondragon/shoppad-backend/internal/sensor"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// DefaultScanCooldown suppresses a barcode read twice in quick succession.
const DefaultScanCooldown = 3 * time.Second

// Channel is the hub connection the session listens on.
type Channel interface {
	Start(ctx context.Context) error
	Subscribe(kind enums.EventKind, handler channel.Handler) func()
	Watch(listener func(channel.Status)) func()
	Status() channel.Status
	Close() error
}

// ProductSource resolves products picked from the catalog by hand.
type ProductSource interface {
	Product(ctx context.Context, id string) (*models.Product, error)
}

type Params struct {
	Channel    Channel
	DedupStore dedup.Store
	Products   ProductSource
	Latest     sensor.LatestSource
	Clock      clock.Clock
	Logger     *logger.Logger

	ToleranceKG         float64
	DefaultItemWeightKG float64
	ScanCooldown        time.Duration
	StaleAfter          time.Duration
	SuccessDisplay      time.Duration
	ReceiptTTL          time.Duration
}

// ScanNotice describes the last barcode the kiosk acted on.
type ScanNotice struct {
	ScanID    string    `json:"scanId"`
	Barcode   string    `json:"barcode"`
	ProductID string    `json:"productId,omitempty"`
	Known     bool      `json:"known"`
	At        time.Time `json:"at"`
}

type Snapshot struct {
	Connection  channel.Status    `json:"connection"`
	Cart        cart.State        `json:"cart"`
	WeightMatch reconcile.Result  `json:"weightMatch"`
	Sensor      sensor.Snapshot   `json:"sensor"`
	Checkout    checkout.Snapshot `json:"checkout"`
	LastScan    *ScanNotice       `json:"lastScan,omitempty"`
}

// Session wires the hub channel to the cart, the scale monitor and the
// checkout machine for one kiosk.
type Session struct {
	channel   Channel
	dedup     *dedup.Layer
	store     dedup.Store
	products  ProductSource
	clock     clock.Clock
	logg      *logger.Logger
	tolerance float64
	cooldown  time.Duration

	cart     *cart.Store
	sensor   *sensor.Monitor
	checkout *checkout.Machine

	mu       sync.Mutex
	lastScan *ScanNotice
	nfcOff   func()
	teardown []func()
	started  bool
	closed   bool
}

func New(params Params) (*Session, error) {
	if params.Channel == nil {
		return nil, errors.New("channel is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DedupStore == nil {
		params.DedupStore = dedup.NewMemoryStore()
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.ToleranceKG <= 0 {
		params.ToleranceKG = reconcile.DefaultToleranceKG
	}
	if params.ScanCooldown <= 0 {
		params.ScanCooldown = DefaultScanCooldown
	}

	layer, err := dedup.New(params.DedupStore, params.Logger)
	if err != nil {
		return nil, err
	}
	cartStore := cart.NewStore(params.DefaultItemWeightKG)
	monitor, err := sensor.NewMonitor(sensor.MonitorParams{
		StaleAfter: params.StaleAfter,
		Clock:      params.Clock,
		Source:     params.Latest,
		Logger:     params.Logger,
	})
	if err != nil {
		return nil, err
	}
	machine, err := checkout.NewMachine(checkout.MachineParams{
		Cart:           cartStore,
		Clock:          params.Clock,
		Logger:         params.Logger,
		SuccessDisplay: params.SuccessDisplay,
		ReceiptTTL:     params.ReceiptTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		channel:   params.Channel,
		dedup:     layer,
		store:     params.DedupStore,
		products:  params.Products,
		clock:     params.Clock,
		logg:      params.Logger,
		tolerance: params.ToleranceKG,
		cooldown:  params.ScanCooldown,
		cart:      cartStore,
		sensor:    monitor,
		checkout:  machine,
	}, nil
}

func (s *Session) Cart() *cart.Store { return s.cart }

func (s *Session) Checkout() *checkout.Machine { return s.checkout }

// Start subscribes the reducers and opens the channel. Seeding the scale
// from the server is best effort.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("kiosk session closed")
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("kiosk session already started")
	}
	s.started = true
	s.teardown = append(s.teardown,
		s.channel.Subscribe(enums.EventWeightUpdate, s.sensor.HandleUpdate),
		s.channel.Subscribe(enums.EventBarcodeScan, dedup.Guard(s.dedup, enums.EventBarcodeScan,
			func(e types.BarcodeScan) string { return e.ScanID }, s.onScan)),
		s.channel.Watch(s.onConnection),
		s.checkout.Watch(s.onCheckoutState),
	)
	s.mu.Unlock()

	s.sensor.SetConnected(s.channel.Status().Connected)
	if err := s.channel.Start(ctx); err != nil {
		return err
	}
	if err := s.sensor.Refresh(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "could not seed latest weight")
	}
	return nil
}

// AddProduct adds a catalog product picked by hand.
func (s *Session) AddProduct(ctx context.Context, id string) (cart.State, error) {
	if s.products == nil {
		return cart.State{}, errors.New("no product source configured")
	}
	product, err := s.products.Product(ctx, id)
	if err != nil {
		return cart.State{}, err
	}
	return s.cart.Add(*product), nil
}

func (s *Session) Snapshot() Snapshot {
	cartState := s.cart.State()
	s.mu.Lock()
	var last *ScanNotice
	if s.lastScan != nil {
		notice := *s.lastScan
		last = &notice
	}
	s.mu.Unlock()

	return Snapshot{
		Connection:  s.channel.Status(),
		Cart:        cartState,
		WeightMatch: reconcile.Classify(s.sensor.Latest(), cartState.ExpectedWeight, s.tolerance),
		Sensor:      s.sensor.Snapshot(),
		Checkout:    s.checkout.Snapshot(),
		LastScan:    last,
	}
}

// Close detaches every subscription, stops timers and closes the channel
// and the dedup store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	teardown := s.teardown
	s.teardown = nil
	nfcOff := s.nfcOff
	s.nfcOff = nil
	s.mu.Unlock()

	for _, off := range teardown {
		off()
	}
	if nfcOff != nil {
		nfcOff()
	}
	s.checkout.Close()
	s.sensor.Close()

	err := s.channel.Close()
	if closer, ok := s.store.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}

func (s *Session) onScan(ctx context.Context, scan types.BarcodeScan, ack func()) {
	ack()

	now := s.clock.Now()
	s.mu.Lock()
	if last := s.lastScan; last != nil && last.Barcode == scan.Barcode && now.Sub(last.At) < s.cooldown {
		s.mu.Unlock()
		s.logg.Debug(s.logg.WithField(ctx, "barcode", scan.Barcode), "barcode within cooldown, ignoring")
		return
	}
	notice := &ScanNotice{ScanID: scan.ScanID, Barcode: scan.Barcode, Known: scan.Product != nil, At: now}
	if scan.Product != nil {
		notice.ProductID = scan.Product.ID
	}
	s.lastScan = notice
	s.mu.Unlock()

	if scan.Product == nil {
		s.logg.Warn(s.logg.WithField(ctx, "barcode", scan.Barcode), "scanned barcode has no product")
		return
	}
	state := s.cart.Add(*scan.Product)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"product_id": scan.Product.ID,
		"item_count": state.ItemCount,
	}), "scanned product added to cart")
}

func (s *Session) onPayment(ctx context.Context, payment types.NfcPayment, ack func()) {
	s.checkout.HandlePayment(ctx, payment, ack)
}

func (s *Session) onConnection(status channel.Status) {
	s.sensor.SetConnected(status.Connected)
}

// onCheckoutState keeps the nfc:payment subscription alive only while a
// payment is awaited.
func (s *Session) onCheckoutState(state enums.CheckoutState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch {
	case state == enums.CheckoutAwaitingPayment && s.nfcOff == nil:
		s.nfcOff = s.channel.Subscribe(enums.EventNfcPayment, dedup.Guard(s.dedup, enums.EventNfcPayment,
			func(e types.NfcPayment) string { return e.PaymentID }, s.onPayment))
	case state != enums.CheckoutAwaitingPayment && s.nfcOff != nil:
		s.nfcOff()
		s.nfcOff = nil
	}
}
