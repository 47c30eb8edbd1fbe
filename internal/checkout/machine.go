package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/cart"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/benbjohnson/clock"
)

const (
	DefaultSuccessDisplay = 5 * time.Second
	DefaultReceiptTTL     = 180 * time.Second
)

// Cart is the cart surface the machine drives. It is called with the
// machine lock held, so cart listeners must not call back into the machine.
type Cart interface {
	State() cart.State
	Revision() uint64
	Clear() cart.State
	SetCheckoutRequested(requested bool) cart.State
}

// Payment is an NFC trigger accepted while awaiting payment.
type Payment struct {
	PaymentID  string           `json:"paymentId"`
	CardUID    string           `json:"cardUID"`
	Weight     float64          `json:"weight"`
	Trigger    enums.NfcTrigger `json:"trigger"`
	DetectedAt time.Time        `json:"detectedAt"`
	// StaleCart is set when the cart changed after payment was armed.
	StaleCart bool `json:"staleCart"`
}

// Receipt is the token minted when a payment completes. Its id is the card
// UID that paid.
type Receipt struct {
	ID        string      `json:"id"`
	PaymentID string      `json:"paymentId"`
	Total     float64     `json:"total"`
	ItemCount int         `json:"itemCount"`
	Lines     []cart.Line `json:"lines"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Snapshot struct {
	State            enums.CheckoutState `json:"state"`
	Payment          *Payment            `json:"payment,omitempty"`
	Receipt          *Receipt            `json:"receipt,omitempty"`
	ReceiptRemaining time.Duration       `json:"receiptRemaining"`
}

type MachineParams struct {
	Cart           Cart
	Clock          clock.Clock
	Logger         *logger.Logger
	SuccessDisplay time.Duration
	ReceiptTTL     time.Duration
}

// Machine runs the kiosk payment flow:
// idle → checkout_requested → awaiting_payment → payment_detected → receipt_issued → idle.
type Machine struct {
	cart           Cart
	clock          clock.Clock
	logg           *logger.Logger
	successDisplay time.Duration
	receiptTTL     time.Duration

	// notifyMu is held from a state change until its listeners return, so
	// listeners observe transitions in the order they were applied. It is
	// always taken before mu.
	notifyMu sync.Mutex

	mu            sync.Mutex
	state         enums.CheckoutState
	armedRevision uint64
	payment       *Payment
	receipt       *Receipt
	timer         *clock.Timer
	timerGen      uint64
	closed        bool

	listeners map[int]func(enums.CheckoutState)
	nextID    int
}

func NewMachine(params MachineParams) (*Machine, error) {
	if params.Cart == nil {
		return nil, errors.New("cart is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.SuccessDisplay <= 0 {
		params.SuccessDisplay = DefaultSuccessDisplay
	}
	if params.ReceiptTTL <= 0 {
		params.ReceiptTTL = DefaultReceiptTTL
	}
	return &Machine{
		cart:           params.Cart,
		clock:          params.Clock,
		logg:           params.Logger,
		successDisplay: params.SuccessDisplay,
		receiptTTL:     params.ReceiptTTL,
		state:          enums.CheckoutIdle,
		listeners:      map[int]func(enums.CheckoutState){},
	}, nil
}

func (m *Machine) State() enums.CheckoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{State: m.state}
	if m.payment != nil {
		p := *m.payment
		snap.Payment = &p
	}
	if m.receipt != nil {
		r := *m.receipt
		snap.Receipt = &r
		if remaining := r.ExpiresAt.Sub(m.clock.Now()); remaining > 0 {
			snap.ReceiptRemaining = remaining
		}
	}
	return snap
}

// Watch registers listener for state transitions. Listeners run outside the
// state lock, one transition at a time and in transition order. A listener
// must not call back into the machine's transition methods.
func (m *Machine) Watch(listener func(enums.CheckoutState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// RequestCheckout arms payment. It is a no-op returning false when the cart
// is empty or a checkout is already in progress.
func (m *Machine) RequestCheckout(ctx context.Context) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.closed || m.state != enums.CheckoutIdle {
		m.mu.Unlock()
		return false
	}
	state := m.cart.State()
	if state.IsEmpty() {
		m.mu.Unlock()
		m.logg.Debug(ctx, "checkout requested with empty cart")
		return false
	}
	m.cart.SetCheckoutRequested(true)
	m.armedRevision = m.cart.Revision()
	m.payment = nil
	// checkout_requested is transient; listeners still observe it
	m.state = enums.CheckoutAwaitingPayment
	m.mu.Unlock()

	m.notify(enums.CheckoutRequested, enums.CheckoutAwaitingPayment)
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"item_count": state.ItemCount,
		"total":      state.Total,
	}), "checkout awaiting payment")
	return true
}

// HandlePayment accepts an NFC trigger. Only awaiting_payment reacts; ack is
// called once the payment is taken so the event is not replayed.
func (m *Machine) HandlePayment(ctx context.Context, event types.NfcPayment, ack func()) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.closed || m.state != enums.CheckoutAwaitingPayment {
		state := m.state
		m.mu.Unlock()
		m.logg.Debug(m.logg.WithFields(ctx, map[string]any{
			"payment_id": event.PaymentID,
			"state":      state.String(),
		}), "ignoring payment outside awaiting_payment")
		return false
	}
	if ack != nil {
		ack()
	}
	payment := &Payment{
		PaymentID:  event.PaymentID,
		CardUID:    event.CardUID,
		Weight:     event.Weight,
		Trigger:    event.Trigger,
		DetectedAt: m.clock.Now(),
		StaleCart:  m.cart.Revision() != m.armedRevision,
	}
	m.payment = payment
	m.state = enums.CheckoutPaymentDetected
	m.armLocked(m.successDisplay, m.onSuccessElapsed)
	m.mu.Unlock()

	ctx = m.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.PaymentID,
		"card_uid":   payment.CardUID,
	})
	if payment.StaleCart {
		m.logg.Warn(ctx, "payment detected for a cart changed after checkout was requested")
	} else {
		m.logg.Info(ctx, "payment detected")
	}
	m.notify(enums.CheckoutPaymentDetected)
	return true
}

// ClosePayment completes a detected payment ahead of the success timer.
func (m *Machine) ClosePayment() (*Receipt, bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.state != enums.CheckoutPaymentDetected {
		m.mu.Unlock()
		return nil, false
	}
	receipt := m.completeLocked()
	m.mu.Unlock()

	m.notify(enums.CheckoutReceiptIssued)
	return receipt, true
}

// DismissReceipt returns to idle; the receipt stops resolving.
func (m *Machine) DismissReceipt() bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.state != enums.CheckoutReceiptIssued {
		m.mu.Unlock()
		return false
	}
	m.resetLocked()
	m.mu.Unlock()

	m.notify(enums.CheckoutIdle)
	return true
}

// Cancel abandons a checkout that has not detected a payment. The cart is
// kept.
func (m *Machine) Cancel() bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.state != enums.CheckoutRequested && m.state != enums.CheckoutAwaitingPayment {
		m.mu.Unlock()
		return false
	}
	m.resetLocked()
	m.cart.SetCheckoutRequested(false)
	m.mu.Unlock()

	m.notify(enums.CheckoutIdle)
	return true
}

// Receipt resolves an issued, unexpired receipt by id.
func (m *Machine) Receipt(id string) (*Receipt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receipt == nil || m.receipt.ID != id || !m.clock.Now().Before(m.receipt.ExpiresAt) {
		return nil, false
	}
	r := *m.receipt
	return &r, true
}

// Close cancels pending timers. Later calls are no-ops.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
}

func (m *Machine) onSuccessElapsed(gen uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.closed || gen != m.timerGen || m.state != enums.CheckoutPaymentDetected {
		m.mu.Unlock()
		return
	}
	m.completeLocked()
	m.mu.Unlock()
	m.notify(enums.CheckoutReceiptIssued)
}

func (m *Machine) onReceiptExpired(gen uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.closed || gen != m.timerGen || m.state != enums.CheckoutReceiptIssued {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.notify(enums.CheckoutIdle)
}

func (m *Machine) completeLocked() *Receipt {
	state := m.cart.State()
	now := m.clock.Now()
	receipt := &Receipt{
		ID:        m.payment.CardUID,
		PaymentID: m.payment.PaymentID,
		Total:     state.Total,
		ItemCount: state.ItemCount,
		Lines:     state.Lines,
		CreatedAt: now,
		ExpiresAt: now.Add(m.receiptTTL),
	}
	m.cart.Clear()
	m.receipt = receipt
	m.state = enums.CheckoutReceiptIssued
	m.armLocked(m.receiptTTL, m.onReceiptExpired)

	r := *receipt
	return &r
}

func (m *Machine) resetLocked() {
	m.stopLocked()
	m.state = enums.CheckoutIdle
	m.payment = nil
	m.receipt = nil
	m.armedRevision = 0
}

// armLocked replaces the pending timer. The generation lets a callback that
// already fired detect it was superseded.
func (m *Machine) armLocked(d time.Duration, fn func(gen uint64)) {
	m.stopLocked()
	if m.closed {
		return
	}
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(d, func() { fn(gen) })
}

func (m *Machine) stopLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) notify(states ...enums.CheckoutState) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(enums.CheckoutState), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	for _, state := range states {
		for _, l := range listeners {
			l(state)
		}
	}
}
