package cart

import (
	"sort"
	"sync"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

// DefaultItemWeightKG is assumed for products with no catalog weight.
const DefaultItemWeightKG = 0.3

// Line is one product in the cart.
type Line struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

// State is an immutable view of the cart. Totals are derived from Lines.
type State struct {
	Lines             []Line  `json:"lines"`
	Total             float64 `json:"total"`
	ItemCount         int     `json:"itemCount"`
	ExpectedWeight    float64 `json:"expectedWeight"`
	CheckoutRequested bool    `json:"checkoutRequested"`
	Revision          uint64  `json:"revision"`
}

// IsEmpty reports whether the cart holds no lines.
func (s State) IsEmpty() bool { return len(s.Lines) == 0 }

// Store holds the kiosk cart keyed by product id. Every mutation bumps the
// revision and notifies listeners with the new state.
type Store struct {
	mu                sync.Mutex
	lines             map[string]*Line
	order             []string
	checkoutRequested bool
	revision          uint64
	defaultWeight     decimal.Decimal

	listeners map[int]func(State)
	nextID    int
}

// NewStore builds an empty cart. defaultItemWeight <= 0 falls back to
// DefaultItemWeightKG.
func NewStore(defaultItemWeight float64) *Store {
	if defaultItemWeight <= 0 {
		defaultItemWeight = DefaultItemWeightKG
	}
	return &Store{
		lines:         map[string]*Line{},
		defaultWeight: decimal.NewFromFloat(defaultItemWeight),
		listeners:     map[int]func(State){},
	}
}

// Add increments the product's quantity, creating the line when missing.
func (s *Store) Add(product models.Product) State {
	return s.mutate(func() bool {
		if line, ok := s.lines[product.ID]; ok {
			line.Quantity++
			return true
		}
		s.lines[product.ID] = &Line{Product: product, Quantity: 1}
		s.order = append(s.order, product.ID)
		return true
	})
}

// Remove drops the line for id. Unknown ids are a no-op.
func (s *Store) Remove(id string) State {
	return s.mutate(func() bool { return s.removeLocked(id) })
}

// UpdateQuantity sets the line quantity; q <= 0 removes the line.
func (s *Store) UpdateQuantity(id string, q int) State {
	return s.mutate(func() bool {
		if q <= 0 {
			return s.removeLocked(id)
		}
		line, ok := s.lines[id]
		if !ok || line.Quantity == q {
			return false
		}
		line.Quantity = q
		return true
	})
}

// Clear empties the cart and resets the checkout flag.
func (s *Store) Clear() State {
	return s.mutate(func() bool {
		if len(s.lines) == 0 && !s.checkoutRequested {
			return false
		}
		s.lines = map[string]*Line{}
		s.order = nil
		s.checkoutRequested = false
		return true
	})
}

func (s *Store) SetCheckoutRequested(requested bool) State {
	return s.mutate(func() bool {
		if s.checkoutRequested == requested {
			return false
		}
		s.checkoutRequested = requested
		return true
	})
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Revision increases on every effective mutation.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Subscribe registers listener for state changes and returns its remover.
func (s *Store) Subscribe(listener func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) removeLocked(id string) bool {
	if _, ok := s.lines[id]; !ok {
		return false
	}
	delete(s.lines, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// mutate applies fn under the lock and notifies listeners outside it when
// fn reports a change.
func (s *Store) mutate(fn func() bool) State {
	s.mu.Lock()
	changed := fn()
	if changed {
		s.revision++
	}
	state := s.snapshotLocked()
	var listeners []func(State)
	if changed {
		ids := make([]int, 0, len(s.listeners))
		for id := range s.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			listeners = append(listeners, s.listeners[id])
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
	return state
}

func (s *Store) snapshotLocked() State {
	state := State{
		Lines:             make([]Line, 0, len(s.order)),
		CheckoutRequested: s.checkoutRequested,
		Revision:          s.revision,
	}
	total := decimal.Zero
	weight := decimal.Zero
	for _, id := range s.order {
		line := *s.lines[id]
		state.Lines = append(state.Lines, line)

		qty := decimal.NewFromInt(int64(line.Quantity))
		total = total.Add(decimal.NewFromFloat(line.Product.Price).Mul(qty))
		weight = weight.Add(s.itemWeight(line.Product).Mul(qty))
		state.ItemCount += line.Quantity
	}
	state.Total = total.Round(2).InexactFloat64()
	state.ExpectedWeight = weight.Round(3).InexactFloat64()
	return state
}

func (s *Store) itemWeight(p models.Product) decimal.Decimal {
	if p.Weight == nil {
		return s.defaultWeight
	}
	return decimal.NewFromFloat(*p.Weight)
}
