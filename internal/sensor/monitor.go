package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
)

// DefaultStaleAfter is how long an active scale may stay silent.
const DefaultStaleAfter = 5 * time.Second

// LatestSource returns the most recent stored reading.
type LatestSource interface {
	LatestWeight(ctx context.Context) (*models.WeightReading, error)
}

type Reading struct {
	Raw        float64   `json:"raw"`
	Weight     float64   `json:"weight"`
	Timestamp  string    `json:"timestamp"`
	DeviceID   string    `json:"deviceId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type Stats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Latest  float64 `json:"latest"`
}

type Snapshot struct {
	Status enums.SensorStatus `json:"status"`
	Latest *Reading           `json:"latest,omitempty"`
	Stats  Stats              `json:"stats"`
}

type MonitorParams struct {
	StaleAfter time.Duration
	Clock      clock.Clock
	Source     LatestSource
	Logger     *logger.Logger
}

// Monitor tracks the scale from weight:update events.
type Monitor struct {
	staleAfter time.Duration
	clock      clock.Clock
	source     LatestSource
	logg       *logger.Logger

	mu        sync.Mutex
	connected bool
	fresh     bool
	latest    *Reading
	count     int
	sum       decimal.Decimal
	min, max  float64
	stale     *clock.Timer
	closed    bool
}

func NewMonitor(params MonitorParams) (*Monitor, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.StaleAfter <= 0 {
		params.StaleAfter = DefaultStaleAfter
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	return &Monitor{
		staleAfter: params.StaleAfter,
		clock:      params.Clock,
		source:     params.Source,
		logg:       params.Logger,
		sum:        decimal.Zero,
	}, nil
}

// HandleUpdate consumes a raw weight:update payload.
func (m *Monitor) HandleUpdate(ctx context.Context, data json.RawMessage) {
	var update types.WeightUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "ignoring malformed weight update")
		return
	}
	m.Observe(update)
}

// Observe records one sample. The sanitised weight is |raw|; non-finite
// values are ignored.
func (m *Monitor) Observe(update types.WeightUpdate) bool {
	raw := update.Weight
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return false
	}
	weight := math.Abs(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.latest = &Reading{
		Raw:        raw,
		Weight:     weight,
		Timestamp:  update.Timestamp,
		DeviceID:   update.DeviceID,
		ReceivedAt: m.clock.Now(),
	}
	if m.count == 0 || weight < m.min {
		m.min = weight
	}
	if m.count == 0 || weight > m.max {
		m.max = weight
	}
	m.count++
	m.sum = m.sum.Add(decimal.NewFromFloat(weight))
	m.fresh = true
	m.armLocked()
	return true
}

// SetConnected follows the channel; a disconnected scale is Offline.
func (m *Monitor) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	if !connected {
		m.fresh = false
		m.stopLocked()
	}
}

func (m *Monitor) Status() enums.SensorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Latest returns the last sanitised weight, nil before any sample.
func (m *Monitor) Latest() *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	w := m.latest.Weight
	return &w
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Status: m.statusLocked()}
	if m.latest != nil {
		latest := *m.latest
		snap.Latest = &latest
	}
	// stats cover live samples only; a seeded reading is not counted
	if m.count > 0 {
		snap.Stats = Stats{
			Count:   m.count,
			Average: m.sum.Div(decimal.NewFromInt(int64(m.count))).Round(3).InexactFloat64(),
			Min:     m.min,
			Max:     m.max,
			Latest:  m.latest.Weight,
		}
	}
	return snap
}

// Refresh seeds the latest reading from the server. It does not mark the
// scale active since the stored reading may be old.
func (m *Monitor) Refresh(ctx context.Context) error {
	if m.source == nil {
		return errors.New("no latest weight source configured")
	}
	reading, err := m.source.LatestWeight(ctx)
	if err != nil {
		return err
	}
	if reading == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest != nil || m.closed {
		return nil
	}
	m.latest = &Reading{
		Raw:        reading.Weight,
		Weight:     math.Abs(reading.Weight),
		Timestamp:  types.FormatTimestamp(reading.RecordedAt),
		DeviceID:   reading.DeviceID,
		ReceivedAt: m.clock.Now(),
	}
	return nil
}

// Close cancels the staleness timer.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
}

func (m *Monitor) statusLocked() enums.SensorStatus {
	switch {
	case !m.connected:
		return enums.SensorOffline
	case m.fresh:
		return enums.SensorActive
	default:
		return enums.SensorWaiting
	}
}

func (m *Monitor) armLocked() {
	m.stopLocked()
	var timer *clock.Timer
	timer = m.clock.AfterFunc(m.staleAfter, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// a newer sample re-armed with a different timer
		if m.stale != timer {
			return
		}
		m.fresh = false
		m.stale = nil
	})
	m.stale = timer
}

func (m *Monitor) stopLocked() {
	if m.stale != nil {
		m.stale.Stop()
		m.stale = nil
	}
}
