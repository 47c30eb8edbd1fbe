package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context) (*models.WeightReading, error)

func (f sourceFunc) LatestWeight(ctx context.Context) (*models.WeightReading, error) { return f(ctx) }

var start = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T, source LatestSource) (*Monitor, *clock.Mock) {
	t.Helper()
	fake := clock.NewMock()
	fake.Set(start)
	m, err := NewMonitor(MonitorParams{Clock: fake, Source: source, Logger: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, fake
}

func TestObserveSanitisesAndTracksStats(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.SetConnected(true)

	assert.True(t, m.Observe(types.WeightUpdate{Weight: 1.5}))
	assert.True(t, m.Observe(types.WeightUpdate{Weight: -0.5, DeviceID: "scale"}))
	assert.False(t, m.Observe(types.WeightUpdate{Weight: math.NaN()}))
	assert.True(t, m.Observe(types.WeightUpdate{Weight: 2.5}))

	snap := m.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 2.5, snap.Latest.Weight)
	assert.Equal(t, Stats{Count: 3, Average: 1.5, Min: 0.5, Max: 2.5, Latest: 2.5}, snap.Stats)
	assert.Equal(t, enums.SensorActive, snap.Status)
}

func TestNegativeRawIsKept(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.Observe(types.WeightUpdate{Weight: -0.25})

	snap := m.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, -0.25, snap.Latest.Raw)
	assert.Equal(t, 0.25, snap.Latest.Weight)
	assert.Equal(t, 0.25, *m.Latest())
}

func TestStatusGoesStaleAfterSilence(t *testing.T) {
	m, fake := newMonitor(t, nil)
	assert.Equal(t, enums.SensorOffline, m.Status())

	m.SetConnected(true)
	assert.Equal(t, enums.SensorWaiting, m.Status())

	m.Observe(types.WeightUpdate{Weight: 1})
	assert.Equal(t, enums.SensorActive, m.Status())

	fake.Add(4 * time.Second)
	m.Observe(types.WeightUpdate{Weight: 1})
	fake.Add(4 * time.Second)
	assert.Equal(t, enums.SensorActive, m.Status(), "new sample should restart the staleness timer")

	fake.Add(time.Second)
	require.Eventually(t, func() bool { return m.Status() == enums.SensorWaiting }, time.Second, time.Millisecond)
}

func TestDisconnectIsOffline(t *testing.T) {
	m, fake := newMonitor(t, nil)
	m.SetConnected(true)
	m.Observe(types.WeightUpdate{Weight: 1})

	m.SetConnected(false)
	assert.Equal(t, enums.SensorOffline, m.Status())

	m.SetConnected(true)
	assert.Equal(t, enums.SensorWaiting, m.Status())

	// the stopped timer must not flip a later sample back to waiting early
	fake.Add(DefaultStaleAfter - time.Second)
	m.Observe(types.WeightUpdate{Weight: 2})
	fake.Add(2 * time.Second)
	assert.Equal(t, enums.SensorActive, m.Status())
}

func TestHandleUpdateIgnoresMalformedPayload(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.HandleUpdate(context.Background(), json.RawMessage(`{"weight":"heavy"}`))
	assert.Nil(t, m.Latest())

	m.HandleUpdate(context.Background(), json.RawMessage(`{"weight":3.2,"timestamp":"2025-05-01T10:00:00.000Z"}`))
	require.NotNil(t, m.Latest())
	assert.Equal(t, 3.2, *m.Latest())
}

func TestRefreshSeedsLatestOnce(t *testing.T) {
	recorded := start.Add(-time.Minute)
	m, _ := newMonitor(t, sourceFunc(func(context.Context) (*models.WeightReading, error) {
		return &models.WeightReading{ID: "r1", Weight: 4.2, DeviceID: "scale", RecordedAt: recorded}, nil
	}))
	m.SetConnected(true)

	require.NoError(t, m.Refresh(context.Background()))
	snap := m.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 4.2, snap.Latest.Weight)
	assert.Equal(t, "2025-05-01T09:59:00.000Z", snap.Latest.Timestamp)
	assert.Equal(t, enums.SensorWaiting, snap.Status, "a stored reading does not prove the scale is live")
	assert.Equal(t, Stats{}, snap.Stats, "a seeded reading is not a live sample")

	m.Observe(types.WeightUpdate{Weight: 1})
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 1.0, *m.Latest(), "refresh must not overwrite a live sample")
	assert.Equal(t, Stats{Count: 1, Average: 1, Min: 1, Max: 1, Latest: 1}, m.Snapshot().Stats)
}

func TestSnapshotAfterSeedOnly(t *testing.T) {
	m, _ := newMonitor(t, sourceFunc(func(context.Context) (*models.WeightReading, error) {
		return &models.WeightReading{ID: "r1", Weight: 2.5, RecordedAt: start}, nil
	}))
	require.NoError(t, m.Refresh(context.Background()))

	var snap Snapshot
	require.NotPanics(t, func() { snap = m.Snapshot() })
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 2.5, snap.Latest.Weight)
	assert.Zero(t, snap.Stats.Count)
	assert.Equal(t, enums.SensorOffline, snap.Status)
}

func TestRefreshErrors(t *testing.T) {
	m, _ := newMonitor(t, nil)
	require.Error(t, m.Refresh(context.Background()))

	failing, _ := newMonitor(t, sourceFunc(func(context.Context) (*models.WeightReading, error) {
		return nil, errors.New("server down")
	}))
	require.EqualError(t, failing.Refresh(context.Background()), "server down")
}

func TestCloseStopsTimer(t *testing.T) {
	m, fake := newMonitor(t, nil)
	m.SetConnected(true)
	m.Observe(types.WeightUpdate{Weight: 1})

	m.Close()
	fake.Add(time.Hour)
	assert.Equal(t, enums.SensorActive, m.Status(), "a closed monitor keeps its last status")
	assert.False(t, m.Observe(types.WeightUpdate{Weight: 2}))
}
