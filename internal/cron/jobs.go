package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/metrics"
)

type connectionCounter interface {
	Count() int
}

type readingStats interface {
	Latest(ctx context.Context) (*models.WeightReading, error)
	Count(ctx context.Context) (int64, error)
}

// HubStatsJob reports this instance's live connections.
type HubStatsJob struct {
	hub     connectionCounter
	metrics *metrics.HubMetrics
	logg    *logger.Logger
}

func NewHubStatsJob(hub connectionCounter, m *metrics.HubMetrics, logg *logger.Logger) (*HubStatsJob, error) {
	if hub == nil {
		return nil, errors.New("hub required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &HubStatsJob{hub: hub, metrics: m, logg: logg}, nil
}

func (j *HubStatsJob) Name() string { return "hub-stats" }

func (j *HubStatsJob) Run(ctx context.Context) error {
	n := j.hub.Count()
	j.metrics.SetConnections(n)
	j.logg.Info(j.logg.WithField(ctx, "connections", n), "hub connections")
	return nil
}

// ScaleWatchdogJob warns when no scale has reported for a while. The
// readings table is shared, so only one instance runs it.
type ScaleWatchdogJob struct {
	readings     readingStats
	silenceAfter time.Duration
	now          func() time.Time
	logg         *logger.Logger
}

type ScaleWatchdogParams struct {
	Readings     readingStats
	SilenceAfter time.Duration
	Now          func() time.Time
	Logger       *logger.Logger
}

func NewScaleWatchdogJob(params ScaleWatchdogParams) (*ScaleWatchdogJob, error) {
	if params.Readings == nil {
		return nil, errors.New("weight readings required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.SilenceAfter <= 0 {
		params.SilenceAfter = 10 * time.Minute
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &ScaleWatchdogJob{
		readings:     params.Readings,
		silenceAfter: params.SilenceAfter,
		now:          params.Now,
		logg:         params.Logger,
	}, nil
}

func (j *ScaleWatchdogJob) Name() string { return "scale-watchdog" }

func (j *ScaleWatchdogJob) Exclusive() bool { return true }

func (j *ScaleWatchdogJob) Run(ctx context.Context) error {
	total, err := j.readings.Count(ctx)
	if err != nil {
		return err
	}
	latest, err := j.readings.Latest(ctx)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		j.logg.Warn(ctx, "no scale has reported yet")
		return nil
	}
	if err != nil {
		return err
	}

	age := j.now().Sub(latest.RecordedAt)
	ctx = j.logg.WithFields(ctx, map[string]any{
		"readings":       total,
		"last_device_id": latest.DeviceID,
		"silent_for_ms":  age.Milliseconds(),
	})
	if age > j.silenceAfter {
		j.logg.Warn(ctx, "scale silent")
		return nil
	}
	j.logg.Debug(ctx, "scale reporting")
	return nil
}
