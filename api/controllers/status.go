package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/shoppad-backend/api/responses"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
)

type productCounter interface {
	Count(ctx context.Context) (int64, error)
}

type weightStatus interface {
	Count(ctx context.Context) (int64, error)
	Latest(ctx context.Context) (*models.WeightReading, error)
}

// ConnectionCounter reports live hub connections.
type ConnectionCounter interface {
	Count() int
}

type statusResponse struct {
	Status        string   `json:"status"`
	Products      int64    `json:"products"`
	Readings      int64    `json:"readings"`
	Connections   int      `json:"connections"`
	LatestWeight  *float64 `json:"latestWeight"`
	LatestAt      *string  `json:"latestTimestamp"`
	UptimeSeconds int64    `json:"uptimeSeconds"`
	Timestamp     string   `json:"timestamp"`
}

// Status summarises the running system for operator dashboards.
func Status(products productCounter, weights weightStatus, conns ConnectionCounter, startedAt time.Time, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if products == nil || weights == nil || conns == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "status dependencies unavailable"))
			return
		}
		ctx := r.Context()

		productCount, err := products.Count(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		readingCount, err := weights.Count(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		now := time.Now()
		resp := statusResponse{
			Status:        "ok",
			Products:      productCount,
			Readings:      readingCount,
			Connections:   conns.Count(),
			UptimeSeconds: int64(now.Sub(startedAt).Seconds()),
			Timestamp:     types.FormatTimestamp(now),
		}

		latest, err := weights.Latest(ctx)
		switch {
		case err == nil:
			ts := types.FormatTimestamp(latest.RecordedAt)
			resp.LatestWeight = &latest.Weight
			resp.LatestAt = &ts
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		default:
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}
