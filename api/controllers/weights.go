package controllers

import (
	"net/http"

	"github.com/angelmondragon/shoppad-backend/api/responses"
	"github.com/angelmondragon/shoppad-backend/api/validators"
	weightsvc "github.com/angelmondragon/shoppad-backend/internal/weights"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

// WeightHistory lists the most recent readings, newest first.
func WeightHistory(svc weightsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "weight service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", weightsvc.DefaultHistoryLimit, 1, weightsvc.MaxHistoryLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		readings, err := svc.History(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, readings)
	}
}

func WeightLatest(svc weightsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "weight service unavailable"))
			return
		}

		reading, err := svc.Latest(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reading)
	}
}
