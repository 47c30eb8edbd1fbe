package controllers

import (
	"net/http"

	"github.com/angelmondragon/shoppad-backend/api/responses"
	"github.com/angelmondragon/shoppad-backend/internal/realtime"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

// WebSocket upgrades GET /ws. ?events=a,b narrows the subscription.
func WebSocket(srv *realtime.Server, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if srv == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "websocket server unavailable"))
			return
		}

		kinds, err := realtime.ParseKinds(r.URL.Query().Get("events"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		srv.Upgrade(w, r, kinds)
	}
}
