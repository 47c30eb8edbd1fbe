package controllers

import (
	"net/http"

	"github.com/angelmondragon/shoppad-backend/api/responses"
	"github.com/angelmondragon/shoppad-backend/api/validators"
	"github.com/angelmondragon/shoppad-backend/internal/ingress"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

type submitWeightRequest struct {
	Weight   *float64 `json:"weight" validate:"required"`
	DeviceID string   `json:"deviceId" validate:"max=128"`
}

type submitBarcodeRequest struct {
	Barcode ingress.BarcodeValue `json:"barcode" validate:"required"`
	Weight  *float64             `json:"weight"`
}

type submitNfcRequest struct {
	CardUID string   `json:"cardUID" validate:"required"`
	Weight  *float64 `json:"weight"`
	Trigger string   `json:"trigger" validate:"max=64"`
}

// SubmitWeight accepts a scale sample from a device.
func SubmitWeight(svc ingress.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingress service unavailable"))
			return
		}

		var payload submitWeightRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		accepted, err := svc.SubmitWeight(r.Context(), ingress.WeightInput{
			Weight:       *payload.Weight,
			DeviceID:     payload.DeviceID,
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accepted)
	}
}

// SubmitBarcodeScan accepts a scanner read.
func SubmitBarcodeScan(svc ingress.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingress service unavailable"))
			return
		}

		var payload submitBarcodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		scan, err := svc.SubmitBarcodeScan(r.Context(), ingress.BarcodeInput{
			Barcode: string(payload.Barcode),
			Weight:  payload.Weight,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, scan)
	}
}

// SubmitNfcTrigger accepts a simulated NFC tap.
func SubmitNfcTrigger(svc ingress.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingress service unavailable"))
			return
		}

		var payload submitNfcRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.SubmitNfcTrigger(r.Context(), ingress.NfcInput{
			CardUID: payload.CardUID,
			Weight:  payload.Weight,
			Trigger: payload.Trigger,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}
