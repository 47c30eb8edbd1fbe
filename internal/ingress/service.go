package ingress

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/hub"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/metrics"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const unknownDevice = "unknown"

type weightRecorder interface {
	Record(ctx context.Context, reading *models.WeightReading) error
}

type productResolver interface {
	ResolveBarcode(ctx context.Context, barcode string) (*models.Product, error)
}

// Service turns device submissions into hub events.
type Service interface {
	SubmitWeight(ctx context.Context, input WeightInput) (*WeightAccepted, error)
	SubmitBarcodeScan(ctx context.Context, input BarcodeInput) (*types.BarcodeScan, error)
	SubmitNfcTrigger(ctx context.Context, input NfcInput) (*types.NfcPayment, error)
}

type WeightInput struct {
	Weight       float64
	DeviceID     string
	ForwardedFor string
}

type WeightAccepted struct {
	Accepted  bool    `json:"accepted"`
	Weight    float64 `json:"weight"`
	Timestamp string  `json:"timestamp"`
	DeviceID  string  `json:"deviceId"`
}

type BarcodeInput struct {
	Barcode string
	Weight  *float64
}

type NfcInput struct {
	CardUID string
	Weight  *float64
	Trigger string
}

type ServiceParams struct {
	Weights   weightRecorder
	Products  productResolver
	Publisher hub.Publisher
	Metrics   *metrics.IngressMetrics
	Logger    *logger.Logger
	Now       func() time.Time
	NewID     func() string
}

type service struct {
	weights   weightRecorder
	products  productResolver
	publisher hub.Publisher
	metrics   *metrics.IngressMetrics
	logg      *logger.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Weights == nil {
		return nil, errors.New("weight recorder is required")
	}
	if params.Products == nil {
		return nil, errors.New("product resolver is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("hub publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	newID := params.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &service{
		weights:   params.Weights,
		products:  params.Products,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
		newID:     newID,
	}, nil
}

// SubmitWeight rounds the sample to two decimals, stores it and only then
// broadcasts weight:update.
func (s *service) SubmitWeight(ctx context.Context, input WeightInput) (*WeightAccepted, error) {
	kind := enums.EventWeightUpdate
	if math.IsNaN(input.Weight) || math.IsInf(input.Weight, 0) {
		s.metrics.Observe(kind.String(), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "weight must be a finite number")
	}

	deviceID := ResolveDeviceID(input.DeviceID, input.ForwardedFor)
	ctx = s.logg.WithDeviceID(ctx, deviceID)
	recordedAt := s.now().UTC()
	reading := &models.WeightReading{
		ID:         s.newID(),
		Weight:     RoundWeight(input.Weight),
		DeviceID:   deviceID,
		RecordedAt: recordedAt,
	}
	if err := s.weights.Record(ctx, reading); err != nil {
		s.metrics.Observe(kind.String(), metrics.OutcomeFailed)
		s.logg.Error(ctx, "weight reading not stored", err)
		return nil, err
	}

	timestamp := types.FormatTimestamp(recordedAt)
	s.broadcast(ctx, kind, types.WeightUpdate{
		Weight:    reading.Weight,
		Timestamp: timestamp,
		DeviceID:  deviceID,
	})
	s.metrics.Observe(kind.String(), metrics.OutcomeAccepted)

	return &WeightAccepted{
		Accepted:  true,
		Weight:    reading.Weight,
		Timestamp: timestamp,
		DeviceID:  deviceID,
	}, nil
}

func (s *service) SubmitBarcodeScan(ctx context.Context, input BarcodeInput) (*types.BarcodeScan, error) {
	kind := enums.EventBarcodeScan
	barcode := SanitizeBarcode(input.Barcode)
	if barcode == "" {
		s.metrics.Observe(kind.String(), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}

	product, err := s.products.ResolveBarcode(ctx, barcode)
	if err != nil {
		s.metrics.Observe(kind.String(), metrics.OutcomeFailed)
		return nil, err
	}

	scan := &types.BarcodeScan{
		ScanID:    s.newID(),
		Barcode:   barcode,
		Weight:    optionalWeight(input.Weight),
		Timestamp: types.FormatTimestamp(s.now()),
		Product:   product,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"scan_id": scan.ScanID, "barcode": barcode, "resolved": product != nil})
	s.broadcast(ctx, kind, scan)
	s.metrics.Observe(kind.String(), metrics.OutcomeAccepted)
	return scan, nil
}

func (s *service) SubmitNfcTrigger(ctx context.Context, input NfcInput) (*types.NfcPayment, error) {
	kind := enums.EventNfcPayment
	cardUID := strings.TrimSpace(input.CardUID)
	if cardUID == "" {
		s.metrics.Observe(kind.String(), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cardUID is required")
	}

	trigger := enums.NormalizeNfcTrigger(input.Trigger)
	payment := &types.NfcPayment{
		PaymentID: s.newID(),
		CardUID:   cardUID,
		Weight:    optionalWeight(input.Weight),
		Timestamp: types.FormatTimestamp(s.now()),
		Trigger:   trigger,
		Status:    enums.PaymentStatusPending,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"payment_id": payment.PaymentID, "trigger": trigger.String()})
	if !trigger.IsKnown() {
		s.logg.Warn(ctx, "unrecognised nfc trigger passed through")
	}
	s.broadcast(ctx, kind, payment)
	s.metrics.Observe(kind.String(), metrics.OutcomeAccepted)
	return payment, nil
}

// broadcast never fails the submission: the event was accepted and, for
// weights, already stored.
func (s *service) broadcast(ctx context.Context, kind enums.EventKind, payload any) {
	delivered, err := s.publisher.Publish(ctx, kind, payload)
	ctx = s.logg.WithEventKind(ctx, kind.String())
	if err != nil {
		s.logg.Error(ctx, "event broadcast failed", err)
		return
	}
	s.logg.Info(s.logg.WithField(ctx, "delivered", delivered), "event broadcast")
}

// RoundWeight rounds half away from zero to two decimals.
func RoundWeight(w float64) float64 {
	return decimal.NewFromFloat(w).Round(2).InexactFloat64()
}

// ResolveDeviceID prefers the id the device sent, then the first
// X-Forwarded-For hop.
func ResolveDeviceID(bodyID, forwardedFor string) string {
	if id := strings.TrimSpace(bodyID); id != "" {
		return id
	}
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return unknownDevice
}

func optionalWeight(w *float64) float64 {
	if w == nil || math.IsNaN(*w) || math.IsInf(*w, 0) {
		return 0
	}
	return *w
}
