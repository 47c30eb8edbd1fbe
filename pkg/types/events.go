package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Frame is the JSON unit exchanged over a hub connection.
type Frame struct {
	Event enums.EventKind `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFrame marshals payload into a frame for kind.
func NewFrame(kind enums.EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: kind, Data: data})
}

type WeightUpdate struct {
	Weight    float64 `json:"weight"`
	Timestamp string  `json:"timestamp"`
	DeviceID  string  `json:"deviceId,omitempty"`
}

type BarcodeScan struct {
	ScanID    string          `json:"scanId"`
	Barcode   string          `json:"barcode"`
	Weight    float64         `json:"weight"`
	Timestamp string          `json:"timestamp"`
	Product   *models.Product `json:"product"`
}

type NfcPayment struct {
	PaymentID string              `json:"paymentId"`
	CardUID   string              `json:"cardUID"`
	Weight    float64             `json:"weight"`
	Timestamp string              `json:"timestamp"`
	Trigger   enums.NfcTrigger    `json:"trigger"`
	Status    enums.PaymentStatus `json:"status"`
}

type Connected struct {
	SocketID  string `json:"socketId"`
	Timestamp string `json:"timestamp"`
}
