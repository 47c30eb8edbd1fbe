package enums

import "fmt"

// EventKind names a hub event. The values are the wire names and must stay stable.
type EventKind string

const (
	EventWeightUpdate EventKind = "weight:update"
	EventBarcodeScan  EventKind = "barcode:scan"
	EventNfcPayment   EventKind = "nfc:payment"
	EventConnected    EventKind = "connected"
)

var validEventKinds = []EventKind{
	EventWeightUpdate,
	EventBarcodeScan,
	EventNfcPayment,
	EventConnected,
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known EventKind.
func (k EventKind) IsValid() bool {
	for _, candidate := range validEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseEventKind converts raw input into an EventKind.
func ParseEventKind(value string) (EventKind, error) {
	for _, candidate := range validEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", value)
}
