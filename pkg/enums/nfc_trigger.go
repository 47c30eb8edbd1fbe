package enums

import "strings"

// NfcTrigger records what caused an NFC payment event.
type NfcTrigger string

const (
	NfcTriggerDetected NfcTrigger = "nfc_detected"
	NfcTriggerManual   NfcTrigger = "manual"
	NfcTriggerAuto     NfcTrigger = "auto"
)

var knownNfcTriggers = []NfcTrigger{
	NfcTriggerDetected,
	NfcTriggerManual,
	NfcTriggerAuto,
}

func (t NfcTrigger) String() string {
	return string(t)
}

// IsKnown reports whether the trigger is one the readers are known to send.
func (t NfcTrigger) IsKnown() bool {
	for _, candidate := range knownNfcTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

// NormalizeNfcTrigger lowercases and trims the raw value and falls back to
// nfc_detected when empty. Unknown values pass through so new reader
// firmware is not rejected.
func NormalizeNfcTrigger(value string) NfcTrigger {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return NfcTriggerDetected
	}
	return NfcTrigger(v)
}
