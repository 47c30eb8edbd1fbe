package enums

import "fmt"

// CheckoutState tracks the kiosk payment flow.
type CheckoutState string

const (
	CheckoutIdle            CheckoutState = "idle"
	CheckoutRequested       CheckoutState = "checkout_requested"
	CheckoutAwaitingPayment CheckoutState = "awaiting_payment"
	CheckoutPaymentDetected CheckoutState = "payment_detected"
	CheckoutReceiptIssued   CheckoutState = "receipt_issued"
)

var validCheckoutStates = []CheckoutState{
	CheckoutIdle,
	CheckoutRequested,
	CheckoutAwaitingPayment,
	CheckoutPaymentDetected,
	CheckoutReceiptIssued,
}

func (s CheckoutState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CheckoutState.
func (s CheckoutState) IsValid() bool {
	for _, candidate := range validCheckoutStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCheckoutState converts raw input into a CheckoutState.
func ParseCheckoutState(value string) (CheckoutState, error) {
	for _, candidate := range validCheckoutStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout state %q", value)
}
