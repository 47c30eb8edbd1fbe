package enums

// PaymentStatus is the server-side status carried on nfc:payment events.
// Completion is inferred by the kiosk and never reported back.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
)

func (p PaymentStatus) String() string {
	return string(p)
}
