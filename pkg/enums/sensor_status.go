package enums

// SensorStatus is the kiosk's view of the weight scale.
type SensorStatus string

const (
	SensorActive  SensorStatus = "active"
	SensorWaiting SensorStatus = "waiting"
	SensorOffline SensorStatus = "offline"
)

func (s SensorStatus) String() string {
	return string(s)
}
