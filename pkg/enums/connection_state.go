package enums

// ConnectionState is the kiosk channel's lifecycle state.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
)

func (s ConnectionState) String() string {
	return string(s)
}
