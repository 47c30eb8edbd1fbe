package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/gorilla/websocket"
)

// WSDialer opens gorilla websocket transports to the hub endpoint.
type WSDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// ReadTimeout bounds silence from the server; pings and frames reset it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context) (Transport, error) {
	if d.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 20 * time.Second
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	t := &wsTransport{ws: ws, readTimeout: d.ReadTimeout, writeTimeout: d.WriteTimeout}
	if t.readTimeout <= 0 {
		t.readTimeout = 60 * time.Second
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = 10 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(t.readTimeout))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(t.readTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(t.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return t, nil
}

type wsTransport struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) Read() (types.Frame, error) {
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			return types.Frame{}, err
		}
		_ = t.ws.SetReadDeadline(time.Now().Add(t.readTimeout))
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			continue
		}
		return frame, nil
	}
}

func (t *wsTransport) Write(frame []byte) error {
	_ = t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close is safe to call more than once.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}
