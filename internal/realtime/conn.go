package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/gorilla/websocket"
)

var (
	// ErrSlowConsumer means the outbox was full and the frame was dropped.
	ErrSlowConsumer = errors.New("websocket outbox full")
	ErrConnClosed   = errors.New("websocket connection closed")
)

// Conn adapts a websocket to hub.Conn. Frames are queued on a bounded
// outbox and written by a single pump goroutine.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

func newConn(id string, ws *websocket.Conn, opts connOptions) *Conn {
	return &Conn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, opts.sendBuffer),
		done:         make(chan struct{}),
		pingInterval: opts.pingInterval,
		pongTimeout:  opts.pongTimeout,
		writeTimeout: opts.writeTimeout,
	}
}

type connOptions struct {
	sendBuffer   int
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	maxMessage   int64
}

func (c *Conn) ID() string { return c.id }

// Deliver queues frame without blocking.
func (c *Conn) Deliver(_ enums.EventKind, frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close sends a close frame and tears the socket down. Safe to call twice.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(c.writeTimeout),
		)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// readPump blocks until the peer goes away. Inbound frames are handed to
// onFrame; the server does not act on client events.
func (c *Conn) readPump(ctx context.Context, maxMessage int64, onFrame func(context.Context, []byte)) error {
	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		if onFrame != nil {
			onFrame(ctx, data)
		}
	}
}
