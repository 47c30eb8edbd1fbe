package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/hub"
	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Registrar is the hub surface the transport needs.
type Registrar interface {
	Register(ctx context.Context, conn hub.Conn, kinds ...enums.EventKind) error
	Unregister(ctx context.Context, id string)
}

// Server upgrades GET /ws requests into hub connections.
type Server struct {
	hub      Registrar
	logg     *logger.Logger
	opts     connOptions
	upgrader websocket.Upgrader
	newID    func() string
}

type ServerParams struct {
	Hub            Registrar
	Logger         *logger.Logger
	Config         config.WebSocketConfig
	AllowedOrigins []string
}

func NewServer(params ServerParams) (*Server, error) {
	if params.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := withDefaults(params.Config)

	s := &Server{
		hub:  params.Hub,
		logg: params.Logger,
		opts: connOptions{
			sendBuffer:   cfg.SendBuffer,
			pingInterval: cfg.PingInterval,
			pongTimeout:  cfg.PongTimeout,
			writeTimeout: cfg.WriteTimeout,
			maxMessage:   cfg.MaxMessageSize,
		},
		newID: uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(params.AllowedOrigins),
	}
	return s, nil
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 << 10
	}
	return cfg
}

// Upgrade takes over the request and registers the socket with the hub,
// narrowed to kinds when any are given.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request, kinds []enums.EventKind) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.logg.Warn(s.logg.WithField(r.Context(), "error", err.Error()), "websocket upgrade failed")
		return
	}

	conn := newConn(s.newID(), ws, s.opts)
	// the request context ends when this handler returns
	ctx := s.logg.WithFields(context.Background(), map[string]any{
		"socket_id":   conn.ID(),
		"remote_addr": r.RemoteAddr,
	})

	if err := s.hub.Register(ctx, conn, kinds...); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "hub refused connection")
		_ = conn.Close()
		return
	}

	go conn.writePump()
	go func() {
		err := conn.readPump(ctx, s.opts.maxMessage, s.onClientFrame)
		s.hub.Unregister(ctx, conn.ID())
		_ = conn.Close()
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logg.Debug(s.logg.WithField(ctx, "error", err.Error()), "websocket read ended")
		}
	}()
}

func (s *Server) onClientFrame(ctx context.Context, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logg.Debug(ctx, "ignoring malformed client frame")
		return
	}
	s.logg.Debug(s.logg.WithEventKind(ctx, frame.Event.String()), "ignoring client frame")
}

// ParseKinds reads the comma separated ?events= filter.
func ParseKinds(raw string) ([]enums.EventKind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var kinds []enums.EventKind
	for _, part := range strings.Split(raw, ",") {
		kind, err := enums.ParseEventKind(strings.TrimSpace(part))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid events filter").
				WithDetails(map[string]any{"events": raw})
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// originChecker allows requests without an Origin header (devices and
// native clients) plus any origin on the allow-list; "*" allows all.
func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]struct{}{}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
