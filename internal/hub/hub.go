package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/metrics"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"go.uber.org/multierr"
)

// ErrHubStopped is returned by Publish and Register when the hub is not running.
var ErrHubStopped = errors.New("event hub is not running")

// Conn is a registered subscriber endpoint. Deliver must not block; a
// connection that cannot accept a frame returns an error and loses it.
type Conn interface {
	ID() string
	Deliver(kind enums.EventKind, frame []byte) error
	Close() error
}

// Publisher is the publish-side surface consumed by ingress and the relay.
type Publisher interface {
	Publish(ctx context.Context, kind enums.EventKind, payload any) (int, error)
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

type registration struct {
	conn  Conn
	kinds map[enums.EventKind]struct{}
}

func (r registration) wants(kind enums.EventKind) bool {
	if len(r.kinds) == 0 {
		return true
	}
	_, ok := r.kinds[kind]
	return ok
}

// Hub fans device events out to every registered connection.
type Hub struct {
	mu    sync.RWMutex
	state lifecycle
	conns map[string]registration

	dispatchMu sync.Mutex
	dispatch   map[enums.EventKind]*sync.Mutex

	logg    *logger.Logger
	metrics *metrics.HubMetrics
	now     func() time.Time
}

type Params struct {
	Logger  *logger.Logger
	Metrics *metrics.HubMetrics
	Now     func() time.Time
}

func New(params Params) (*Hub, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		conns:    map[string]registration{},
		dispatch: map[enums.EventKind]*sync.Mutex{},
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Start opens the hub for registrations and publishes.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateStopped {
		return ErrHubStopped
	}
	h.state = stateRunning
	h.logg.Info(ctx, "event hub started")
	return nil
}

// Stop closes every registered connection. Further calls are no-ops.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state == stateStopped {
		h.mu.Unlock()
		return nil
	}
	h.state = stateStopped
	conns := h.conns
	h.conns = map[string]registration{}
	h.mu.Unlock()

	var errs error
	for id, reg := range conns {
		if err := reg.conn.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	h.metrics.SetConnections(0)
	h.logg.Info(h.logg.WithField(ctx, "closed_connections", len(conns)), "event hub stopped")
	return errs
}

// Register adds conn, narrowed to kinds when any are given, and greets it
// with a connected event. Re-registering an id replaces the old entry.
func (h *Hub) Register(ctx context.Context, conn Conn, kinds ...enums.EventKind) error {
	if conn == nil {
		return errors.New("conn is required")
	}

	reg := registration{conn: conn}
	if len(kinds) > 0 {
		reg.kinds = make(map[enums.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			reg.kinds[k] = struct{}{}
		}
	}

	h.mu.Lock()
	if h.state != stateRunning {
		h.mu.Unlock()
		return ErrHubStopped
	}
	h.conns[conn.ID()] = reg
	count := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetConnections(count)
	ctx = h.logg.WithFields(ctx, map[string]any{"socket_id": conn.ID(), "connections": count})
	h.logg.Info(ctx, "client connected")

	frame, err := types.NewFrame(enums.EventConnected, types.Connected{
		SocketID:  conn.ID(),
		Timestamp: types.FormatTimestamp(h.now()),
	})
	if err != nil {
		return fmt.Errorf("encode connected event: %w", err)
	}
	if err := h.deliver(ctx, reg, enums.EventConnected, frame); err != nil {
		h.logg.Warn(ctx, "connected event not delivered")
	}
	return nil
}

// Unregister drops the connection with id. Unknown ids are ignored.
func (h *Hub) Unregister(ctx context.Context, id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	count := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.SetConnections(count)
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{"socket_id": id, "connections": count}), "client disconnected")
}

// Publish delivers payload to every connection subscribed to kind and
// returns how many accepted it. Nothing is persisted or retried; with no
// subscribers the event is dropped.
func (h *Hub) Publish(ctx context.Context, kind enums.EventKind, payload any) (int, error) {
	frame, err := types.NewFrame(kind, payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s event: %w", kind, err)
	}

	lock := h.kindLock(kind)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	if h.state != stateRunning {
		h.mu.RUnlock()
		return 0, ErrHubStopped
	}
	targets := make([]registration, 0, len(h.conns))
	for _, reg := range h.conns {
		if reg.wants(kind) {
			targets = append(targets, reg)
		}
	}
	h.mu.RUnlock()

	h.metrics.IncPublished(kind.String())
	ctx = h.logg.WithEventKind(ctx, kind.String())
	if len(targets) == 0 {
		h.metrics.IncDropped(kind.String())
		h.logg.Debug(ctx, "event dropped: no subscribers")
		return 0, nil
	}

	delivered := 0
	for _, reg := range targets {
		if err := h.deliver(ctx, reg, kind, frame); err != nil {
			h.metrics.IncFailed(kind.String())
			h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
				"socket_id": reg.conn.ID(),
				"error":     err.Error(),
			}), "event delivery failed")
			continue
		}
		delivered++
	}
	h.metrics.AddDelivered(kind.String(), delivered)
	return delivered, nil
}

// Count reports the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) deliver(ctx context.Context, reg registration, kind enums.EventKind, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic delivering %s: %v", kind, r)
			h.logg.Error(h.logg.WithSocketID(ctx, reg.conn.ID()), "recovered delivery panic", err)
		}
	}()
	return reg.conn.Deliver(kind, frame)
}

// kindLock serialises publishes of one kind so each connection observes
// them in publish order.
func (h *Hub) kindLock(kind enums.EventKind) *sync.Mutex {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	m, ok := h.dispatch[kind]
	if !ok {
		m = &sync.Mutex{}
		h.dispatch[kind] = m
	}
	return m
}
