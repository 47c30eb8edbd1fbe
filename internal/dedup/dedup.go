package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/redis"
)

// Layer filters redelivered events. An id counts as handled only once the
// consumer acknowledges it, so an unacknowledged event is offered again.
type Layer struct {
	store Store
	logg  *logger.Logger
}

func New(store Store, logg *logger.Logger) (*Layer, error) {
	if store == nil {
		return nil, errors.New("dedup store is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Layer{store: store, logg: logg}, nil
}

// NewStore builds the store selected by cfg.Store. The redis store needs a
// client; the other two ignore it.
func NewStore(cfg config.DedupConfig, client redis.IdempotencyStore) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", config.DedupStoreMemory:
		return NewMemoryStore(), nil
	case config.DedupStoreWindow:
		return NewWindowStore(cfg.TTL, cfg.SweepInterval), nil
	case config.DedupStoreRedis:
		if client == nil {
			return nil, errors.New("redis dedup store requires a redis client")
		}
		return NewRedisStore(client, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown dedup store %q", cfg.Store)
	}
}

// Offer reports whether id has not been acknowledged for kind yet.
func (l *Layer) Offer(ctx context.Context, kind enums.EventKind, id string) (bool, error) {
	seen, err := l.store.Seen(ctx, kind, id)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s/%s: %w", kind, id, err)
	}
	return !seen, nil
}

func (l *Layer) Acknowledge(ctx context.Context, kind enums.EventKind, id string) error {
	if err := l.store.Mark(ctx, kind, id); err != nil {
		return fmt.Errorf("dedup acknowledge %s/%s: %w", kind, id, err)
	}
	return nil
}

// Guard decodes events of kind and hands fresh ones to consume together
// with an ack callback. Duplicates, undecodable payloads and events without
// an id are dropped. A store failure lets the event through: a duplicate is
// cheaper than a lost scan.
func Guard[T any](l *Layer, kind enums.EventKind, idOf func(T) string, consume func(ctx context.Context, event T, ack func())) func(context.Context, json.RawMessage) {
	return func(ctx context.Context, data json.RawMessage) {
		ctx = l.logg.WithEventKind(ctx, kind.String())

		var event T
		if err := json.Unmarshal(data, &event); err != nil {
			l.logg.Warn(l.logg.WithField(ctx, "error", err.Error()), "dropping undecodable event")
			return
		}
		id := idOf(event)
		if id == "" {
			l.logg.Warn(ctx, "dropping event without id")
			return
		}
		ctx = l.logg.WithField(ctx, "event_id", id)

		fresh, err := l.Offer(ctx, kind, id)
		if err != nil {
			l.logg.Error(ctx, "dedup lookup failed, delivering anyway", err)
			fresh = true
		}
		if !fresh {
			l.logg.Debug(ctx, "duplicate event ignored")
			return
		}

		consume(ctx, event, func() {
			if err := l.Acknowledge(ctx, kind, id); err != nil {
				l.logg.Error(ctx, "dedup acknowledge failed", err)
			}
		})
	}
}
