package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/redis"
)

// Store is a per-kind set of acknowledged event ids.
type Store interface {
	Seen(ctx context.Context, kind enums.EventKind, id string) (bool, error)
	Mark(ctx context.Context, kind enums.EventKind, id string) error
}

// MemoryStore keeps every acknowledged id for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[enums.EventKind]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[enums.EventKind]map[string]struct{}{}}
}

func (s *MemoryStore) Seen(_ context.Context, kind enums.EventKind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[kind][id]
	return ok, nil
}

func (s *MemoryStore) Mark(_ context.Context, kind enums.EventKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seen[kind]
	if !ok {
		set = map[string]struct{}{}
		s.seen[kind] = set
	}
	set[id] = struct{}{}
	return nil
}

// Len reports how many ids are held for kind.
func (s *MemoryStore) Len(kind enums.EventKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen[kind])
}

type windowKey struct {
	kind enums.EventKind
	id   string
}

// WindowStore forgets ids once ttl has passed since they were acknowledged.
// Expired entries are swept in the background until Close.
type WindowStore struct {
	mu      sync.RWMutex
	entries map[windowKey]time.Time
	ttl     time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

func NewWindowStore(ttl, sweepInterval time.Duration) *WindowStore {
	s := newWindowStore(ttl, time.Now)
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func newWindowStore(ttl time.Duration, now func() time.Time) *WindowStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &WindowStore{
		entries: map[windowKey]time.Time{},
		ttl:     ttl,
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (s *WindowStore) Seen(_ context.Context, kind enums.EventKind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiresAt, ok := s.entries[windowKey{kind, id}]
	return ok && s.now().Before(expiresAt), nil
}

func (s *WindowStore) Mark(_ context.Context, kind enums.EventKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[windowKey{kind, id}] = s.now().Add(s.ttl)
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *WindowStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *WindowStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *WindowStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RedisStore shares the seen-set through Redis so a restarted kiosk does
// not replay scans it already handled.
type RedisStore struct {
	client redis.IdempotencyStore
	ttl    time.Duration
}

func NewRedisStore(client redis.IdempotencyStore, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, kind enums.EventKind, id string) (bool, error) {
	return s.client.Exists(ctx, s.key(kind, id))
}

func (s *RedisStore) Mark(ctx context.Context, kind enums.EventKind, id string) error {
	_, err := s.client.SetNX(ctx, s.key(kind, id), "1", s.ttl)
	return err
}

func (s *RedisStore) key(kind enums.EventKind, id string) string {
	return s.client.IdempotencyKey("dedup:"+kind.String(), id)
}
