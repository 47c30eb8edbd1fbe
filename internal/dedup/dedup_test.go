package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanIDOf(s types.BarcodeScan) string { return s.ScanID }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestGuardDeliversEachScanOnceWhenAcknowledged(t *testing.T) {
	layer, err := New(NewMemoryStore(), logger.Nop())
	require.NoError(t, err)

	var handled []string
	handler := Guard(layer, enums.EventBarcodeScan, scanIDOf, func(_ context.Context, s types.BarcodeScan, ack func()) {
		handled = append(handled, s.ScanID)
		ack()
	})

	ctx := context.Background()
	scan := mustJSON(t, types.BarcodeScan{ScanID: "scan-1", Barcode: "123"})
	for i := 0; i < 3; i++ {
		handler(ctx, scan)
	}
	handler(ctx, mustJSON(t, types.BarcodeScan{ScanID: "scan-2", Barcode: "123"}))

	assert.Equal(t, []string{"scan-1", "scan-2"}, handled)
}

func TestGuardRedeliversUntilAcknowledged(t *testing.T) {
	layer, _ := New(NewMemoryStore(), logger.Nop())
	attempts := 0
	handler := Guard(layer, enums.EventBarcodeScan, scanIDOf, func(_ context.Context, _ types.BarcodeScan, ack func()) {
		attempts++
		if attempts == 2 {
			ack()
		}
	})

	scan := mustJSON(t, types.BarcodeScan{ScanID: "scan-1"})
	for i := 0; i < 4; i++ {
		handler(context.Background(), scan)
	}
	assert.Equal(t, 2, attempts)
}

func TestGuardDropsMalformedAndIDless(t *testing.T) {
	layer, _ := New(NewMemoryStore(), logger.Nop())
	called := false
	handler := Guard(layer, enums.EventBarcodeScan, scanIDOf, func(context.Context, types.BarcodeScan, func()) {
		called = true
	})

	handler(context.Background(), json.RawMessage(`{"scanId":`))
	handler(context.Background(), json.RawMessage(`{"barcode":"123"}`))
	assert.False(t, called)
}

func TestSeenSetsArePerKind(t *testing.T) {
	layer, _ := New(NewMemoryStore(), logger.Nop())
	ctx := context.Background()

	require.NoError(t, layer.Acknowledge(ctx, enums.EventBarcodeScan, "same-id"))
	fresh, err := layer.Offer(ctx, enums.EventNfcPayment, "same-id")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = layer.Offer(ctx, enums.EventBarcodeScan, "same-id")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestWindowStoreExpires(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newWindowStore(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, enums.EventNfcPayment, "pay-1"))
	seen, _ := store.Seen(ctx, enums.EventNfcPayment, "pay-1")
	assert.True(t, seen)

	now = now.Add(61 * time.Second)
	seen, _ = store.Seen(ctx, enums.EventNfcPayment, "pay-1")
	assert.False(t, seen)
	assert.Equal(t, 1, store.sweep())
	assert.Equal(t, 0, store.sweep())
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func (f *fakeIdempotency) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeIdempotency) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = ttl
	return true, nil
}

func (f *fakeIdempotency) IdempotencyKey(scope, id string) string {
	return "shoppad:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotency) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.keys, k)
	}
	return nil
}

func TestRedisStoreUsesNamespacedKeys(t *testing.T) {
	fake := &fakeIdempotency{keys: map[string]time.Duration{}}
	store := NewRedisStore(fake, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, enums.EventBarcodeScan, "scan-9"))
	assert.Equal(t, 30*time.Minute, fake.keys["shoppad:idempotency:dedup:barcode:scan:scan-9"])

	seen, err := store.Seen(ctx, enums.EventBarcodeScan, "scan-9")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGuardFailsOpenOnStoreError(t *testing.T) {
	fake := &fakeIdempotency{keys: map[string]time.Duration{}, err: errors.New("redis down")}
	layer, _ := New(NewRedisStore(fake, time.Minute), logger.Nop())
	called := 0
	handler := Guard(layer, enums.EventBarcodeScan, scanIDOf, func(context.Context, types.BarcodeScan, func()) { called++ })

	handler(context.Background(), mustJSON(t, types.BarcodeScan{ScanID: "scan-1"}))
	assert.Equal(t, 1, called)
}

func TestNewStoreSelectsImplementation(t *testing.T) {
	store, err := NewStore(config.DedupConfig{Store: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStore(config.DedupConfig{Store: "window", TTL: time.Minute, SweepInterval: time.Hour}, nil)
	require.NoError(t, err)
	require.IsType(t, &WindowStore{}, store)
	require.NoError(t, store.(*WindowStore).Close())

	_, err = NewStore(config.DedupConfig{Store: "redis"}, nil)
	require.Error(t, err)

	store, err = NewStore(config.DedupConfig{Store: "redis"}, &fakeIdempotency{keys: map[string]time.Duration{}})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)

	_, err = NewStore(config.DedupConfig{Store: "lru"}, nil)
	require.Error(t, err)
}
