package main

import (
	"context"
	"testing"

	"github.com/angelmondragon/shoppad-backend/internal/channel"
	"github.com/angelmondragon/shoppad-backend/internal/kiosk"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleChannel never delivers anything; the commands only touch local state.
type idleChannel struct{}

func (idleChannel) Start(context.Context) error                       { return nil }
func (idleChannel) Subscribe(enums.EventKind, channel.Handler) func() { return func() {} }
func (idleChannel) Watch(func(channel.Status)) func()                 { return func() {} }
func (idleChannel) Status() channel.Status                            { return channel.Status{} }
func (idleChannel) Close() error                                      { return nil }

type catalog map[string]models.Product

func (c catalog) Product(_ context.Context, id string) (*models.Product, error) {
	p := c[id]
	return &p, nil
}

func newSession(t *testing.T) *kiosk.Session {
	t.Helper()
	w := 0.2
	s, err := kiosk.New(kiosk.Params{
		Channel:  idleChannel{},
		Products: catalog{"bar": {ID: "bar", Name: "Bar", Price: 1.5, Weight: &w}},
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQtyCommandSetsQuantity(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	runCommand(ctx, logger.Nop(), s, "add bar")
	runCommand(ctx, logger.Nop(), s, "qty bar 4")
	state := s.Cart().State()
	require.Len(t, state.Lines, 1)
	assert.Equal(t, 4, state.Lines[0].Quantity)
	assert.Equal(t, 6.0, state.Total)

	runCommand(ctx, logger.Nop(), s, "qty bar many")
	runCommand(ctx, logger.Nop(), s, "qty bar")
	assert.Equal(t, 4, s.Cart().State().Lines[0].Quantity, "malformed commands are ignored")

	runCommand(ctx, logger.Nop(), s, "qty bar 0")
	assert.True(t, s.Cart().State().IsEmpty())
}
