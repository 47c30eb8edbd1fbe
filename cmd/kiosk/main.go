package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/angelmondragon/shoppad-backend/internal/channel"
	"github.com/angelmondragon/shoppad-backend/internal/dedup"
	"github.com/angelmondragon/shoppad-backend/internal/kiosk"
	"github.com/angelmondragon/shoppad-backend/pkg/apiclient"
	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/redis"
	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
)

const snapshotInterval = 30 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "kiosk"})
	_ = godotenv.Load()

	cfg, err := config.LoadKiosk()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "kiosk",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL, err := cfg.Channel.WebSocketURL()
	requireResource(ctx, logg, "server url", err)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "server": wsURL})

	var idem redis.IdempotencyStore
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer redisClient.Close()
		idem = redisClient
	}
	store, err := dedup.NewStore(cfg.Dedup, idem)
	requireResource(ctx, logg, "dedup store", err)

	ch, err := channel.New(channel.WSDialer{
		URL:              wsURL,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
	}, channel.Options{
		ReconnectBase:   cfg.Channel.ReconnectBase,
		ReconnectMax:    cfg.Channel.ReconnectMax,
		ReconnectBudget: cfg.Channel.ReconnectBudget,
	}, logg)
	requireResource(ctx, logg, "channel", err)

	api, err := apiclient.NewClient(cfg.Channel.ServerURL)
	requireResource(ctx, logg, "api client", err)

	session, err := kiosk.New(kiosk.Params{
		Channel:             ch,
		DedupStore:          store,
		Products:            api,
		Latest:              api,
		Clock:               clock.New(),
		Logger:              logg,
		ToleranceKG:         cfg.Reconcile.ToleranceKG,
		DefaultItemWeightKG: cfg.Reconcile.DefaultItemWeightKG,
		ScanCooldown:        cfg.Checkout.ScanCooldown,
		StaleAfter:          cfg.Sensor.StaleAfter,
		SuccessDisplay:      cfg.Checkout.SuccessDisplay,
		ReceiptTTL:          cfg.Checkout.ReceiptTTL,
	})
	requireResource(ctx, logg, "kiosk session", err)
	requireResource(ctx, logg, "kiosk start", session.Start(ctx))
	logg.Info(ctx, "kiosk started")

	commands := make(chan string)
	go readCommands(commands)

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			logSnapshot(ctx, logg, session)
		case line, ok := <-commands:
			if !ok {
				// stdin closed; keep running until signalled
				commands = nil
				continue
			}
			runCommand(ctx, logg, session, line)
		}
	}

	if err := session.Close(); err != nil {
		logg.Error(context.Background(), "kiosk close", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "kiosk stopped")
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

// runCommand drives the operator actions a touch screen would.
func runCommand(ctx context.Context, logg *logger.Logger, s *kiosk.Session, line string) {
	fields := strings.Fields(line)
	ctx = logg.WithField(ctx, "command", fields[0])
	switch fields[0] {
	case "add":
		if len(fields) < 2 {
			logg.Warn(ctx, "usage: add <product-id>")
			return
		}
		if _, err := s.AddProduct(ctx, fields[1]); err != nil {
			logg.Error(ctx, "add product", err)
			return
		}
	case "remove":
		if len(fields) < 2 {
			logg.Warn(ctx, "usage: remove <product-id>")
			return
		}
		s.Cart().Remove(fields[1])
	case "qty":
		if len(fields) < 3 {
			logg.Warn(ctx, "usage: qty <product-id> <n>")
			return
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			logg.Warn(logg.WithField(ctx, "quantity", fields[2]), "quantity must be a whole number")
			return
		}
		s.Cart().UpdateQuantity(fields[1], n)
	case "clear":
		s.Cart().Clear()
	case "checkout":
		if !s.Checkout().RequestCheckout(ctx) {
			logg.Warn(ctx, "checkout not available")
		}
	case "cancel":
		s.Checkout().Cancel()
	case "done":
		s.Checkout().ClosePayment()
	case "dismiss":
		s.Checkout().DismissReceipt()
	case "status":
	default:
		logg.Warn(ctx, "unknown command")
		return
	}
	logSnapshot(ctx, logg, s)
}

func logSnapshot(ctx context.Context, logg *logger.Logger, s *kiosk.Session) {
	snap := s.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		logg.Error(ctx, "encoding snapshot", err)
		return
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"checkout": snap.Checkout.State.String(),
		"match":    snap.WeightMatch.Status.String(),
		"snapshot": json.RawMessage(raw),
	}), "kiosk state")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
