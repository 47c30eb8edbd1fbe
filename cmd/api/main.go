package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/shoppad-backend/api/controllers"
	"github.com/angelmondragon/shoppad-backend/api/routes"
	"github.com/angelmondragon/shoppad-backend/internal/cron"
	"github.com/angelmondragon/shoppad-backend/internal/hub"
	"github.com/angelmondragon/shoppad-backend/internal/ingress"
	productsvc "github.com/angelmondragon/shoppad-backend/internal/products"
	"github.com/angelmondragon/shoppad-backend/internal/realtime"
	"github.com/angelmondragon/shoppad-backend/internal/relay"
	weightsvc "github.com/angelmondragon/shoppad-backend/internal/weights"
	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/db"
	"github.com/angelmondragon/shoppad-backend/pkg/instance"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/metrics"
	"github.com/angelmondragon/shoppad-backend/pkg/migrate"
	"github.com/angelmondragon/shoppad-backend/pkg/pubsub"
	"github.com/angelmondragon/shoppad-backend/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	instanceID := instance.GetID(cfg.App.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instanceID,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	ready := map[string]controllers.Pinger{"database": dbClient}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		ready["redis"] = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hubMetrics := metrics.NewHubMetrics(registry)

	eventHub, err := hub.New(hub.Params{Logger: logg, Metrics: hubMetrics})
	requireResource(ctx, logg, "event hub", err)
	requireResource(ctx, logg, "event hub start", eventHub.Start(ctx))

	products, err := productsvc.NewService(productsvc.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "product service", err)
	weights, err := weightsvc.NewService(weightsvc.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "weight service", err)

	group, groupCtx := errgroup.WithContext(ctx)

	var publisher hub.Publisher = eventHub
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		ready["pubsub"] = psClient

		fanout, err := relay.NewFanout(relay.FanoutParams{
			Local:     eventHub,
			Publisher: psClient.RelayPublisher(),
			Origin:    instanceID,
			Logger:    logg,
		})
		requireResource(ctx, logg, "relay fanout", err)
		publisher = fanout

		if sub := psClient.RelaySubscriber(); sub != nil {
			consumer, err := relay.NewConsumer(relay.ConsumerParams{
				Local:      eventHub,
				Subscriber: sub,
				Origin:     instanceID,
				Logger:     logg,
			})
			requireResource(ctx, logg, "relay consumer", err)
			group.Go(func() error { return consumer.Run(groupCtx) })
		}
	}

	ingressSvc, err := ingress.NewService(ingress.ServiceParams{
		Weights:   weights,
		Products:  products,
		Publisher: publisher,
		Metrics:   metrics.NewIngressMetrics(registry),
		Logger:    logg,
	})
	requireResource(ctx, logg, "ingress service", err)

	wsServer, err := realtime.NewServer(realtime.ServerParams{
		Hub:            eventHub,
		Logger:         logg,
		Config:         cfg.WebSocket,
		AllowedOrigins: cfg.App.AllowedOrigins,
	})
	requireResource(ctx, logg, "websocket server", err)

	if cfg.Cron.Enabled {
		cronSvc, err := buildCron(cfg, logg, eventHub, weights, hubMetrics, registry, redisClient)
		requireResource(ctx, logg, "cron service", err)
		group.Go(func() error { return cronSvc.Run(groupCtx) })
	}

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			Ingress:     ingressSvc,
			Weights:     weights,
			Products:    products,
			Connections: eventHub,
			WebSocket:   wsServer,
			Ready:       ready,
			Gatherer:    registry,
			StartedAt:   time.Now(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		logg.Info(logg.WithField(groupCtx, "addr", addr), "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// hijacked websockets are not tracked by Shutdown
		hubErr := eventHub.Stop(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return hubErr
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildCron(
	cfg *config.Config,
	logg *logger.Logger,
	eventHub *hub.Hub,
	weights weightsvc.Service,
	hubMetrics *metrics.HubMetrics,
	reg prometheus.Registerer,
	redisClient *redis.Client,
) (*cron.Service, error) {
	hubStats, err := cron.NewHubStatsJob(eventHub, hubMetrics, logg)
	if err != nil {
		return nil, err
	}
	watchdog, err := cron.NewScaleWatchdogJob(cron.ScaleWatchdogParams{
		Readings:     weights,
		SilenceAfter: cfg.Cron.ScaleSilenceAfter,
		Logger:       logg,
	})
	if err != nil {
		return nil, err
	}

	var lock cron.Lock = cron.LocalLock{}
	if redisClient != nil {
		env := cfg.App.Env
		if env == "" {
			env = "local"
		}
		lock, err = cron.NewRedisLock(redisClient, redisClient.LockKey(env, "cron"), cfg.Hub.StatsInterval)
		if err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(hubStats, watchdog),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Hub.StatsInterval,
	})
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
