package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shoppad-backend/api/controllers"
	"github.com/angelmondragon/shoppad-backend/api/middleware"
	"github.com/angelmondragon/shoppad-backend/internal/ingress"
	productsvc "github.com/angelmondragon/shoppad-backend/internal/products"
	"github.com/angelmondragon/shoppad-backend/internal/realtime"
	weightsvc "github.com/angelmondragon/shoppad-backend/internal/weights"
	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Ingress     ingress.Service
	Weights     weightsvc.Service
	Products    productsvc.Service
	Connections controllers.ConnectionCounter
	WebSocket   *realtime.Server
	Ready       map[string]controllers.Pinger
	Gatherer    prometheus.Gatherer
	StartedAt   time.Time
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Ready))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// the upgrader enforces its own origin allow-list
	r.Get("/ws", controllers.WebSocket(d.WebSocket, logg))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.AllowedOrigins))

		r.Route("/weight", func(r chi.Router) {
			r.Post("/", controllers.SubmitWeight(d.Ingress, logg))
			r.Get("/", controllers.WeightHistory(d.Weights, logg))
			r.Get("/latest", controllers.WeightLatest(d.Weights, logg))
		})
		r.Post("/barcode", controllers.SubmitBarcodeScan(d.Ingress, logg))
		r.Post("/nfc-payment", controllers.SubmitNfcTrigger(d.Ingress, logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductCatalog(d.Products, logg))
			r.Get("/{productId}", controllers.ProductDetail(d.Products, logg))
		})
		r.Get("/status", controllers.Status(d.Products, d.Weights, d.Connections, d.StartedAt, logg))
	})

	return r
}
