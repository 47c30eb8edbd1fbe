package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/shoppad-backend/api/controllers"
	"github.com/angelmondragon/shoppad-backend/internal/hub"
	"github.com/angelmondragon/shoppad-backend/internal/ingress"
	productsvc "github.com/angelmondragon/shoppad-backend/internal/products"
	"github.com/angelmondragon/shoppad-backend/internal/realtime"
	weightsvc "github.com/angelmondragon/shoppad-backend/internal/weights"
	"github.com/angelmondragon/shoppad-backend/pkg/config"
	"github.com/angelmondragon/shoppad-backend/pkg/db"
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/metrics"
	"github.com/angelmondragon/shoppad-backend/pkg/migrate"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
)

type testServer struct {
	*httptest.Server
	hub *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logg := logger.Nop()
	reg := prometheus.NewRegistry()

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "shoppad.db")), &gorm.Config{})
	require.NoError(t, err)
	client := db.Wrap(conn)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migrate.Run(ctx, sqlDB, "sqlite3", "", "up"))

	h, err := hub.New(hub.Params{Logger: logg, Metrics: metrics.NewHubMetrics(reg)})
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))

	products, err := productsvc.NewService(productsvc.NewRepository(client.DB()))
	require.NoError(t, err)
	weights, err := weightsvc.NewService(weightsvc.NewRepository(client.DB()))
	require.NoError(t, err)
	ingestion, err := ingress.NewService(ingress.ServiceParams{
		Weights:   weights,
		Products:  products,
		Publisher: h,
		Metrics:   metrics.NewIngressMetrics(reg),
		Logger:    logg,
	})
	require.NoError(t, err)
	ws, err := realtime.NewServer(realtime.ServerParams{Hub: h, Logger: logg, AllowedOrigins: []string{"*"}})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.App.AllowedOrigins = []string{"*"}

	ts := httptest.NewServer(NewRouter(Deps{
		Config:      cfg,
		Logger:      logg,
		Ingress:     ingestion,
		Weights:     weights,
		Products:    products,
		Connections: h,
		WebSocket:   ws,
		Ready:       map[string]controllers.Pinger{"db": client},
		Gatherer:    reg,
		StartedAt:   time.Now(),
	}))
	t.Cleanup(func() {
		_ = h.Stop(ctx)
		ts.Close()
		_ = sqlDB.Close()
	})
	return &testServer{Server: ts, hub: h}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if data, ok := env["data"]; ok {
		return resp.StatusCode, data
	}
	return resp.StatusCode, env["error"]
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var greeting types.Frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&greeting))
	require.Equal(t, enums.EventConnected, greeting.Event)
	return ws
}

func TestWeightSubmitThenLatest(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/weight/latest", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, data := s.do(t, http.MethodPost, "/api/weight", `{"weight": 12.345, "deviceId": "esp32-cart-1"}`)
	require.Equal(t, http.StatusOK, status)
	var accepted ingress.WeightAccepted
	require.NoError(t, json.Unmarshal(data, &accepted))
	assert.Equal(t, 12.35, accepted.Weight)

	status, data = s.do(t, http.MethodGet, "/api/weight/latest", "")
	require.Equal(t, http.StatusOK, status)
	var latest struct {
		Weight   float64 `json:"weight"`
		DeviceID string  `json:"deviceId"`
	}
	require.NoError(t, json.Unmarshal(data, &latest))
	assert.Equal(t, 12.35, latest.Weight)
	assert.Equal(t, "esp32-cart-1", latest.DeviceID)

	status, data = s.do(t, http.MethodGet, "/api/weight?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	var history []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &history))
	assert.Len(t, history, 1)
}

func TestDeviceEventsReachWebSocketClients(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, "?events=barcode:scan")
	require.Eventually(t, func() bool { return s.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	status, _ := s.do(t, http.MethodPost, "/api/weight", `{"weight": 1}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/barcode", `{"barcode": "  1234567890123\u0007 ", "weight": 0.5}`)
	require.Equal(t, http.StatusOK, status)

	var frame types.Frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&frame))
	require.Equal(t, enums.EventBarcodeScan, frame.Event)

	var scan types.BarcodeScan
	require.NoError(t, json.Unmarshal(frame.Data, &scan))
	assert.Equal(t, "1234567890123", scan.Barcode)
	assert.NotEmpty(t, scan.ScanID)
	require.NotNil(t, scan.Product)
	assert.Equal(t, "Fresh Tomatoes", scan.Product.Name)
}

func TestRejectedSubmissionsAreNotBroadcast(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, "")

	status, _ := s.do(t, http.MethodPost, "/api/barcode", `{"barcode": "\u0000\u001f"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = s.do(t, http.MethodPost, "/api/nfc-payment", `{"trigger": "manual"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/nfc-payment", `{"cardUID": "04:A2:BC"}`)
	require.Equal(t, http.StatusOK, status)

	var frame types.Frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, enums.EventNfcPayment, frame.Event, "the first frame after the greeting must be the valid payment")
}

func TestCatalogStatusAndHealth(t *testing.T) {
	s := newTestServer(t)

	status, data := s.do(t, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, status)
	var catalog productsvc.Catalog
	require.NoError(t, json.Unmarshal(data, &catalog))
	assert.Len(t, catalog.Products, 21)
	assert.Len(t, catalog.Categories, 9)

	status, _ = s.do(t, http.MethodGet, "/api/products/3", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/api/products/999", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, data = s.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, status)
	var st struct {
		Products    int64 `json:"products"`
		Connections int   `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, int64(21), st.Products)

	status, _ = s.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, status)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRejectsInvalidEventsFilter(t *testing.T) {
	s := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws?events=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
