package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Hub       HubConfig
	WebSocket WebSocketConfig
	Reconcile ReconcileConfig
	Checkout  CheckoutConfig
	Channel   ChannelConfig
	Dedup     DedupConfig
	Sensor    SensorConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Cron      CronConfig
}

// Load reads the server configuration. A database DSN is mandatory.
func Load() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadKiosk reads the configuration for the kiosk client, which never
// touches the database.
func LoadKiosk() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Channel.WebSocketURL(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Dedup.validate(cfg.Redis); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string   `envconfig:"SHOPPAD_APP_ENV" default:"dev"`
	Port           string   `envconfig:"SHOPPAD_APP_PORT" default:"3000"`
	LogLevel       string   `envconfig:"SHOPPAD_LOG_LEVEL" default:"info"`
	LogWarnStack   bool     `envconfig:"SHOPPAD_LOG_WARN_STACK" default:"false"`
	AllowedOrigins []string `envconfig:"SHOPPAD_ALLOWED_ORIGINS" default:"*"`
	InstanceID     string   `envconfig:"SHOPPAD_INSTANCE_ID"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN         string `envconfig:"SHOPPAD_DB_DSN"`
	UseSQLite   bool   `envconfig:"SHOPPAD_USE_SQLITE" default:"false"`
	SQLitePath  string `envconfig:"SHOPPAD_SQLITE_PATH" default:"shoppad.db"`
	AutoMigrate bool   `envconfig:"SHOPPAD_AUTO_MIGRATE" default:"false"`

	LegacyHost     string `envconfig:"SHOPPAD_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPPAD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPPAD_DB_USER"`
	LegacyPassword string `envconfig:"SHOPPAD_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPPAD_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPPAD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPPAD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPPAD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPPAD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPPAD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// Dialect returns the goose dialect name matching the configured driver.
func (db DBConfig) Dialect() string {
	if db.UseSQLite {
		return "sqlite3"
	}
	return "postgres"
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPPAD_REDIS_URL"`
	Address      string        `envconfig:"SHOPPAD_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPPAD_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPPAD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPPAD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPPAD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPPAD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPPAD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPPAD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type HubConfig struct {
	StatsInterval time.Duration `envconfig:"SHOPPAD_HUB_STATS_INTERVAL" default:"1m"`
}

type WebSocketConfig struct {
	SendBuffer     int           `envconfig:"SHOPPAD_WS_SEND_BUFFER" default:"64"`
	PingInterval   time.Duration `envconfig:"SHOPPAD_WS_PING_INTERVAL" default:"25s"`
	PongTimeout    time.Duration `envconfig:"SHOPPAD_WS_PONG_TIMEOUT" default:"60s"`
	WriteTimeout   time.Duration `envconfig:"SHOPPAD_WS_WRITE_TIMEOUT" default:"10s"`
	MaxMessageSize int64         `envconfig:"SHOPPAD_WS_MAX_MESSAGE_BYTES" default:"65536"`
}

type ReconcileConfig struct {
	ToleranceKG         float64 `envconfig:"SHOPPAD_WEIGHT_TOLERANCE_KG" default:"0.15"`
	DefaultItemWeightKG float64 `envconfig:"SHOPPAD_DEFAULT_ITEM_WEIGHT_KG" default:"0.3"`
}

type CheckoutConfig struct {
	SuccessDisplay time.Duration `envconfig:"SHOPPAD_PAYMENT_SUCCESS_DISPLAY" default:"5s"`
	ReceiptTTL     time.Duration `envconfig:"SHOPPAD_RECEIPT_TTL" default:"180s"`
	ScanCooldown   time.Duration `envconfig:"SHOPPAD_SCAN_COOLDOWN" default:"3s"`
}

// ChannelConfig drives the kiosk's connection channel.
type ChannelConfig struct {
	ServerURL        string        `envconfig:"SHOPPAD_SERVER_URL" default:"http://localhost:3000"`
	ReconnectBase    time.Duration `envconfig:"SHOPPAD_RECONNECT_BASE" default:"1s"`
	ReconnectMax     time.Duration `envconfig:"SHOPPAD_RECONNECT_MAX" default:"5s"`
	ReconnectBudget  int           `envconfig:"SHOPPAD_RECONNECT_ATTEMPTS" default:"10"`
	HandshakeTimeout time.Duration `envconfig:"SHOPPAD_HANDSHAKE_TIMEOUT" default:"20s"`
}

// WebSocketURL derives the hub endpoint from the server URL.
func (c ChannelConfig) WebSocketURL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

type DedupConfig struct {
	Store         string        `envconfig:"SHOPPAD_DEDUP_STORE" default:"memory"`
	TTL           time.Duration `envconfig:"SHOPPAD_DEDUP_TTL" default:"2h"`
	SweepInterval time.Duration `envconfig:"SHOPPAD_DEDUP_SWEEP_INTERVAL" default:"1m"`
}

func (d DedupConfig) validate(redis RedisConfig) error {
	switch strings.ToLower(strings.TrimSpace(d.Store)) {
	case DedupStoreMemory, DedupStoreWindow:
		return nil
	case DedupStoreRedis:
		if !redis.Enabled() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvDedupStore, EnvRedisURL, EnvRedisAddr)
		}
		return nil
	}
	return fmt.Errorf("unknown dedup store %q", d.Store)
}

type SensorConfig struct {
	StaleAfter time.Duration `envconfig:"SHOPPAD_SENSOR_STALE_AFTER" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SHOPPAD_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	Topic        string `envconfig:"SHOPPAD_PUBSUB_TOPIC"`
	Subscription string `envconfig:"SHOPPAD_PUBSUB_SUBSCRIPTION"`
}

// Enabled reports whether the cross-instance relay is configured.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.Topic) != ""
}

type CronConfig struct {
	Enabled           bool          `envconfig:"SHOPPAD_CRON_ENABLED" default:"true"`
	ScaleSilenceAfter time.Duration `envconfig:"SHOPPAD_SCALE_SILENCE_AFTER" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.UseSQLite {
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
