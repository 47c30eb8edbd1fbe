package config

const EnvPrefix = "SHOPPAD"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DedupStoreMemory = "memory"
	DedupStoreWindow = "window"
	DedupStoreRedis  = "redis"
)

const (
	EnvAppEnv         = "SHOPPAD_APP_ENV"
	EnvPort           = "SHOPPAD_APP_PORT"
	EnvAllowedOrigins = "SHOPPAD_ALLOWED_ORIGINS"
	EnvDBDSN          = "SHOPPAD_DB_DSN"
	EnvDBHost         = "SHOPPAD_DB_HOST"
	EnvDBUser         = "SHOPPAD_DB_USER"
	EnvDBName         = "SHOPPAD_DB_NAME"
	EnvUseSQLite      = "SHOPPAD_USE_SQLITE"
	EnvRedisURL       = "SHOPPAD_REDIS_URL"
	EnvRedisAddr      = "SHOPPAD_REDIS_ADDR"
	EnvDedupStore     = "SHOPPAD_DEDUP_STORE"
	EnvToleranceKG    = "SHOPPAD_WEIGHT_TOLERANCE_KG"
	EnvReconnectMax   = "SHOPPAD_RECONNECT_MAX"
	EnvPubSubTopic    = "SHOPPAD_PUBSUB_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
