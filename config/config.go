package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Upstream exchange
	ExchangeWSURL   string
	ExchangeRESTURL string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// AllowDegradedRedis keeps the engine running without pub/sub when Redis
	// is unreachable after the boot retry budget, instead of exiting.
	// Incremental alert updates stop flowing until a SIGHUP resync.
	AllowDegradedRedis bool

	// Active symbol universe (comma-separated, e.g. "BTCUSDT,ETHUSDT")
	Symbols string

	// Stream client
	StreamConns       int
	MaxStreamsPerConn int
	ReconnectBase     time.Duration
	ReconnectCap      time.Duration
	SubscribeRetries  int

	// Evaluator
	EvalWorkers           int
	TickBuffer            int
	AlertSubBuffer        int
	VolumeRefresh         time.Duration
	RESTTimeout           time.Duration
	FailClosedOnCandleErr bool

	// Notification channels. Empty disables the channel.
	ChatBotToken string
	WebhookURL   string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ExchangeWSURL:   getEnv("EXCHANGE_WS_URL", "wss://stream.binance.com:9443"),
		ExchangeRESTURL: getEnv("EXCHANGE_REST_URL", "https://api.binance.com"),

		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		AllowDegradedRedis: getEnvBool("ALLOW_DEGRADED_REDIS", false),
		SQLitePath:         getEnv("SQLITE_PATH", "data/alerts.db"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9091"),
		GatewayAddr:        getEnv("GATEWAY_ADDR", ":8080"),

		Symbols: getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"),

		StreamConns:       getEnvInt("STREAM_CONNS", 2),
		MaxStreamsPerConn: getEnvInt("MAX_STREAMS_PER_CONN", 200),
		ReconnectBase:     getEnvDuration("RECONNECT_BASE", time.Second),
		ReconnectCap:      getEnvDuration("RECONNECT_CAP", 30*time.Second),
		SubscribeRetries:  getEnvInt("SUBSCRIBE_RETRIES", 5),

		EvalWorkers:           getEnvInt("EVAL_WORKERS", 8),
		TickBuffer:            getEnvInt("TICK_BUFFER", 10000),
		AlertSubBuffer:        getEnvInt("ALERT_SUB_BUFFER", 1024),
		VolumeRefresh:         getEnvDuration("VOLUME_REFRESH", 5*time.Second),
		RESTTimeout:           getEnvDuration("REST_TIMEOUT", 5*time.Second),
		FailClosedOnCandleErr: getEnvBool("FAIL_CLOSED_ON_CANDLE_ERROR", false),

		ChatBotToken: getEnv("CHAT_BOT_TOKEN", ""),
		WebhookURL:   getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParseSymbols splits the Symbols string into a deduplicated, upper-cased slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	seen := make(map[string]bool, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return b
}
