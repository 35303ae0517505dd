package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Metrics  MetricsConfig
	Kafka    KafkaConfig
	Worker   WorkerConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
}

// WebhookConfig controls outbound hook delivery.
type WebhookConfig struct {
	AuthToken string
	Timeout   time.Duration
}

type MetricsConfig struct {
	AddressTypes []string
	// StoreURL, when set, receives fired metrics as JSON POSTs.
	StoreURL   string
	StoreToken string
	Schedule   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type WorkerConfig struct {
	Concurrency int
	InProcess   bool
	BufferSize  int
}

type LogConfig struct {
	Level  string
	Format string
}

var defaults = map[string]any{
	"server.addr":              ":8080",
	"server.readtimeout":       15 * time.Second,
	"server.writetimeout":      30 * time.Second,
	"server.requesttimeout":    30 * time.Second,
	"server.shutdowntimeout":   10 * time.Second,
	"database.maxopenconns":    20,
	"database.maxidleconns":    5,
	"database.connmaxlifetime": 30 * time.Minute,
	"redis.poolsize":           10,
	"redis.minidleconns":       2,
	"redis.dialtimeout":        5 * time.Second,
	"redis.readtimeout":        3 * time.Second,
	"redis.writetimeout":       3 * time.Second,
	"auth.jwtsigningkey":       "dev-secret-key-change-in-production",
	"auth.issuer":              "identitystore",
	"auth.audience":            "identitystore",
	"webhook.timeout":          10 * time.Second,
	"metrics.addresstypes":     "msisdn,email",
	"metrics.schedule":         "@daily",
	"kafka.topic":              "identitystore.changes",
	"worker.concurrency":       10,
	"worker.inprocess":         true,
	"worker.buffersize":        1024,
	"log.level":                "info",
	"log.format":               "json",
}

// Environment variable names, kept flat and unprefixed like the rest of the
// deployment tooling expects.
var envBindings = map[string]string{
	"server.addr":              "SERVER_ADDR",
	"server.readtimeout":       "SERVER_READ_TIMEOUT",
	"server.writetimeout":      "SERVER_WRITE_TIMEOUT",
	"server.requesttimeout":    "SERVER_REQUEST_TIMEOUT",
	"server.shutdowntimeout":   "SERVER_SHUTDOWN_TIMEOUT",
	"database.url":             "DATABASE_URL",
	"database.maxopenconns":    "DATABASE_MAX_OPEN_CONNS",
	"database.maxidleconns":    "DATABASE_MAX_IDLE_CONNS",
	"database.connmaxlifetime": "DATABASE_CONN_MAX_LIFETIME",
	"redis.url":                "REDIS_URL",
	"redis.poolsize":           "REDIS_POOL_SIZE",
	"auth.jwtsigningkey":       "JWT_SIGNING_KEY",
	"auth.issuer":              "JWT_ISSUER",
	"auth.audience":            "JWT_AUDIENCE",
	"webhook.authtoken":        "HOOK_AUTH_TOKEN",
	"webhook.timeout":          "HOOK_TIMEOUT",
	"metrics.addresstypes":     "ADDRESS_TYPES",
	"metrics.storeurl":         "METRICS_STORE_URL",
	"metrics.storetoken":       "METRICS_STORE_TOKEN",
	"metrics.schedule":         "METRICS_SCHEDULE",
	"kafka.brokers":            "KAFKA_BROKERS",
	"kafka.topic":              "KAFKA_TOPIC",
	"worker.concurrency":       "WORKER_CONCURRENCY",
	"worker.inprocess":         "WORKER_IN_PROCESS",
	"worker.buffersize":        "AUDIT_BUFFER_SIZE",
	"log.level":                "LOG_LEVEL",
	"log.format":               "LOG_FORMAT",
}

// New returns a viper instance with defaults and environment bindings applied.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads an optional config file and the environment, then validates.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read is Load without validation, for commands such as migrate that only
// need part of the configuration.
func Read(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v), nil
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (Config, error) {
	return Load("")
}

// FromViper decodes and validates a populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := decode(v)
	return cfg, cfg.Validate()
}

func decode(v *viper.Viper) Config {
	return Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.readtimeout"),
			WriteTimeout:    v.GetDuration("server.writetimeout"),
			RequestTimeout:  v.GetDuration("server.requesttimeout"),
			ShutdownTimeout: v.GetDuration("server.shutdowntimeout"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.maxopenconns"),
			MaxIdleConns:    v.GetInt("database.maxidleconns"),
			ConnMaxLifetime: v.GetDuration("database.connmaxlifetime"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.poolsize"),
			MinIdleConns: v.GetInt("redis.minidleconns"),
			DialTimeout:  v.GetDuration("redis.dialtimeout"),
			ReadTimeout:  v.GetDuration("redis.readtimeout"),
			WriteTimeout: v.GetDuration("redis.writetimeout"),
		},
		Auth: AuthConfig{
			JWTSigningKey: v.GetString("auth.jwtsigningkey"),
			Issuer:        v.GetString("auth.issuer"),
			Audience:      v.GetString("auth.audience"),
		},
		Webhook: WebhookConfig{
			AuthToken: v.GetString("webhook.authtoken"),
			Timeout:   v.GetDuration("webhook.timeout"),
		},
		Metrics: MetricsConfig{
			AddressTypes: list(v, "metrics.addresstypes"),
			StoreURL:     v.GetString("metrics.storeurl"),
			StoreToken:   v.GetString("metrics.storetoken"),
			Schedule:     v.GetString("metrics.schedule"),
		},
		Kafka: KafkaConfig{
			Brokers: list(v, "kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			InProcess:   v.GetBool("worker.inprocess"),
			BufferSize:  v.GetInt("worker.buffersize"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("auth.jwtsigningkey must not be empty")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

// list accepts either a YAML/JSON list or a comma separated string.
func list(v *viper.Viper, key string) []string {
	raw := v.Get(key)
	switch t := raw.(type) {
	case []string:
		return normalizeList(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return normalizeList(out)
	default:
		return normalizeList(strings.Split(v.GetString(key), ","))
	}
}

func normalizeList(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
