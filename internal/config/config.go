package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServerHost         = "0.0.0.0"
	defaultServerPort         = "8080"
	defaultShutdownSeconds    = 30
	defaultDBQuerySeconds     = 5
	defaultESQuerySeconds     = 30
	defaultCheckInterval      = 30
	defaultRetryTimes         = 3
	defaultBatchSize          = 200
	defaultMaxConcurrency     = 10
	defaultSendTimeoutSeconds = 20
	defaultEventsSubject      = "logalert.alerts"
	defaultEventsStream       = "LOGALERT_ALERTS"
)

// Config holds the full runtime configuration snapshot.
// Params: TOML file sections overridden by environment variables.
// Returns: validated service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Search   SearchConfig   `toml:"search"`
	Worker   WorkerConfig   `toml:"worker"`
	Notify   NotifyConfig   `toml:"notify"`
	Events   EventsConfig   `toml:"events"`
	Log      LogConfig      `toml:"log"`
	Security SecurityConfig `toml:"security"`
}

// ServerConfig holds ops HTTP server settings.
// Params: listen host/port and shutdown drain budget.
// Returns: server section of the snapshot.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	ShutdownSeconds int    `toml:"shutdown_seconds"`
}

// DatabaseConfig holds Postgres connection settings.
// Params: DSN parts and per-operation query timeout.
// Returns: database section of the snapshot.
type DatabaseConfig struct {
	Host                string `toml:"host"`
	Port                string `toml:"port"`
	User                string `toml:"user"`
	Password            string `toml:"password"`
	Name                string `toml:"name"`
	SSLMode             string `toml:"ssl_mode"`
	QueryTimeoutSeconds int    `toml:"query_timeout_seconds"`
}

// SearchConfig holds the default Elasticsearch backend settings.
// Params: semicolon-separated URL list, credentials, and TLS policy.
// Returns: search section of the snapshot.
type SearchConfig struct {
	URL                 string `toml:"url"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	UseSSL              bool   `toml:"use_ssl"`
	SkipVerify          bool   `toml:"skip_verify"`
	CACertificate       string `toml:"ca_certificate"`
	QueryTimeoutSeconds int    `toml:"query_timeout_seconds"`
}

// WorkerConfig holds scheduler and evaluator settings.
// Params: reconcile cadence, retry policy, batch size, and concurrency cap.
// Returns: worker section of the snapshot.
type WorkerConfig struct {
	Enabled                 bool `toml:"enabled"`
	CheckIntervalSeconds    int  `toml:"check_interval_seconds"`
	RetryTimes              int  `toml:"retry_times"`
	BatchSize               int  `toml:"batch_size"`
	MaxConcurrency          int  `toml:"max_concurrency"`
	AlertSendTimeoutSeconds int  `toml:"alert_send_timeout_seconds"`
}

// NotifyConfig holds optional secondary notification transports.
// Params: Telegram broadcast credentials.
// Returns: notify section of the snapshot.
type NotifyConfig struct {
	TelegramBotToken string `toml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id"`
}

// TelegramEnabled reports whether the Telegram broadcast sender is configured.
// Params: none.
// Returns: true when both token and chat id are present.
func (n NotifyConfig) TelegramEnabled() bool {
	return strings.TrimSpace(n.TelegramBotToken) != "" && strings.TrimSpace(n.TelegramChatID) != ""
}

// EventsConfig holds the optional NATS alert-event publisher settings.
// Params: NATS URL, publish subject, and JetStream stream name.
// Returns: events section of the snapshot.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
	Stream  string `toml:"stream"`
}

// Enabled reports whether alert event publishing is configured.
// Params: none.
// Returns: true when a NATS URL is present.
func (e EventsConfig) Enabled() bool {
	return strings.TrimSpace(e.NATSURL) != ""
}

// LogConfig holds console and file log sink settings.
// Params: per-sink enabled/level/format/path fields.
// Returns: log section of the snapshot.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig describes one slog output sink.
// Params: enabled flag, minimum level, format, and file path.
// Returns: sink settings for the logging package.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// SecurityConfig holds the optional secrets-at-rest key.
// Params: base64 key material from APP_ENCRYPTION_KEY.
// Returns: decoded AES key for the secrets package.
type SecurityConfig struct {
	EncryptionKeyBase64 string `toml:"encryption_key"`
	EncryptionKey       []byte `toml:"-"`
}

// Load builds the configuration snapshot from defaults, optional files, and env.
// Params: optional .env file path and optional TOML file path.
// Returns: loaded config or read/decode error.
func Load(envFile, configFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := defaults()

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", configFile, err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", configFile, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Security.EncryptionKeyBase64 != "" {
		key, err := decodeKey(cfg.Security.EncryptionKeyBase64)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.EncryptionKey = key
	}

	return cfg, nil
}

// defaults builds the baseline snapshot before file and env overrides.
// Params: none.
// Returns: config populated with documented defaults.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            defaultServerHost,
			Port:            defaultServerPort,
			ShutdownSeconds: defaultShutdownSeconds,
		},
		Database: DatabaseConfig{
			Host:                "localhost",
			Port:                "5432",
			User:                "postgres",
			Password:            "postgres",
			Name:                "logalert",
			SSLMode:             "disable",
			QueryTimeoutSeconds: defaultDBQuerySeconds,
		},
		Search: SearchConfig{
			URL:                 "http://localhost:9200",
			QueryTimeoutSeconds: defaultESQuerySeconds,
		},
		Worker: WorkerConfig{
			Enabled:                 true,
			CheckIntervalSeconds:    defaultCheckInterval,
			RetryTimes:              defaultRetryTimes,
			BatchSize:               defaultBatchSize,
			MaxConcurrency:          defaultMaxConcurrency,
			AlertSendTimeoutSeconds: defaultSendTimeoutSeconds,
		},
		Events: EventsConfig{
			Subject: defaultEventsSubject,
			Stream:  defaultEventsStream,
		},
		Log: LogConfig{
			Console: LogSinkConfig{Enabled: true, Level: "info", Format: "line"},
			File:    LogSinkConfig{Level: "info", Format: "json"},
		},
	}
}

// applyEnv overrides snapshot fields from recognized environment variables.
// Params: mutable config pointer.
// Returns: config mutated in place.
func applyEnv(cfg *Config) {
	envString("SERVER_HOST", &cfg.Server.Host)
	envString("SERVER_PORT", &cfg.Server.Port)
	envInt("SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownSeconds)

	envString("DB_HOST", &cfg.Database.Host)
	envString("DB_PORT", &cfg.Database.Port)
	envString("DB_USER", &cfg.Database.User)
	envString("DB_PASSWORD", &cfg.Database.Password)
	envString("DB_NAME", &cfg.Database.Name)
	envString("DB_SSLMODE", &cfg.Database.SSLMode)
	envInt("DB_QUERY_TIMEOUT_SECONDS", &cfg.Database.QueryTimeoutSeconds)

	envString("ES_URL", &cfg.Search.URL)
	envString("ES_USERNAME", &cfg.Search.Username)
	envString("ES_PASSWORD", &cfg.Search.Password)
	envBool("ES_USE_SSL", &cfg.Search.UseSSL)
	envBool("ES_SKIP_VERIFY", &cfg.Search.SkipVerify)
	envString("ES_CA_CERTIFICATE", &cfg.Search.CACertificate)
	envInt("ES_QUERY_TIMEOUT_SECONDS", &cfg.Search.QueryTimeoutSeconds)
	if !cfg.Search.UseSSL && strings.HasPrefix(cfg.Search.URL, "https://") {
		cfg.Search.UseSSL = true
	}

	envBool("WORKER_ENABLED", &cfg.Worker.Enabled)
	envInt("WORKER_CHECK_INTERVAL", &cfg.Worker.CheckIntervalSeconds)
	envInt("WORKER_RETRY_TIMES", &cfg.Worker.RetryTimes)
	envInt("WORKER_BATCH_SIZE", &cfg.Worker.BatchSize)
	envInt("WORKER_MAX_CONCURRENCY", &cfg.Worker.MaxConcurrency)
	envInt("ALERT_SEND_TIMEOUT_SECONDS", &cfg.Worker.AlertSendTimeoutSeconds)

	envString("TELEGRAM_BOT_TOKEN", &cfg.Notify.TelegramBotToken)
	envString("TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)

	envString("EVENTS_NATS_URL", &cfg.Events.NATSURL)
	envString("EVENTS_NATS_SUBJECT", &cfg.Events.Subject)
	envString("EVENTS_NATS_STREAM", &cfg.Events.Stream)

	envString("LOG_LEVEL", &cfg.Log.Console.Level)
	envString("LOG_FORMAT", &cfg.Log.Console.Format)
	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.Log.File.Enabled = true
		cfg.Log.File.Path = path
	}
	envString("LOG_FILE_LEVEL", &cfg.Log.File.Level)

	envString("APP_ENCRYPTION_KEY", &cfg.Security.EncryptionKeyBase64)
}

// Validate checks startup-fatal configuration rules.
// Params: none.
// Returns: first violated rule as error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Search.URL) == "" {
		return errors.New("ES_URL is required")
	}
	if c.Worker.MaxConcurrency < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENCY must be at least 1 (got %d)", c.Worker.MaxConcurrency)
	}
	if c.Security.EncryptionKeyBase64 != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("APP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(c.Security.EncryptionKey))
	}
	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		return errors.New("no log sinks enabled")
	}
	return nil
}

// decodeKey decodes the base64 encryption key accepting raw and padded forms.
// Params: base64 key string.
// Returns: key bytes or decode error.
func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid APP_ENCRYPTION_KEY (base64 decode failed): %w", err)
	}
	return key, nil
}

// envString overrides dst when the variable is set and non-empty.
// Params: variable name and destination pointer.
// Returns: destination mutated in place.
func envString(name string, dst *string) {
	if value := os.Getenv(name); value != "" {
		*dst = value
	}
}

// envInt overrides dst when the variable parses as a positive integer.
// Params: variable name and destination pointer.
// Returns: destination mutated in place.
func envInt(name string, dst *int) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return
	}
	*dst = parsed
}

// envBool overrides dst when the variable parses as a boolean.
// Params: variable name and destination pointer.
// Returns: destination mutated in place.
func envBool(name string, dst *bool) {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "y", "on":
		*dst = true
	case "0", "false", "no", "n", "off":
		*dst = false
	}
}
