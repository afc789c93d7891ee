package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"alertsync/internal/alertcenter"
	"alertsync/internal/logging"
)

// ErrConfig marks a missing or invalid setting. Runs abort before any external call.
var ErrConfig = errors.New("configuration error")

// Commit modes for the cursor.
const (
	CommitEager       = "eager"
	CommitAfterUpload = "after_upload"
)

// Cursor backends.
const (
	CursorBlob     = "blob"
	CursorRedis    = "redis"
	CursorPostgres = "postgres"
	CursorFile     = "file"
)

// Google authentication modes.
const (
	AuthServiceAccount     = "service_account"
	AuthApplicationDefault = "application_default"
)

// AlertsScope is the OAuth scope required by the Alert Center API.
const AlertsScope = alertcenter.Scope

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" yaml:"schedule"`
	Window    WindowConfig    `mapstructure:"window" yaml:"window"`
	Cursor    CursorConfig    `mapstructure:"cursor" yaml:"cursor"`
	KeyVault  KeyVaultConfig  `mapstructure:"keyvault" yaml:"keyvault"`
	Google    GoogleConfig    `mapstructure:"google" yaml:"google"`
	Ingestion IngestionConfig `mapstructure:"ingestion" yaml:"ingestion"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Export    ExportConfig    `mapstructure:"export" yaml:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// ScheduleConfig governs when runs fire.
type ScheduleConfig struct {
	Cron             string        `mapstructure:"cron" yaml:"cron"`
	Timezone         string        `mapstructure:"timezone" yaml:"timezone"`
	RunOnStartup     bool          `mapstructure:"run_on_startup" yaml:"run_on_startup"`
	PastDueTolerance time.Duration `mapstructure:"past_due_tolerance" yaml:"past_due_tolerance"`
	RunTimeout       time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// WindowConfig tunes the query window computation.
type WindowConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval" yaml:"default_interval"`
	SafetyMargin    time.Duration `mapstructure:"safety_margin" yaml:"safety_margin"`
	CommitMode      string        `mapstructure:"commit_mode" yaml:"commit_mode"`
}

// CursorConfig selects and configures the watermark backend.
type CursorConfig struct {
	Backend string           `mapstructure:"backend" yaml:"backend"`
	Name    string           `mapstructure:"name" yaml:"name"`
	Blob    BlobCursorConfig `mapstructure:"blob" yaml:"blob"`
	Redis   RedisConfig      `mapstructure:"redis" yaml:"redis"`
	File    FileCursorConfig `mapstructure:"file" yaml:"file"`
}

// BlobCursorConfig identifies the blob holding the cursor.
type BlobCursorConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	Container   string `mapstructure:"container" yaml:"container"`
	BlobName    string `mapstructure:"blob_name" yaml:"blob_name"`
	ServiceURL  string `mapstructure:"service_url" yaml:"service_url"`
}

// RedisConfig covers the redis cursor backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// FileCursorConfig covers the local file cursor backend.
type FileCursorConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// KeyVaultConfig names the vault and the secrets read on every run.
type KeyVaultConfig struct {
	URL                  string `mapstructure:"url" yaml:"url"`
	ServiceAccountSecret string `mapstructure:"service_account_secret" yaml:"service_account_secret"`
	SubjectSecret        string `mapstructure:"subject_secret" yaml:"subject_secret"`
}

// GoogleConfig covers Alert Center access.
type GoogleConfig struct {
	// Auth is service_account (key and subject from Key Vault) or
	// application_default (the ambient Google credentials).
	Auth              string        `mapstructure:"auth" yaml:"auth"`
	Scopes            []string      `mapstructure:"scopes" yaml:"scopes"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	PageSize          int           `mapstructure:"page_size" yaml:"page_size"`
	MaxPages          int           `mapstructure:"max_pages" yaml:"max_pages"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// IngestionConfig identifies the Logs Ingestion destination.
type IngestionConfig struct {
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	RuleID        string `mapstructure:"rule_id" yaml:"rule_id"`
	StreamName    string `mapstructure:"stream_name" yaml:"stream_name"`
	MaxBatchBytes int    `mapstructure:"max_batch_bytes" yaml:"max_batch_bytes"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"-"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	RunLockKey      int64         `mapstructure:"run_lock_key" yaml:"run_lock_key"`
}

// MetricsConfig controls the metrics and health listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRuns int `mapstructure:"max_runs" yaml:"max_runs"`
}

// legacyEnv maps config keys to the Function App setting names they replace.
var legacyEnv = map[string]string{
	"ingestion.endpoint":              "DCE_URL",
	"ingestion.rule_id":               "DCR_ID",
	"ingestion.stream_name":           "DCR_STREAM",
	"keyvault.url":                    "KV_URL",
	"keyvault.service_account_secret": "KV_SECRET_GOOGLE_SERVICE_ACCOUNT",
	"keyvault.subject_secret":         "KV_SECRET_GOOGLE_USER",
	"cursor.blob.account_name":        "STORAGE_NAME",
	"cursor.blob.container":           "STORAGE_CONTAINER",
	"cursor.blob.blob_name":           "STORAGE_BLOB_FILE",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALERTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "ALERTSYNC_"+envKey(key), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alertsync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("schedule.cron", "0 */10 * * * *")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.run_on_startup", false)
	v.SetDefault("schedule.past_due_tolerance", "30s")
	v.SetDefault("schedule.run_timeout", "5m")

	v.SetDefault("window.default_interval", "10m")
	v.SetDefault("window.safety_margin", "1m")
	v.SetDefault("window.commit_mode", CommitEager)

	v.SetDefault("cursor.backend", CursorBlob)
	v.SetDefault("cursor.name", "google-alert-center")
	v.SetDefault("cursor.redis.addr", "127.0.0.1:6379")
	v.SetDefault("cursor.redis.key", "alertsync:cursor")
	v.SetDefault("cursor.file.path", "state/cursor.txt")

	v.SetDefault("google.auth", AuthServiceAccount)
	v.SetDefault("google.scopes", []string{AlertsScope})
	v.SetDefault("google.page_size", 10)
	v.SetDefault("google.max_pages", 1000)
	v.SetDefault("google.request_timeout", "30s")
	v.SetDefault("google.requests_per_second", 0.0)

	v.SetDefault("ingestion.max_batch_bytes", 1_000_000)

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.run_lock_key", int64(0x616c7274))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_runs", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate reports every missing required setting at once, then sanity-checks tunables.
func (c *Config) Validate() error {
	if missing := c.MissingSettings(); len(missing) > 0 {
		return fmt.Errorf("%w: required settings not set: %s", ErrConfig, strings.Join(missing, ", "))
	}

	if c.Window.DefaultInterval <= 0 {
		return fmt.Errorf("%w: window.default_interval must be greater than zero", ErrConfig)
	}
	if c.Window.SafetyMargin < 0 {
		return fmt.Errorf("%w: window.safety_margin cannot be negative", ErrConfig)
	}
	switch c.Window.CommitMode {
	case CommitEager, CommitAfterUpload:
	default:
		return fmt.Errorf("%w: window.commit_mode must be %q or %q", ErrConfig, CommitEager, CommitAfterUpload)
	}
	switch c.Google.Auth {
	case AuthServiceAccount, AuthApplicationDefault:
	default:
		return fmt.Errorf("%w: google.auth must be %q or %q", ErrConfig, AuthServiceAccount, AuthApplicationDefault)
	}
	if c.Google.PageSize <= 0 {
		return fmt.Errorf("%w: google.page_size must be greater than zero", ErrConfig)
	}
	if c.Google.MaxPages <= 0 {
		return fmt.Errorf("%w: google.max_pages must be greater than zero", ErrConfig)
	}
	if c.Google.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: google.requests_per_second cannot be negative", ErrConfig)
	}
	if c.Ingestion.MaxBatchBytes <= 0 {
		return fmt.Errorf("%w: ingestion.max_batch_bytes must be greater than zero", ErrConfig)
	}
	if c.Export.MaxRuns <= 0 {
		return fmt.Errorf("%w: export.max_runs must be greater than zero", ErrConfig)
	}
	return nil
}

type setting struct {
	key   string
	value string
}

// MissingSettings lists the keys every command needs that have no value.
// Keys only a pipeline run needs are checked by ValidateRun.
func (c *Config) MissingSettings() []string {
	required := []setting{
		{"schedule.cron", c.Schedule.Cron},
	}

	switch c.Cursor.Backend {
	case CursorBlob:
		required = append(required,
			setting{"cursor.blob.account_name", c.Cursor.Blob.AccountName},
			setting{"cursor.blob.container", c.Cursor.Blob.Container},
			setting{"cursor.blob.blob_name", c.Cursor.Blob.BlobName},
		)
	case CursorRedis:
		required = append(required,
			setting{"cursor.redis.addr", c.Cursor.Redis.Addr},
			setting{"cursor.redis.key", c.Cursor.Redis.Key},
		)
	case CursorPostgres:
		required = append(required,
			setting{"database.dsn", c.Database.DSN},
			setting{"cursor.name", c.Cursor.Name},
		)
	case CursorFile:
		required = append(required,
			setting{"cursor.file.path", c.Cursor.File.Path},
		)
	default:
		required = append(required, setting{"cursor.backend", ""})
	}

	return missingKeys(required)
}

// ValidateRun reports the settings a pipeline run needs before it makes any
// external call. upload is false for dry runs, which never reach the sink.
func (c *Config) ValidateRun(upload bool) error {
	if missing := c.MissingRunSettings(upload); len(missing) > 0 {
		return fmt.Errorf("%w: required settings not set: %s", ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

// MissingRunSettings lists the run-only keys that have no value.
func (c *Config) MissingRunSettings(upload bool) []string {
	var required []setting
	if c.Google.Auth == AuthServiceAccount {
		required = append(required,
			setting{"keyvault.url", c.KeyVault.URL},
			setting{"keyvault.service_account_secret", c.KeyVault.ServiceAccountSecret},
			setting{"keyvault.subject_secret", c.KeyVault.SubjectSecret},
		)
	}
	if upload {
		required = append(required,
			setting{"ingestion.endpoint", c.Ingestion.Endpoint},
			setting{"ingestion.rule_id", c.Ingestion.RuleID},
			setting{"ingestion.stream_name", c.Ingestion.StreamName},
		)
	}
	return missingKeys(required)
}

func missingKeys(required []setting) []string {
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	return missing
}

// ResolveMaxRuns returns either the CLI override or config default.
func (c *Config) ResolveMaxRuns(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRuns
}
