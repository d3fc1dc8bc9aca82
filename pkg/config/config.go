// Package config loads the service configuration once at startup from a YAML
// file, TIMELAPSE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/viper"

	"github.com/sireskandari/Aransite/pkg/cleanup"
	"github.com/sireskandari/Aransite/pkg/encoder"
	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/retry"
	"github.com/sireskandari/Aransite/pkg/scheduler"
	"github.com/sireskandari/Aransite/pkg/storage"
	"github.com/sireskandari/Aransite/pkg/store"
	"github.com/sireskandari/Aransite/pkg/tracing"
)

const EnvPrefix = "TIMELAPSE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Recovery  RecoveryConfig  `mapstructure:"recovery" yaml:"recovery"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup" yaml:"cleanup"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// WriteTimeout bounds artifact streaming too; 0 leaves large downloads unbounded.
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// Serve HTTPS when both are set.
	TLSCertFile string `mapstructure:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file" yaml:"tls_key_file"`
}

type StorageConfig struct {
	StaticRoot      string `mapstructure:"static_root" yaml:"static_root"`
	OutputSubfolder string `mapstructure:"output_subfolder" yaml:"output_subfolder"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectRetries  int           `mapstructure:"connect_retries" yaml:"connect_retries"`
}

type QueueConfig struct {
	Workers  int `mapstructure:"workers" yaml:"workers"`
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type FFmpegConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinFreeBytes uint64        `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`
}

type RecoveryConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
}

type CleanupConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	RetentionDays  int           `mapstructure:"retention_days" yaml:"retention_days"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	VacuumInterval time.Duration `mapstructure:"vacuum_interval" yaml:"vacuum_interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   bool   `mapstructure:"file" yaml:"file"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type MetricsConfig struct {
	RuntimeCollectors bool `mapstructure:"runtime_collectors" yaml:"runtime_collectors"`
}

// New returns a viper instance with defaults and environment binding in
// place. Callers may bind flags on it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("storage.static_root", "")
	v.SetDefault("storage.output_subfolder", storage.DefaultOutputSubfolder)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "timelapse.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)
	v.SetDefault("database.connect_retries", 5)

	v.SetDefault("queue.workers", defaultWorkers())
	v.SetDefault("queue.capacity", 100)

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.timeout", 30*time.Minute)
	v.SetDefault("ffmpeg.min_free_bytes", uint64(512<<20))

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.stale_after", time.Hour)
	v.SetDefault("recovery.interval", 5*time.Minute)

	defaults := cleanup.DefaultConfig()
	v.SetDefault("cleanup.enabled", defaults.Enabled)
	v.SetDefault("cleanup.retention_days", defaults.JobRetentionDays)
	v.SetDefault("cleanup.interval", defaults.CleanupInterval)
	v.SetDefault("cleanup.vacuum_interval", defaults.VacuumInterval)
	v.SetDefault("cleanup.initial_delay", defaults.InitialDelay)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.dir", "")

	v.SetDefault("metrics.runtime_collectors", true)
}

// defaultWorkers leaves half the physical cores free, since ffmpeg itself
// is multi-threaded.
func defaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 2 {
		return 1
	}
	return n / 2
}

// Load reads path (or timelapsed.yaml from the usual locations when path is
// empty), applies env overrides and validates the result. A missing default
// config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("timelapsed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/timelapsed")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue.workers must be at least 1"))
	}
	if c.Queue.Capacity < 1 {
		errs = append(errs, errors.New("queue.capacity must be at least 1"))
	}
	if strings.TrimSpace(c.FFmpeg.Path) == "" {
		errs = append(errs, errors.New("ffmpeg.path is required"))
	}
	if c.FFmpeg.Timeout < 0 {
		errs = append(errs, errors.New("ffmpeg.timeout must not be negative"))
	}
	switch c.Database.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}
	if (c.Database.Type == "postgres" || c.Database.Type == "postgresql") && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for postgres"))
	}
	if sub := storage.NormalizeRelative(c.Storage.OutputSubfolder); sub == ".." || strings.HasPrefix(sub, "../") {
		errs = append(errs, errors.New("storage.output_subfolder must stay inside the static root"))
	}
	if c.Recovery.Enabled {
		if c.Recovery.Interval <= 0 {
			errs = append(errs, errors.New("recovery.interval must be positive"))
		}
		if c.FFmpeg.Timeout > 0 && c.Recovery.StaleAfter <= c.FFmpeg.Timeout {
			errs = append(errs, fmt.Errorf("recovery.stale_after (%s) must exceed ffmpeg.timeout (%s)",
				c.Recovery.StaleAfter, c.FFmpeg.Timeout))
		}
	}
	if c.Cleanup.Enabled && c.Cleanup.RetentionDays < 1 {
		errs = append(errs, errors.New("cleanup.retention_days must be at least 1"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("ratelimit.rps must be positive and ratelimit.burst at least 1"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// StoreConfig maps the database section onto the store factory's options.
func (c *Config) StoreConfig() store.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = c.Database.ConnectRetries
	return store.Config{
		Type:            c.Database.Type,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		ConnectRetry:    rc,
	}
}

func (c *Config) EncoderConfig() encoder.Config {
	return encoder.Config{
		FFmpegPath:   c.FFmpeg.Path,
		Timeout:      c.FFmpeg.Timeout,
		MinFreeBytes: c.FFmpeg.MinFreeBytes,
	}
}

func (c *Config) RecoveryConfig() scheduler.Config {
	return scheduler.Config{StaleAfter: c.Recovery.StaleAfter, Interval: c.Recovery.Interval}
}

func (c *Config) CleanupConfig() cleanup.Config {
	return cleanup.Config{
		Enabled:          c.Cleanup.Enabled,
		JobRetentionDays: c.Cleanup.RetentionDays,
		CleanupInterval:  c.Cleanup.Interval,
		VacuumInterval:   c.Cleanup.VacuumInterval,
		InitialDelay:     c.Cleanup.InitialDelay,
	}
}

func (c *Config) TracingConfig(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "timelapsed",
		ServiceVersion: version,
		Environment:    c.Tracing.Environment,
		OTLPEndpoint:   c.Tracing.Endpoint,
		Insecure:       c.Tracing.Insecure,
		SampleRatio:    c.Tracing.SampleRatio,
		Enabled:        c.Tracing.Enabled,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		File:    c.Logging.File,
		Dir:     c.Logging.Dir,
		Service: "timelapsed",
	}
}

// Layout resolves the storage section against the filesystem.
func (c *Config) Layout() (storage.Layout, error) {
	return storage.NewLayout(c.Storage.StaticRoot, c.Storage.OutputSubfolder)
}
