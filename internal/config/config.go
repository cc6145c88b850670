// Package config reads process configuration once at startup: an optional
// YAML file named by CONFIG_FILE, then environment variables (with .env
// loaded through godotenv) on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/zapdispatch/internal/db"
	"github.com/unclebandit/zapdispatch/internal/logging"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/ratelimit"
)

const (
	DefaultHTTPAddr        = ":8080"
	DefaultJobsQueue       = "dispatch_jobs"
	DefaultHistoryExchange = "dispatch.history"
	DefaultRedisNamespace  = "zapdispatch"
	DefaultIdempotencyTTL  = 72 * time.Hour
	DefaultPacingDelay     = 2 * time.Second
	DefaultSendTimeout     = 30 * time.Second
	DefaultLeaseTTL        = 2 * time.Minute
	DefaultRecoverInterval = time.Minute
)

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Database struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

type AMQP struct {
	URL             string `yaml:"url"`
	JobsQueue       string `yaml:"jobs_queue"`
	HistoryExchange string `yaml:"history_exchange"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// Limits are per provider; zero disables that window.
type Limits struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"`
	MaxPerDay    int `yaml:"max_per_day"`
}

type Official struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	Token         string `yaml:"token"`
	Limits        `yaml:",inline"`
}

func (o Official) Enabled() bool { return o.Token != "" && o.PhoneNumberID != "" }

type Direct struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Instance string `yaml:"instance"`
	Limits   `yaml:",inline"`
}

func (d Direct) Enabled() bool { return d.BaseURL != "" && d.Instance != "" }

type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	Log            Log           `yaml:"log"`
	DB             Database      `yaml:"db"`
	AMQP           AMQP          `yaml:"amqp"`
	Redis          Redis         `yaml:"redis"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	PacingDelay    time.Duration `yaml:"pacing_delay"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	// LeaseTTL bounds how long a dead loop keeps a job from recovery.
	LeaseTTL        time.Duration `yaml:"lease_ttl"`
	RecoverInterval time.Duration `yaml:"recover_interval"`
	Official        Official      `yaml:"official"`
	Direct          Direct        `yaml:"direct"`
}

func Default() Config {
	return Config{
		HTTPAddr:        DefaultHTTPAddr,
		Log:             Log{Level: "info", Format: "json"},
		DB:              Database{Driver: db.DriverPostgres, Port: "5432"},
		AMQP:            AMQP{JobsQueue: DefaultJobsQueue, HistoryExchange: DefaultHistoryExchange},
		Redis:           Redis{Namespace: DefaultRedisNamespace},
		IdempotencyTTL:  DefaultIdempotencyTTL,
		PacingDelay:     DefaultPacingDelay,
		SendTimeout:     DefaultSendTimeout,
		LeaseTTL:        DefaultLeaseTTL,
		RecoverInterval: DefaultRecoverInterval,
	}
}

// Load reads .env if present, then CONFIG_FILE, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.Getenv)
}

func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	e := envReader{getenv: getenv}
	e.str("HTTP_ADDR", &cfg.HTTPAddr)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	e.str("DB_DRIVER", &cfg.DB.Driver)
	e.str("DB_HOST", &cfg.DB.Host)
	e.str("DB_PORT", &cfg.DB.Port)
	e.str("DB_USER", &cfg.DB.User)
	e.str("DB_PASSWORD", &cfg.DB.Password)
	e.str("DB_NAME", &cfg.DB.Name)
	e.str("DB_SSLMODE", &cfg.DB.SSLMode)
	e.str("SQLITE_PATH", &cfg.DB.SQLitePath)

	e.str("AMQP_URL", &cfg.AMQP.URL)
	e.str("AMQP_JOBS_QUEUE", &cfg.AMQP.JobsQueue)
	e.str("AMQP_HISTORY_EXCHANGE", &cfg.AMQP.HistoryExchange)

	e.str("REDIS_ADDR", &cfg.Redis.Addr)
	e.str("REDIS_PASSWORD", &cfg.Redis.Password)
	e.integer("REDIS_DB", &cfg.Redis.DB)
	e.str("REDIS_NAMESPACE", &cfg.Redis.Namespace)

	e.dur("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	e.dur("PACING_DELAY", &cfg.PacingDelay)
	e.dur("SEND_TIMEOUT", &cfg.SendTimeout)
	e.dur("LEASE_TTL", &cfg.LeaseTTL)
	e.dur("RECOVER_INTERVAL", &cfg.RecoverInterval)

	e.str("OFFICIAL_BASE_URL", &cfg.Official.BaseURL)
	e.str("OFFICIAL_API_VERSION", &cfg.Official.APIVersion)
	e.str("OFFICIAL_PHONE_NUMBER_ID", &cfg.Official.PhoneNumberID)
	e.str("OFFICIAL_TOKEN", &cfg.Official.Token)
	e.limits("OFFICIAL", &cfg.Official.Limits)

	e.str("DIRECT_BASE_URL", &cfg.Direct.BaseURL)
	e.str("DIRECT_API_KEY", &cfg.Direct.APIKey)
	e.str("DIRECT_INSTANCE", &cfg.Direct.Instance)
	e.limits("DIRECT", &cfg.Direct.Limits)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid key.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case db.DriverPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the postgres driver")
		}
	case db.DriverSQLite:
		if c.DB.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case db.DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER: unsupported value %q", c.DB.Driver)
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("PACING_DELAY must be >= 0")
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("SEND_TIMEOUT must be >= 0")
	}
	// a lease is renewed once per item: pacing wait plus one send
	if c.LeaseTTL <= c.PacingDelay+c.SendTimeout {
		return fmt.Errorf("LEASE_TTL must exceed PACING_DELAY + SEND_TIMEOUT (%s)", c.PacingDelay+c.SendTimeout)
	}
	if c.RecoverInterval < 0 {
		return fmt.Errorf("RECOVER_INTERVAL must be >= 0")
	}
	for prefix, l := range map[string]Limits{"OFFICIAL": c.Official.Limits, "DIRECT": c.Direct.Limits} {
		if l.MaxPerMinute < 0 || l.MaxPerHour < 0 || l.MaxPerDay < 0 {
			return fmt.Errorf("%s_MAX_PER_*: limits must be >= 0", prefix)
		}
	}
	return nil
}

func (c Config) DBConfig() db.Config {
	return db.Config{
		Driver:     c.DB.Driver,
		Host:       c.DB.Host,
		Port:       c.DB.Port,
		User:       c.DB.User,
		Password:   c.DB.Password,
		Name:       c.DB.Name,
		SSLMode:    c.DB.SSLMode,
		SQLitePath: c.DB.SQLitePath,
	}
}

func (c Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// RateLimits maps the configured ceilings onto the governor's providers.
func (c Config) RateLimits() map[model.Provider]ratelimit.Limits {
	return map[model.Provider]ratelimit.Limits{
		model.ProviderOfficial: toLimits(c.Official.Limits),
		model.ProviderDirect:   toLimits(c.Direct.Limits),
	}
}

func toLimits(l Limits) ratelimit.Limits {
	return ratelimit.Limits{PerMinute: l.MaxPerMinute, PerHour: l.MaxPerHour, PerDay: l.MaxPerDay}
}

// envReader overrides fields with non-empty variables and keeps the first
// parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: invalid integer %q", key, v)
		return
	}
	*dst = n
}

func (e *envReader) dur(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) limits(prefix string, l *Limits) {
	e.integer(prefix+"_MAX_PER_MINUTE", &l.MaxPerMinute)
	e.integer(prefix+"_MAX_PER_HOUR", &l.MaxPerHour)
	e.integer(prefix+"_MAX_PER_DAY", &l.MaxPerDay)
}
