// Package app wires the dispatch core from configuration. cmd/server and
// cmd/worker share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/zapdispatch/internal/config"
	"github.com/unclebandit/zapdispatch/internal/db"
	"github.com/unclebandit/zapdispatch/internal/history"
	"github.com/unclebandit/zapdispatch/internal/idempotency"
	"github.com/unclebandit/zapdispatch/internal/provider"
	"github.com/unclebandit/zapdispatch/internal/provider/cloudapi"
	"github.com/unclebandit/zapdispatch/internal/provider/evolution"
	"github.com/unclebandit/zapdispatch/internal/queue"
	"github.com/unclebandit/zapdispatch/internal/ratelimit"
	"github.com/unclebandit/zapdispatch/internal/repository"
	"github.com/unclebandit/zapdispatch/internal/resolver"
	"github.com/unclebandit/zapdispatch/internal/service"
)

type App struct {
	Config   config.Config
	Log      zerolog.Logger
	DB       *sql.DB
	Redis    *redis.Client
	Registry *provider.Registry
	// Governor is a *ratelimit.RedisGovernor when Redis is configured, so
	// server and worker share one set of ceilings.
	Governor   service.RateGovernor
	Dispatcher *service.Dispatcher

	closers []func() error
}

// Build opens every backing service named in cfg. On error, whatever was
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	var (
		store     queue.Store
		directory resolver.Directory
		sinks     = history.Multi{history.LogSink{Log: log}}
	)

	if cfg.DB.Driver == db.DriverMemory {
		log.Warn().Msg("DB_DRIVER=memory: queue items do not survive restarts")
		store = queue.NewMemoryStore()
		directory = resolver.StaticDirectory{}
	} else {
		conn, err := db.Open(cfg.DBConfig())
		if err != nil {
			return nil, err
		}
		a.DB = conn
		a.closers = append(a.closers, conn.Close)
		if err := db.Migrate(conn, cfg.DB.Driver); err != nil {
			return nil, err
		}
		store = repository.NewQueueRepository(conn, cfg.DB.Driver)
		directory = repository.NewDirectoryRepository(conn, cfg.DB.Driver)
		sinks = append(sinks, history.StoreSink{Appender: repository.NewHistoryRepository(conn, cfg.DB.Driver)})
	}

	if cfg.AMQP.URL != "" && cfg.AMQP.HistoryExchange != "" {
		amqpSink, err := history.DialAMQPSink(cfg.AMQP.URL, cfg.AMQP.HistoryExchange, "zapdispatch")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
	}

	if cfg.Redis.Addr != "" {
		if err := a.connectRedis(ctx); err != nil {
			return nil, err
		}
	}
	guard := a.newGuard()

	a.Registry = NewRegistry(cfg, nil)
	if len(a.Registry.Providers()) == 0 {
		log.Warn().Msg("no provider configured, every job will be rejected")
	}
	if a.Redis != nil {
		a.Governor = ratelimit.NewRedisGovernor(a.Redis, cfg.Redis.Namespace, cfg.RateLimits())
	} else {
		if cfg.AMQP.URL != "" {
			log.Warn().Msg("REDIS_ADDR not set: rate ceilings are per process, server and worker each get the full limits")
		}
		a.Governor = ratelimit.NewGovernor(cfg.RateLimits())
	}

	a.Dispatcher = &service.Dispatcher{
		Resolver:    resolver.New(directory, a.Registry),
		Adapters:    a.Registry,
		Governor:    a.Governor,
		Store:       store,
		Guard:       guard,
		Sink:        sinks,
		PacingDelay: cfg.PacingDelay,
		SendTimeout: cfg.SendTimeout,
		LeaseTTL:    cfg.LeaseTTL,
		Log:         log,
	}
	built = true
	return a, nil
}

// NewRegistry builds an adapter for every provider with credentials.
func NewRegistry(cfg config.Config, httpClient *http.Client) *provider.Registry {
	var adapters []provider.Adapter
	if cfg.Official.Enabled() {
		client := cloudapi.New(cloudapi.Config{
			BaseURL:       cfg.Official.BaseURL,
			APIVersion:    cfg.Official.APIVersion,
			PhoneNumberID: cfg.Official.PhoneNumberID,
			Token:         cfg.Official.Token,
		}, httpClient)
		adapters = append(adapters, provider.NewOfficial(client))
	}
	if cfg.Direct.Enabled() {
		client := evolution.New(evolution.Config{
			BaseURL:  cfg.Direct.BaseURL,
			APIKey:   cfg.Direct.APIKey,
			Instance: cfg.Direct.Instance,
		}, httpClient)
		adapters = append(adapters, provider.NewSession(client, cfg.Direct.Instance))
	}
	return provider.NewRegistry(adapters...)
}

func (a *App) connectRedis(ctx context.Context) error {
	cfg := a.Config.Redis
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, a.Redis.Close)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// newGuard prefers Redis, then the database. The in-memory guard does not
// survive a restart, so recovery can only requeue in-flight items with it.
func (a *App) newGuard() idempotency.Guard {
	ttl := a.Config.IdempotencyTTL
	switch {
	case a.Redis != nil:
		return idempotency.NewRedisGuard(a.Redis, a.Config.Redis.Namespace, ttl)
	case a.DB != nil:
		return repository.NewIdempotencyRepository(a.DB, a.Config.DB.Driver, ttl)
	}
	return idempotency.NewMemoryGuard(ttl)
}

// Close releases resources in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
