package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/zapdispatch/internal/app"
	"github.com/unclebandit/zapdispatch/internal/config"
	"github.com/unclebandit/zapdispatch/internal/logging"
	"github.com/unclebandit/zapdispatch/internal/queue"
	"github.com/unclebandit/zapdispatch/internal/service"
)

// The worker consumes SendJobs published by POST /dispatch?async=true.
// Recovery of interrupted jobs is left to cmd/server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogConfig())
	if cfg.AMQP.URL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if err := a.Dispatcher.WarmGovernor(ctx, a.Registry.Providers()); err != nil {
		log.Fatal().Err(err).Msg("failed to warm rate governor")
	}

	jobs, err := queue.DialJobQueue(cfg.AMQP.URL, cfg.AMQP.JobsQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer jobs.Close()

	worker := service.NewWorker(a.Dispatcher, log)

	log.Info().Str("queue", cfg.AMQP.JobsQueue).Msg("worker running, waiting for jobs")
	if err := jobs.Consume(ctx, worker.Handle); err != nil {
		log.Error().Err(err).Msg("consumer stopped")
	}
}
