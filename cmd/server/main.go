// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/zapdispatch/internal/app"
	"github.com/unclebandit/zapdispatch/internal/config"
	"github.com/unclebandit/zapdispatch/internal/controller"
	"github.com/unclebandit/zapdispatch/internal/handler"
	"github.com/unclebandit/zapdispatch/internal/logging"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogConfig())

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

	// Jobs interrupted here or in a worker, once their lease expires.
	go a.Dispatcher.Sweep(ctx, cfg.RecoverInterval)

	var publisher queue.JobPublisher
	if cfg.AMQP.URL != "" {
		jobs, err := queue.DialJobQueue(cfg.AMQP.URL, cfg.AMQP.JobsQueue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer jobs.Close()
		publisher = jobs
	}

	dispatchController := &controller.DispatchController{
		Service:   a.Dispatcher,
		Publisher: publisher,
		Lifetime:  ctx,
		Log:       log,
	}
	queueHandler := handler.NewQueueHandler(a.Dispatcher)

	r := chi.NewRouter()

	// Dispatch routes
	r.Post("/dispatch", dispatchController.Dispatch)
	r.Get("/queue", queueHandler.ListQueue)
	r.Get("/jobs/{id}", queueHandler.GetJob)

	serve(ctx, log, &http.Server{Addr: cfg.HTTPAddr, Handler: r})
}

func serve(ctx context.Context, log zerolog.Logger, srv *http.Server) {
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server stopped")
}
