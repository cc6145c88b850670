package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/unclebandit/zapdispatch/internal/model"
)

// Submitter is the part of the Dispatcher the worker needs.
type Submitter interface {
	Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error)
}

// Worker runs jobs consumed from the durable job queue.
type Worker struct {
	Dispatcher Submitter
	Log        zerolog.Logger
}

func NewWorker(d Submitter, log zerolog.Logger) *Worker {
	return &Worker{Dispatcher: d, Log: log}
}

// Handle is a queue.JobHandler. The returned error decides whether the
// delivery is requeued; per-item failures never are.
func (w *Worker) Handle(ctx context.Context, job *model.SendJob) error {
	res, err := w.Dispatcher.Submit(ctx, job)
	if err != nil {
		w.Log.Warn().Err(err).Str("job", job.ID).Msg("queued job not dispatched")
		return err
	}
	w.Log.Info().Str("job", res.JobID).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("queued job dispatched")
	return nil
}
