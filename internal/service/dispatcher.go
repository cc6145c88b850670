// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/history"
	"github.com/unclebandit/zapdispatch/internal/idempotency"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/provider"
	"github.com/unclebandit/zapdispatch/internal/queue"
	"github.com/unclebandit/zapdispatch/internal/ratelimit"
)

type TargetResolver interface {
	Resolve(ctx context.Context, job *model.SendJob) ([]model.ResolvedTarget, error)
}

type AdapterSource interface {
	Get(p model.Provider) (provider.Adapter, bool)
}

// RateGovernor is shared by every running job, in this process or, when
// backed by Redis, in any process.
type RateGovernor interface {
	Reserve(ctx context.Context, p model.Provider) (ratelimit.Decision, error)
	Warm(ctx context.Context, p model.Provider, c ratelimit.Counts) error
}

// Dispatcher turns a SendJob into durable queue items and sends them one at
// a time. A job is run by at most one loop: every run holds the job's lease
// in the store and renews it before each item.
type Dispatcher struct {
	Resolver TargetResolver
	Adapters AdapterSource
	Governor RateGovernor
	Store    queue.Store
	Guard    idempotency.Guard
	Sink     history.Sink

	PacingDelay time.Duration
	SendTimeout time.Duration
	// LeaseTTL must exceed PacingDelay+SendTimeout. Zero means two minutes.
	LeaseTTL time.Duration

	Log   zerolog.Logger
	Now   func() time.Time
	NewID func() string
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

func (d *Dispatcher) guard() idempotency.Guard {
	if d.Guard != nil {
		return d.Guard
	}
	return idempotency.Nop{}
}

// Submit resolves the job, persists one pending item per target and runs
// them to a terminal state. Precondition errors return before any item is
// created. Item failures are reported in the result, not as an error.
//
// A job id that already has items is resumed instead of resolved again. A
// job another loop is running fails with ErrJobRunning.
func (d *Dispatcher) Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error) {
	if job.ID == "" {
		job.ID = d.newID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = d.now()
	}
	if job.Hint == "" {
		job.Hint = model.HintIndividual
	}
	if err := validateContent(job.Content); err != nil {
		return nil, err
	}

	lease, err := d.claim(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	defer lease.release(ctx)

	existing, err := d.Store.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", job.ID, err)
	}
	if len(existing) > 0 {
		d.Log.Info().Str("job", job.ID).Int("items", len(existing)).Msg("job already queued, resuming")
		return d.resume(ctx, lease, existing)
	}

	targets, err := d.Resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	now := d.now()
	items := make([]*model.QueueItem, 0, len(targets))
	for i, t := range targets {
		it := model.NewQueueItem(d.newID(), job, i, t, now)
		if err := d.Store.CreateItem(ctx, it); err != nil {
			return nil, fmt.Errorf("create queue item for %s: %w", t.Address, err)
		}
		items = append(items, it)
	}
	d.Log.Info().Str("job", job.ID).Int("items", len(items)).Msg("dispatch job queued")

	return d.run(ctx, lease, items, true)
}

// run processes the non-terminal items of one job in sequence order. When
// ctx ends early, the lease is lost or a store write fails, the remaining
// items stay pending for recovery and the partial result is returned with
// the error. The history sink only sees the result when some item changed
// state in this call.
func (d *Dispatcher) run(ctx context.Context, lease *jobLease, items []*model.QueueItem, changed bool) (*model.DispatchResult, error) {
	jobID := lease.jobID
	pacer := NewPacer(d.PacingDelay)
	for _, it := range items {
		if it.State.Terminal() {
			continue
		}
		changed = true
		if err := pacer.Wait(ctx); err != nil {
			return d.partial(jobID, items, err)
		}
		if err := lease.renew(ctx); err != nil {
			return d.partial(jobID, items, err)
		}
		if err := d.process(ctx, it); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return d.partial(jobID, items, err)
		}
	}

	if !changed {
		return storedResult(jobID, items), nil
	}

	res := model.ResultFromItems(jobID, items)
	res.FinishedAt = d.now()
	if d.Sink != nil {
		if err := d.Sink.Record(ctx, res); err != nil {
			d.Log.Error().Err(err).Str("job", jobID).Msg("history sink failed")
		}
	}

	ev := d.Log.Info()
	if res.Failed > 0 {
		ev = d.Log.Warn()
	}
	ev.Str("job", jobID).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("dispatch job finished")
	return res, nil
}

func (d *Dispatcher) partial(jobID string, items []*model.QueueItem, err error) (*model.DispatchResult, error) {
	d.Log.Warn().Err(err).Str("job", jobID).Msg("dispatch interrupted, remaining items left for recovery")
	return model.ResultFromItems(jobID, items), err
}

// process drives one item from pending to a terminal state. Every
// transition is persisted before it returns. A non-nil error means the
// item could not be persisted, the governor could not be reached or ctx was
// cancelled mid-send.
func (d *Dispatcher) process(ctx context.Context, it *model.QueueItem) error {
	if err := it.Start(d.now()); err != nil {
		return err
	}
	if err := d.Store.UpdateItem(ctx, it); err != nil {
		return fmt.Errorf("persist in_flight %s: %w", it.ID, err)
	}

	p := it.Target.Provider
	dec, err := d.Governor.Reserve(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rqErr := it.Requeue(d.now()); rqErr != nil {
			return rqErr
		}
		if perr := d.Store.UpdateItem(ctx, it); perr != nil {
			return fmt.Errorf("persist pending %s: %w", it.ID, perr)
		}
		return fmt.Errorf("reserve rate slot for %s: %w", it.ID, err)
	}

	var (
		receipt provider.Receipt
		sendErr error
	)
	if dec.Allowed {
		it.Reserved = true
		receipt, sendErr = d.send(ctx, it)
	} else {
		sendErr = appErrors.NewRateLimited(string(p), dec.RetryAfter)
	}
	if sendErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	log := d.Log.With().
		Str("job", it.JobID).
		Str("item", it.ID).
		Str("provider", string(it.Target.Provider)).
		Str("target", it.Target.Address).
		Logger()

	if sendErr != nil {
		if err := it.Fail(sendErr.Error(), d.now()); err != nil {
			return err
		}
		if err := d.Store.UpdateItem(ctx, it); err != nil {
			return fmt.Errorf("persist failed %s: %w", it.ID, err)
		}
		log.Warn().Err(sendErr).Msg("dispatch item failed")
		return nil
	}

	if err := d.guard().Record(ctx, it.IdempotencyKey, receipt.MessageID); err != nil {
		log.Error().Err(err).Msg("idempotency record failed")
	}
	if err := it.Succeed(receipt.MessageID, receipt.Status, d.now()); err != nil {
		return err
	}
	if err := d.Store.UpdateItem(ctx, it); err != nil {
		return fmt.Errorf("persist sent %s: %w", it.ID, err)
	}
	log.Info().Str("message_id", receipt.MessageID).Msg("dispatch item sent")
	return nil
}

// send calls the adapter under the send timeout.
func (d *Dispatcher) send(ctx context.Context, it *model.QueueItem) (provider.Receipt, error) {
	p := it.Target.Provider
	adapter, ok := d.Adapters.Get(p)
	if !ok {
		return provider.Receipt{}, appErrors.NewProviderUnavailable(string(p), "no adapter configured")
	}

	sendCtx := ctx
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	receipt, err := provider.Send(sendCtx, adapter, it.Target, it.Content)
	if err != nil && ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		var te *appErrors.TransportError
		if !errors.As(err, &te) {
			err = appErrors.NewTransport(string(p), "send timed out", err)
		}
	}
	return receipt, err
}

func validateContent(c model.Content) error {
	switch {
	case !c.Type.Valid():
		return appErrors.NewInvalidContent(fmt.Sprintf("unknown content type %q", c.Type))
	case c.Type == model.ContentText && strings.TrimSpace(c.Body) == "":
		return appErrors.NewInvalidContent("text body is empty")
	case c.Type.IsMedia() && c.MediaURL == "":
		return appErrors.NewInvalidContent("media_url is required for " + string(c.Type))
	case c.Type == model.ContentTemplate && c.TemplateName == "":
		return appErrors.NewInvalidContent("template_name is required")
	}
	return nil
}
