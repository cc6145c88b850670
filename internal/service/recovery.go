package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/provider"
	"github.com/unclebandit/zapdispatch/internal/queue"
	"github.com/unclebandit/zapdispatch/internal/ratelimit"
)

// Recover re-runs every job that still has pending or in_flight items and
// no live lease. Jobs another loop is running, here or in another process,
// are left to it.
func (d *Dispatcher) Recover(ctx context.Context) ([]*model.DispatchResult, error) {
	incomplete, err := d.Store.ListIncomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incomplete items: %w", err)
	}
	if len(incomplete) == 0 {
		return nil, nil
	}

	order, _ := queue.GroupByJob(incomplete)
	d.Log.Info().Int("jobs", len(order)).Int("items", len(incomplete)).Msg("recovering interrupted jobs")

	results := make([]*model.DispatchResult, 0, len(order))
	for _, jobID := range order {
		res, err := d.recoverJob(ctx, jobID)
		if errors.Is(err, appErrors.ErrJobRunning) {
			d.Log.Debug().Str("job", jobID).Msg("job leased by a running loop, skipped")
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) recoverJob(ctx context.Context, jobID string) (*model.DispatchResult, error) {
	lease, err := d.claim(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer lease.release(ctx)

	// reload under the lease; the previous owner may have moved on
	items, err := d.Store.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return d.resume(ctx, lease, items)
}

// Sweep runs Recover now and then every interval until ctx ends. Jobs whose
// owner died are picked up once their lease expires.
func (d *Dispatcher) Sweep(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		results, err := d.Recover(ctx)
		if err != nil && ctx.Err() == nil {
			d.Log.Error().Err(err).Msg("recovery failed")
		} else if len(results) > 0 {
			d.Log.Info().Int("jobs", len(results)).Msg("recovery finished")
		}
		if tick == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}
	}
}

// resume settles in_flight items and runs what is left. An in_flight item
// whose send was already accepted by the provider is marked sent from the
// idempotency record; any other in_flight item goes back to pending.
func (d *Dispatcher) resume(ctx context.Context, lease *jobLease, items []*model.QueueItem) (*model.DispatchResult, error) {
	settled := false
	for _, it := range items {
		if it.State != model.StateInFlight {
			continue
		}
		msgID, ok, err := d.guard().Lookup(ctx, it.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup %s: %w", it.ID, err)
		}
		now := d.now()
		if ok {
			if err := it.Succeed(msgID, provider.StatusSent, now); err != nil {
				return nil, err
			}
			settled = true
			d.Log.Info().Str("job", lease.jobID).Str("item", it.ID).Msg("in-flight item already accepted, marked sent")
		} else if err := it.Requeue(now); err != nil {
			return nil, err
		}
		if err := d.Store.UpdateItem(ctx, it); err != nil {
			return nil, fmt.Errorf("persist recovered %s: %w", it.ID, err)
		}
	}
	return d.run(ctx, lease, items, settled)
}

// WarmGovernor seeds the rate windows with the slots taken in the last
// minute, the current hour and the current day, so a restart does not
// reset the ceilings. Failed sends that reached the transport count too.
func (d *Dispatcher) WarmGovernor(ctx context.Context, providers []model.Provider) error {
	minute, hour, day := ratelimit.Boundaries(d.now())
	for _, p := range providers {
		var c ratelimit.Counts
		var err error
		if c.Minute, c.MinuteFrom, err = d.Store.CountReservedSince(ctx, p, minute); err != nil {
			return fmt.Errorf("count %s sends: %w", p, err)
		}
		if c.Hour, _, err = d.Store.CountReservedSince(ctx, p, hour); err != nil {
			return fmt.Errorf("count %s sends: %w", p, err)
		}
		if c.Day, _, err = d.Store.CountReservedSince(ctx, p, day); err != nil {
			return fmt.Errorf("count %s sends: %w", p, err)
		}
		if err := d.Governor.Warm(ctx, p, c); err != nil {
			return err
		}
		d.Log.Debug().Str("provider", string(p)).Int("minute", c.Minute).Int("hour", c.Hour).Int("day", c.Day).Msg("rate governor warmed")
	}
	return nil
}
