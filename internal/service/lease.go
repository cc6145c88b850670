package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
)

const defaultLeaseTTL = 2 * time.Minute

// jobLease is one run's claim on a job. Owners are per run, so two loops in
// the same process exclude each other just like two processes do.
type jobLease struct {
	d     *Dispatcher
	jobID string
	owner string
}

func (d *Dispatcher) leaseTTL() time.Duration {
	if d.LeaseTTL > 0 {
		return d.LeaseTTL
	}
	return defaultLeaseTTL
}

// claim takes the job's lease for a new run.
func (d *Dispatcher) claim(ctx context.Context, jobID string) (*jobLease, error) {
	l := &jobLease{d: d, jobID: jobID, owner: uuid.NewString()}
	ok, err := d.Store.AcquireLease(ctx, jobID, l.owner, d.now(), d.leaseTTL())
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !ok {
		return nil, appErrors.ErrJobRunning
	}
	return l, nil
}

func (l *jobLease) renew(ctx context.Context) error {
	ok, err := l.d.Store.AcquireLease(ctx, l.jobID, l.owner, l.d.now(), l.d.leaseTTL())
	if err != nil {
		return fmt.Errorf("renew lease on %s: %w", l.jobID, err)
	}
	if !ok {
		return appErrors.ErrLeaseLost
	}
	return nil
}

// release runs even when ctx is already cancelled, so a shut-down run does
// not block recovery until the lease expires.
func (l *jobLease) release(ctx context.Context) {
	if err := l.d.Store.ReleaseLease(context.WithoutCancel(ctx), l.jobID, l.owner); err != nil {
		l.d.Log.Warn().Err(err).Str("job", l.jobID).Msg("release job lease failed")
	}
}
