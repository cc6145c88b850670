package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
	"github.com/unclebandit/zapdispatch/internal/service"
)

type MockSubmitter struct {
	err  error
	jobs []string
}

func (m *MockSubmitter) Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error) {
	m.jobs = append(m.jobs, job.ID)
	if m.err != nil {
		return nil, m.err
	}
	return &model.DispatchResult{JobID: job.ID, Succeeded: 1}, nil
}

func TestWorkerHandle(t *testing.T) {
	sub := &MockSubmitter{}
	w := service.NewWorker(sub, zerolog.Nop())
	if err := w.Handle(context.Background(), textJob("job-w")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.jobs) != 1 || sub.jobs[0] != "job-w" {
		t.Errorf("expected job to be submitted, got %v", sub.jobs)
	}
}

func TestWorkerErrorsDriveRedelivery(t *testing.T) {
	cases := []struct {
		err  error
		want queue.Outcome
	}{
		{appErrors.NewNoTargets("job-w"), queue.Ack},
		{appErrors.NewProviderUnavailable("direct", "offline"), queue.Ack},
		{appErrors.ErrJobRunning, queue.Ack},
		{errors.New("database is down"), queue.Requeue},
	}
	for _, tc := range cases {
		w := service.NewWorker(&MockSubmitter{err: tc.err}, zerolog.Nop())
		err := w.Handle(context.Background(), textJob("job-w"))
		if got := queue.Disposition(err, false); got != tc.want {
			t.Errorf("%v: disposition %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestPacer(t *testing.T) {
	ctx := context.Background()
	p := service.NewPacer(0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("zero delay pacer should not wait")
	}

	p = service.NewPacer(40 * time.Millisecond)
	start = time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("expected two paced gaps, elapsed %s", elapsed)
	}
}
