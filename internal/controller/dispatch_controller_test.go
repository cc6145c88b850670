package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/zapdispatch/internal/controller"
	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// --- Mocks ---

type MockDispatchService struct {
	err  error
	jobs []*model.SendJob
}

func (m *MockDispatchService) Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error) {
	m.jobs = append(m.jobs, job)
	if m.err != nil {
		return nil, m.err
	}
	return &model.DispatchResult{
		JobID:     "job-1",
		Succeeded: 1,
		Details:   []model.TargetOutcome{{Target: "5511999998888", State: model.StateSent}},
	}, nil
}

// Mock service that runs until its context ends.
type BlockingDispatchService struct {
	started chan struct{}
}

func (m *BlockingDispatchService) Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error) {
	close(m.started)
	<-ctx.Done()
	return &model.DispatchResult{JobID: job.ID}, ctx.Err()
}

type MockPublisher struct {
	jobs []*model.SendJob
}

func (m *MockPublisher) PublishJob(ctx context.Context, job *model.SendJob) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func dispatchBody(t *testing.T) *bytes.Reader {
	t.Helper()
	b, _ := json.Marshal(map[string]interface{}{
		"content": map[string]string{"type": "text", "body": "ola"},
		"targets": map[string]interface{}{"numbers": []string{"11999998888"}},
	})
	return bytes.NewReader(b)
}

// --- Tests ---

func TestDispatchSync(t *testing.T) {
	svc := &MockDispatchService{}
	ctrl := &controller.DispatchController{Service: svc, Log: zerolog.Nop()}

	req := httptest.NewRequest("POST", "/dispatch", dispatchBody(t))
	w := httptest.NewRecorder()
	ctrl.Dispatch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res model.DispatchResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", res.Succeeded)
	}
	if got := svc.jobs[0].Targets.Numbers; len(got) != 1 || got[0] != "11999998888" {
		t.Errorf("targets not passed through: %v", got)
	}
}

func TestDispatchErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appErrors.NewNoTargets("job-1"), http.StatusBadRequest},
		{appErrors.NewProviderUnavailable("direct", "offline"), http.StatusServiceUnavailable},
		{appErrors.ErrJobRunning, http.StatusConflict},
	}
	for _, tc := range cases {
		ctrl := &controller.DispatchController{Service: &MockDispatchService{err: tc.err}, Log: zerolog.Nop()}
		w := httptest.NewRecorder()
		ctrl.Dispatch(w, httptest.NewRequest("POST", "/dispatch", dispatchBody(t)))
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestDispatchInvalidBody(t *testing.T) {
	ctrl := &controller.DispatchController{Service: &MockDispatchService{}, Log: zerolog.Nop()}
	w := httptest.NewRecorder()
	ctrl.Dispatch(w, httptest.NewRequest("POST", "/dispatch", bytes.NewReader([]byte("{"))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDispatchAsync(t *testing.T) {
	svc := &MockDispatchService{}
	pub := &MockPublisher{}
	ctrl := &controller.DispatchController{Service: svc, Publisher: pub, Log: zerolog.Nop()}

	w := httptest.NewRecorder()
	ctrl.Dispatch(w, httptest.NewRequest("POST", "/dispatch?async=true", dispatchBody(t)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(pub.jobs) != 1 || pub.jobs[0].ID == "" {
		t.Fatalf("expected one published job with an id, got %+v", pub.jobs)
	}
	if len(svc.jobs) != 0 {
		t.Errorf("async dispatch must not submit inline")
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["job_id"] != pub.jobs[0].ID {
		t.Errorf("response job_id %q does not match published %q", body["job_id"], pub.jobs[0].ID)
	}
}

func TestDispatchAsyncWithoutPublisher(t *testing.T) {
	ctrl := &controller.DispatchController{Service: &MockDispatchService{}, Log: zerolog.Nop()}
	w := httptest.NewRecorder()
	ctrl.Dispatch(w, httptest.NewRequest("POST", "/dispatch?async=true", dispatchBody(t)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestDispatchSyncIgnoresClientCancel(t *testing.T) {
	svc := &BlockingDispatchService{started: make(chan struct{})}
	lifetime, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	ctrl := &controller.DispatchController{Service: svc, Lifetime: lifetime, Log: zerolog.Nop()}

	reqCtx, disconnect := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/dispatch", dispatchBody(t)).WithContext(reqCtx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		ctrl.Dispatch(w, req)
		close(done)
	}()

	<-svc.started
	disconnect()
	select {
	case <-done:
		t.Fatal("client disconnect must not stop the run")
	case <-time.After(50 * time.Millisecond):
	}

	shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server shutdown should stop the run")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for a run cut by shutdown, got %d", w.Code)
	}
}
