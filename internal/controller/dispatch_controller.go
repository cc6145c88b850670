// internal/controller/dispatch_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

type DispatchService interface {
	Submit(ctx context.Context, job *model.SendJob) (*model.DispatchResult, error)
}

// DispatchController accepts send jobs. Publisher is optional; without it
// async requests are refused. Lifetime, when set, is the server's context:
// sync runs outlive the client but not the process.
type DispatchController struct {
	Service   DispatchService
	Publisher queue.JobPublisher
	Lifetime  context.Context
	Log       zerolog.Logger
}

type dispatchRequest struct {
	ID      string              `json:"id"`
	Content model.Content       `json:"content"`
	Targets model.TargetSpec    `json:"targets"`
	Hint    model.TransportHint `json:"hint"`
}

// Dispatch handles POST /dispatch. With ?async=true the job is published to
// the durable job queue and 202 is returned with its id; otherwise the call
// blocks until every target reached a terminal state.
func (c *DispatchController) Dispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Hint != "" && body.Hint != model.HintIndividual && body.Hint != model.HintGroup {
		http.Error(w, "invalid hint", http.StatusBadRequest)
		return
	}

	job := &model.SendJob{
		ID:      body.ID,
		Content: body.Content,
		Targets: body.Targets,
		Hint:    body.Hint,
	}

	if r.URL.Query().Get("async") == "true" {
		c.enqueue(w, r, job)
		return
	}

	ctx, cancel := c.runContext(r)
	defer cancel()
	res, err := c.Service.Submit(ctx, job)
	if err != nil {
		c.Log.Warn().Err(err).Str("job", job.ID).Msg("dispatch rejected")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// runContext ignores the client going away and ends with Lifetime. Items a
// shutdown interrupts are left for recovery.
func (c *DispatchController) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if c.Lifetime == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(c.Lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *DispatchController) enqueue(w http.ResponseWriter, r *http.Request, job *model.SendJob) {
	if c.Publisher == nil {
		http.Error(w, "async dispatch is not configured", http.StatusServiceUnavailable)
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := c.Publisher.PublishJob(r.Context(), job); err != nil {
		c.Log.Error().Err(err).Str("job", job.ID).Msg("failed to publish job")
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id": job.ID,
		"status": "queued",
	})
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErrors.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
