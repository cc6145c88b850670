// internal/handler/queue_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

type QueueService interface {
	QueueStatus(ctx context.Context, f queue.Filter) ([]*model.QueueItem, map[string]int, error)
	JobResult(ctx context.Context, jobID string) (*model.DispatchResult, error)
}

// QueueHandler exposes read-only views of the durable queue.
type QueueHandler struct {
	Service QueueService
}

func NewQueueHandler(svc QueueService) *QueueHandler {
	return &QueueHandler{Service: svc}
}

// ListQueue returns a paginated list of queue items. Filters: job_id,
// state (comma separated), provider.
func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 1
	pageSize := 20

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(q.Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	f := queue.Filter{
		JobID:    q.Get("job_id"),
		Provider: model.Provider(q.Get("provider")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			state := model.ItemState(strings.TrimSpace(s))
			if !state.Valid() {
				http.Error(w, "invalid state: "+string(state), http.StatusBadRequest)
				return
			}
			f.States = append(f.States, state)
		}
	}

	items, pagination, err := h.Service.QueueStatus(r.Context(), f)
	if err != nil {
		http.Error(w, "failed to fetch queue: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       items,
		"pagination": pagination,
	})
}

// GetJob returns the current DispatchResult of one job.
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	res, err := h.Service.JobResult(r.Context(), jobID)
	if err != nil {
		http.Error(w, "failed to fetch job: "+err.Error(), appErrors.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
