package service

import (
	"context"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

// QueueStatus lists queue items with pagination metadata.
func (d *Dispatcher) QueueStatus(ctx context.Context, f queue.Filter) ([]*model.QueueItem, map[string]int, error) {
	f = f.Normalize()
	items, total, err := d.Store.List(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + f.PageSize - 1) / f.PageSize
	pagination := map[string]int{
		"page":        f.Page,
		"page_size":   f.PageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return items, pagination, nil
}

// JobResult rebuilds the DispatchResult of a job from its queue items.
func (d *Dispatcher) JobResult(ctx context.Context, jobID string) (*model.DispatchResult, error) {
	items, err := d.Store.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErrors.ErrJobNotFound
	}

	return storedResult(jobID, items), nil
}

// storedResult takes FinishedAt from the last item to finish, once every
// item has.
func storedResult(jobID string, items []*model.QueueItem) *model.DispatchResult {
	res := model.ResultFromItems(jobID, items)
	if res.Complete() {
		for _, it := range items {
			if it.FinishedAt != nil && it.FinishedAt.After(res.FinishedAt) {
				res.FinishedAt = *it.FinishedAt
			}
		}
	}
	return res
}
