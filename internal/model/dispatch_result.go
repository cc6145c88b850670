// internal/model/dispatch_result.go
package model

import "time"

type TargetOutcome struct {
	ItemID    string     `json:"item_id"`
	Target    string     `json:"target"`
	Kind      TargetKind `json:"kind"`
	Provider  Provider   `json:"provider"`
	State     ItemState  `json:"state"`
	MessageID string     `json:"message_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type DispatchResult struct {
	JobID      string          `json:"job_id"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Details    []TargetOutcome `json:"details"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Complete reports whether every detail reached a terminal state.
func (r *DispatchResult) Complete() bool {
	for _, d := range r.Details {
		if !d.State.Terminal() {
			return false
		}
	}
	return true
}

// ResultFromItems aggregates the items of one job. Items still pending or in
// flight are listed but not counted.
func ResultFromItems(jobID string, items []*QueueItem) *DispatchResult {
	res := &DispatchResult{JobID: jobID, Details: make([]TargetOutcome, 0, len(items))}
	for _, it := range items {
		switch it.State {
		case StateSent:
			res.Succeeded++
		case StateFailed:
			res.Failed++
		}
		res.Details = append(res.Details, TargetOutcome{
			ItemID:    it.ID,
			Target:    it.Target.Address,
			Kind:      it.Target.Kind,
			Provider:  it.Target.Provider,
			State:     it.State,
			MessageID: it.ProviderMessageID,
			Error:     it.LastError,
		})
	}
	return res
}
