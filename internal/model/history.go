// internal/model/history.go
package model

import "time"

type HistoryRecord struct {
	JobID      string    `json:"job_id"`
	ItemID     string    `json:"item_id"`
	Target     string    `json:"target"`
	Provider   Provider  `json:"provider"`
	Outcome    ItemState `json:"outcome"`
	MessageID  string    `json:"message_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// HistoryFromResult flattens the terminal outcomes of a result.
func HistoryFromResult(res *DispatchResult) []HistoryRecord {
	out := make([]HistoryRecord, 0, len(res.Details))
	for _, d := range res.Details {
		if !d.State.Terminal() {
			continue
		}
		out = append(out, HistoryRecord{
			JobID:      res.JobID,
			ItemID:     d.ItemID,
			Target:     d.Target,
			Provider:   d.Provider,
			Outcome:    d.State,
			MessageID:  d.MessageID,
			Error:      d.Error,
			RecordedAt: res.FinishedAt,
		})
	}
	return out
}
