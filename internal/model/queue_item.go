// internal/model/queue_item.go
package model

import (
	"fmt"
	"time"
)

type ItemState string

const (
	StatePending  ItemState = "pending"
	StateInFlight ItemState = "in_flight"
	StateSent     ItemState = "sent"
	StateFailed   ItemState = "failed"
)

func (s ItemState) Terminal() bool {
	return s == StateSent || s == StateFailed
}

func (s ItemState) Valid() bool {
	switch s {
	case StatePending, StateInFlight, StateSent, StateFailed:
		return true
	}
	return false
}

// QueueItem is the durable record of one (job, target) pairing. Items are
// never deleted; terminal states are never left.
type QueueItem struct {
	ID                string         `db:"id" json:"id"`
	JobID             string         `db:"job_id" json:"job_id"`
	Seq               int            `db:"seq" json:"seq"`
	Target            ResolvedTarget `json:"target"`
	Content           Content        `json:"content"`
	State             ItemState      `db:"state" json:"state"`
	Attempts          int            `db:"attempts" json:"attempts"`
	LastError         string         `db:"last_error" json:"last_error,omitempty"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderStatus    string         `db:"provider_status" json:"provider_status,omitempty"`
	IdempotencyKey    string         `db:"idempotency_key" json:"idempotency_key"`
	Reserved          bool           `db:"reserved" json:"reserved"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	StartedAt         *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

func NewQueueItem(id string, job *SendJob, seq int, target ResolvedTarget, now time.Time) *QueueItem {
	return &QueueItem{
		ID:             id,
		JobID:          job.ID,
		Seq:            seq,
		Target:         target,
		Content:        job.Content,
		State:          StatePending,
		IdempotencyKey: job.ID + ":" + target.Key(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Start moves a pending item in flight and counts the attempt. Reserved is
// cleared until the attempt takes a rate slot.
func (it *QueueItem) Start(now time.Time) error {
	if it.State != StatePending {
		return fmt.Errorf("queue item %s: cannot start from %s", it.ID, it.State)
	}
	it.State = StateInFlight
	it.Attempts++
	it.Reserved = false
	it.StartedAt = &now
	it.UpdatedAt = now
	return nil
}

func (it *QueueItem) Succeed(messageID, status string, now time.Time) error {
	if it.State != StateInFlight {
		return fmt.Errorf("queue item %s: cannot mark sent from %s", it.ID, it.State)
	}
	it.State = StateSent
	it.ProviderMessageID = messageID
	it.ProviderStatus = status
	it.LastError = ""
	it.FinishedAt = &now
	it.UpdatedAt = now
	return nil
}

func (it *QueueItem) Fail(reason string, now time.Time) error {
	if it.State != StateInFlight {
		return fmt.Errorf("queue item %s: cannot mark failed from %s", it.ID, it.State)
	}
	it.State = StateFailed
	it.LastError = reason
	it.FinishedAt = &now
	it.UpdatedAt = now
	return nil
}

// Requeue returns an item interrupted in flight to pending. Used by recovery only.
func (it *QueueItem) Requeue(now time.Time) error {
	switch it.State {
	case StatePending:
		return nil
	case StateInFlight:
		it.State = StatePending
		it.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("queue item %s: cannot requeue from %s", it.ID, it.State)
}
