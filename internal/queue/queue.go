// Package queue is the durable record of every (job, target) send. Items move
// pending -> in_flight -> sent|failed and are never deleted.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// Store persists queue items. Implementations must make a successful
// CreateItem/UpdateItem visible to ListIncomplete after a restart.
type Store interface {
	CreateItem(ctx context.Context, item *model.QueueItem) error
	UpdateItem(ctx context.Context, item *model.QueueItem) error
	GetItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListIncomplete(ctx context.Context) ([]*model.QueueItem, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.QueueItem, error)
	List(ctx context.Context, f Filter) ([]*model.QueueItem, int, error)

	// CountReservedSince counts items of provider p that took a rate slot
	// at or after since, and returns the start time of the oldest one.
	// In-flight items count as reserved.
	CountReservedSince(ctx context.Context, p model.Provider, since time.Time) (int, time.Time, error)

	Leases
}

// Leases records which dispatch loop owns a job. AcquireLease grants or
// renews the lease until now+ttl when the job has no lease, owner already
// holds it, or the current lease ended before now.
type Leases interface {
	AcquireLease(ctx context.Context, jobID, owner string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease drops the lease if owner still holds it.
	ReleaseLease(ctx context.Context, jobID, owner string) error
}

type lease struct {
	owner string
	until time.Time
}

type Filter struct {
	JobID    string
	States   []model.ItemState
	Provider model.Provider
	Page     int
	PageSize int
}

// Normalize applies the pagination defaults used by every store.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

func (f Filter) Offset() int { return (f.Page - 1) * f.PageSize }

func (f Filter) match(it *model.QueueItem) bool {
	if f.JobID != "" && it.JobID != f.JobID {
		return false
	}
	if f.Provider != "" && it.Target.Provider != f.Provider {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if it.State == s {
			return true
		}
	}
	return false
}

// GroupByJob splits items by job, keeping the first-seen job order and the
// per-job sequence order.
func GroupByJob(items []*model.QueueItem) ([]string, map[string][]*model.QueueItem) {
	var order []string
	groups := map[string][]*model.QueueItem{}
	for _, it := range items {
		if _, ok := groups[it.JobID]; !ok {
			order = append(order, it.JobID)
		}
		groups[it.JobID] = append(groups[it.JobID], it)
	}
	for _, id := range order {
		g := groups[id]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Seq < g[j].Seq })
	}
	return order, groups
}

// MemoryStore keeps items in process memory. It is what tests and the
// DB_DRIVER=memory mode use; it does not survive restarts.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]*model.QueueItem
	order  []string
	leases map[string]lease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*model.QueueItem), leases: map[string]lease{}}
}

func clone(it *model.QueueItem) *model.QueueItem {
	cp := *it
	if it.StartedAt != nil {
		t := *it.StartedAt
		cp.StartedAt = &t
	}
	if it.FinishedAt != nil {
		t := *it.FinishedAt
		cp.FinishedAt = &t
	}
	cp.Content.TemplateParams = append([]string(nil), it.Content.TemplateParams...)
	return &cp
}

func (m *MemoryStore) CreateItem(ctx context.Context, item *model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		m.order = append(m.order, item.ID)
	}
	m.items[item.ID] = clone(item)
	return nil
}

func (m *MemoryStore) UpdateItem(ctx context.Context, item *model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return appErrors.ErrQueueItemNotFound
	}
	m.items[item.ID] = clone(item)
	return nil
}

func (m *MemoryStore) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, appErrors.ErrQueueItemNotFound
	}
	return clone(it), nil
}

func (m *MemoryStore) ListIncomplete(ctx context.Context) ([]*model.QueueItem, error) {
	return m.collect(func(it *model.QueueItem) bool { return !it.State.Terminal() }), nil
}

func (m *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*model.QueueItem, error) {
	items := m.collect(func(it *model.QueueItem) bool { return it.JobID == jobID })
	sort.SliceStable(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*model.QueueItem, int, error) {
	f = f.Normalize()
	all := m.collect(f.match)
	total := len(all)
	start := f.Offset()
	if start >= total {
		return []*model.QueueItem{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) CountReservedSince(ctx context.Context, p model.Provider, since time.Time) (int, time.Time, error) {
	items := m.collect(func(it *model.QueueItem) bool {
		return it.Target.Provider == p && it.StartedAt != nil && !it.StartedAt.Before(since) &&
			(it.Reserved || it.State == model.StateInFlight)
	})
	var oldest time.Time
	for _, it := range items {
		if oldest.IsZero() || it.StartedAt.Before(oldest) {
			oldest = *it.StartedAt
		}
	}
	return len(items), oldest, nil
}

func (m *MemoryStore) AcquireLease(ctx context.Context, jobID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[jobID]; ok && cur.owner != owner && !cur.until.Before(now) {
		return false, nil
	}
	m.leases[jobID] = lease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[jobID]; ok && cur.owner == owner {
		delete(m.leases, jobID)
	}
	return nil
}

// collect returns copies in insertion order.
func (m *MemoryStore) collect(keep func(*model.QueueItem) bool) []*model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.QueueItem{}
	for _, id := range m.order {
		if it := m.items[id]; keep(it) {
			out = append(out, clone(it))
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
