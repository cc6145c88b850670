package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

func newItem(id, jobID string, seq int, p model.Provider, now time.Time) *model.QueueItem {
	job := &model.SendJob{ID: jobID, Content: model.Content{Type: model.ContentText, Body: "hi"}}
	return model.NewQueueItem(id, job, seq, model.ResolvedTarget{
		Kind: model.TargetIndividual, Address: "55119999988" + id, Provider: p,
	}, now)
}

func TestMemoryStoreListIncomplete(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()

	a := newItem("1", "job-a", 0, model.ProviderOfficial, now)
	b := newItem("2", "job-a", 1, model.ProviderOfficial, now)
	c := newItem("3", "job-b", 0, model.ProviderDirect, now)
	for _, it := range []*model.QueueItem{a, b, c} {
		if err := s.CreateItem(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	a.Start(now)
	a.Succeed("m1", "sent", now)
	s.UpdateItem(ctx, a)
	b.Start(now)
	s.UpdateItem(ctx, b)

	items, err := s.ListIncomplete(ctx)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(items) != 2 || items[0].ID != "2" || items[1].ID != "3" {
		t.Fatalf("expected items 2 and 3, got %+v", items)
	}
	if items[0].State != model.StateInFlight {
		t.Errorf("expected in_flight, got %s", items[0].State)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	it := newItem("1", "job-a", 0, model.ProviderOfficial, time.Now())
	s.CreateItem(ctx, it)

	it.State = model.StateFailed
	got, _ := s.GetItem(ctx, "1")
	if got.State != model.StatePending {
		t.Fatalf("store must not alias caller items, got %s", got.State)
	}
}

func TestMemoryStoreUpdateUnknown(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateItem(context.Background(), newItem("x", "job", 0, model.ProviderOfficial, time.Now()))
	if !errors.Is(err, appErrors.ErrQueueItemNotFound) {
		t.Fatalf("expected ErrQueueItemNotFound, got %v", err)
	}
}

func TestMemoryStorePagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.CreateItem(ctx, newItem(string(rune('a'+i)), "job-a", i, model.ProviderOfficial, now))
	}
	s.CreateItem(ctx, newItem("z", "job-b", 0, model.ProviderDirect, now))

	page1, total, _ := s.List(ctx, Filter{JobID: "job-a", Page: 1, PageSize: 2})
	page3, _, _ := s.List(ctx, Filter{JobID: "job-a", Page: 3, PageSize: 2})
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page1) != 2 || len(page3) != 1 {
		t.Fatalf("expected 2 and 1 items, got %d and %d", len(page1), len(page3))
	}

	direct, total, _ := s.List(ctx, Filter{Provider: model.ProviderDirect, States: []model.ItemState{model.StatePending}})
	if total != 1 || direct[0].ID != "z" {
		t.Errorf("expected only the direct item, got %+v", direct)
	}
}

func TestCountReservedSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	old := newItem("1", "job", 0, model.ProviderOfficial, now)
	old.Start(now.Add(-2 * time.Hour))
	old.Reserved = true
	old.Succeed("m1", "sent", now.Add(-2*time.Hour))
	sent := newItem("2", "job", 1, model.ProviderOfficial, now)
	sent.Start(now.Add(-10 * time.Second))
	sent.Reserved = true
	sent.Succeed("m2", "sent", now)
	// reserved a slot, then the transport failed
	transport := newItem("3", "job", 2, model.ProviderOfficial, now)
	transport.Start(now.Add(-5 * time.Second))
	transport.Reserved = true
	transport.Fail("connection reset", now)
	// denied by the governor, never reserved
	denied := newItem("4", "job", 3, model.ProviderOfficial, now)
	denied.Start(now)
	denied.Fail("rate limit reached", now)
	flying := newItem("5", "job", 4, model.ProviderOfficial, now)
	flying.Start(now)
	for _, it := range []*model.QueueItem{old, sent, transport, denied, flying} {
		s.CreateItem(ctx, it)
	}

	n, oldest, _ := s.CountReservedSince(ctx, model.ProviderOfficial, now.Add(-time.Minute))
	if n != 3 {
		t.Fatalf("expected sent, transport-failed and in-flight items, got %d", n)
	}
	if !oldest.Equal(now.Add(-10 * time.Second)) {
		t.Errorf("oldest = %v, want the sent item's start", oldest)
	}
	if n, _, _ := s.CountReservedSince(ctx, model.ProviderDirect, now.Add(-time.Hour)); n != 0 {
		t.Errorf("other provider counted %d", n)
	}
}

func TestLeaseExcludesOtherOwners(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	if ok, _ := s.AcquireLease(ctx, "job", "a", now, time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}
	if ok, _ := s.AcquireLease(ctx, "job", "b", now.Add(time.Second), time.Minute); ok {
		t.Fatal("live lease must not be granted to another owner")
	}
	if ok, _ := s.AcquireLease(ctx, "job", "a", now.Add(30*time.Second), time.Minute); !ok {
		t.Fatal("owner should renew its lease")
	}
	if ok, _ := s.AcquireLease(ctx, "job", "b", now.Add(2*time.Minute), time.Minute); !ok {
		t.Fatal("expired lease should be taken over")
	}
	s.ReleaseLease(ctx, "job", "a")
	if ok, _ := s.AcquireLease(ctx, "job", "c", now.Add(2*time.Minute), time.Minute); ok {
		t.Fatal("release by a former owner must not drop the new lease")
	}
	s.ReleaseLease(ctx, "job", "b")
	if ok, _ := s.AcquireLease(ctx, "job", "c", now.Add(2*time.Minute), time.Minute); !ok {
		t.Fatal("released lease should be free")
	}
}

func TestGroupByJob(t *testing.T) {
	now := time.Now()
	items := []*model.QueueItem{
		newItem("3", "job-b", 1, model.ProviderOfficial, now),
		newItem("1", "job-a", 1, model.ProviderOfficial, now),
		newItem("2", "job-b", 0, model.ProviderOfficial, now),
		newItem("0", "job-a", 0, model.ProviderOfficial, now),
	}
	order, groups := GroupByJob(items)
	if len(order) != 2 || order[0] != "job-b" || order[1] != "job-a" {
		t.Fatalf("unexpected job order %v", order)
	}
	if groups["job-b"][0].ID != "2" || groups["job-a"][0].ID != "0" {
		t.Errorf("expected items sorted by sequence")
	}
}

func TestDisposition(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		redelivered bool
		want        Outcome
	}{
		{"success", nil, false, Ack},
		{"no targets", appErrors.NewNoTargets("j"), false, Ack},
		{"provider unavailable", appErrors.NewProviderUnavailable("direct", "down"), false, Ack},
		{"store failure", errors.New("db down"), false, Requeue},
		{"store failure redelivered", errors.New("db down"), true, Ack},
	}
	for _, tc := range cases {
		if got := Disposition(tc.err, tc.redelivered); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
