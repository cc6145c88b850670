package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/unclebandit/zapdispatch/internal/db"
	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/history"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "repo.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newItem(jobID string, seq int, addr string, now time.Time) *model.QueueItem {
	job := &model.SendJob{ID: jobID, Content: model.Content{Type: model.ContentText, Body: "hi"}}
	target := model.ResolvedTarget{Kind: model.TargetIndividual, Address: addr, Provider: model.ProviderOfficial}
	return model.NewQueueItem(jobID+"-"+addr, job, seq, target, now)
}

func TestQueueRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(openTestDB(t), db.DriverSQLite)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := newItem("job-1", 0, "5511999990001", now)
	b := newItem("job-1", 1, "5511999990002", now)
	for _, it := range []*model.QueueItem{a, b} {
		if err := repo.CreateItem(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := a.Start(now); err != nil {
		t.Fatal(err)
	}
	a.Reserved = true
	if err := a.Succeed("wamid.1", "sent", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateItem(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetItem(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateSent || got.ProviderMessageID != "wamid.1" || got.Attempts != 1 {
		t.Errorf("unexpected item %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(now.Add(time.Second)) {
		t.Errorf("finished_at not persisted: %v", got.FinishedAt)
	}
	if got.Content.Body != "hi" || got.Target.Provider != model.ProviderOfficial {
		t.Errorf("content/target not round-tripped: %+v", got)
	}

	incomplete, err := repo.ListIncomplete(ctx)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].ID != b.ID {
		t.Errorf("expected only %s incomplete, got %d items", b.ID, len(incomplete))
	}

	n, oldest, err := repo.CountReservedSince(ctx, model.ProviderOfficial, now)
	if err != nil || n != 1 || !oldest.Equal(now) {
		t.Errorf("CountReservedSince = %d, %v, %v; want 1 starting at %v", n, oldest, err, now)
	}
	n, oldest, _ = repo.CountReservedSince(ctx, model.ProviderOfficial, now.Add(time.Hour))
	if n != 0 || !oldest.IsZero() {
		t.Errorf("CountReservedSince after window = %d, %v; want 0", n, oldest)
	}
}

func TestQueueRepositoryCountsFailedReservations(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(openTestDB(t), db.DriverSQLite)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	transport := newItem("job-f", 0, "5511999990001", now)
	denied := newItem("job-f", 1, "5511999990002", now)
	flying := newItem("job-f", 2, "5511999990003", now)
	for _, it := range []*model.QueueItem{transport, denied, flying} {
		if err := repo.CreateItem(ctx, it); err != nil {
			t.Fatal(err)
		}
		if err := it.Start(now.Add(time.Duration(it.Seq) * time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	transport.Reserved = true
	_ = transport.Fail("connection reset", now)
	_ = denied.Fail("rate limit reached", now)
	for _, it := range []*model.QueueItem{transport, denied, flying} {
		if err := repo.UpdateItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	n, oldest, err := repo.CountReservedSince(ctx, model.ProviderOfficial, now.Add(-time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("CountReservedSince = %d, %v; want transport-failed and in-flight", n, err)
	}
	if !oldest.Equal(now) {
		t.Errorf("oldest = %v, want %v", oldest, now)
	}
}

func TestQueueRepositoryLeases(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(openTestDB(t), db.DriverSQLite)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	steps := []struct {
		owner string
		at    time.Time
		want  bool
	}{
		{"worker-1", now, true},
		{"server-1", now.Add(10 * time.Second), false},
		{"worker-1", now.Add(50 * time.Second), true},
		{"server-1", now.Add(100 * time.Second), false},
		{"server-1", now.Add(3 * time.Minute), true},
	}
	for i, st := range steps {
		ok, err := repo.AcquireLease(ctx, "job-l", st.owner, st.at, time.Minute)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ok != st.want {
			t.Errorf("step %d: %s acquire = %v, want %v", i, st.owner, ok, st.want)
		}
	}

	if err := repo.ReleaseLease(ctx, "job-l", "worker-1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.AcquireLease(ctx, "job-l", "worker-2", now.Add(3*time.Minute), time.Minute); ok {
		t.Error("stale owner released someone else's lease")
	}
	if err := repo.ReleaseLease(ctx, "job-l", "server-1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.AcquireLease(ctx, "job-l", "worker-2", now.Add(3*time.Minute), time.Minute); !ok {
		t.Error("released lease should be free")
	}
}

func TestQueueRepositoryNotFound(t *testing.T) {
	repo := NewQueueRepository(openTestDB(t), db.DriverSQLite)
	if _, err := repo.GetItem(context.Background(), "missing"); !errors.Is(err, appErrors.ErrQueueItemNotFound) {
		t.Errorf("GetItem err = %v", err)
	}
	it := newItem("job-x", 0, "5511999990001", time.Now())
	if err := repo.UpdateItem(context.Background(), it); !errors.Is(err, appErrors.ErrQueueItemNotFound) {
		t.Errorf("UpdateItem err = %v", err)
	}
}

func TestQueueRepositoryListPagination(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(openTestDB(t), db.DriverSQLite)
	now := time.Now()
	for i := 0; i < 5; i++ {
		it := newItem("job-p", i, "551199999000"+string(rune('0'+i)), now)
		if err := repo.CreateItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.CreateItem(ctx, newItem("job-other", 0, "5511999990009", now)); err != nil {
		t.Fatal(err)
	}

	items, total, err := repo.List(ctx, queue.Filter{JobID: "job-p", States: []model.ItemState{model.StatePending}, Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(items) != 2 || items[0].Seq != 2 || items[1].Seq != 3 {
		t.Errorf("unexpected page: %d items", len(items))
	}

	byJob, err := repo.ListByJob(ctx, "job-other")
	if err != nil || len(byJob) != 1 {
		t.Errorf("ListByJob = %d, %v", len(byJob), err)
	}
}

func TestDirectoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDirectoryRepository(openTestDB(t), db.DriverSQLite)

	vip, err := repo.CreateTag(ctx, "vip")
	if err != nil {
		t.Fatal(err)
	}
	late, err := repo.CreateTag(ctx, "late")
	if err != nil {
		t.Fatal(err)
	}
	ana := &model.Contact{Name: "Ana", Phone: "11999990001"}
	bia := &model.Contact{Name: "Bia", Phone: "11999990002"}
	if err := repo.CreateContact(ctx, ana, vip, late); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateContact(ctx, bia, late); err != nil {
		t.Fatal(err)
	}

	contacts, err := repo.FindContactsByTagIDs(ctx, []int{vip, late})
	if err != nil {
		t.Fatalf("find contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 distinct contacts, got %d", len(contacts))
	}

	g := &model.Group{Name: "Equipe", RemoteID: "120363@g.us"}
	if err := repo.CreateGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	groups, err := repo.FindGroupsByIDs(ctx, []int{g.ID, 999})
	if err != nil {
		t.Fatalf("find groups: %v", err)
	}
	if len(groups) != 1 || groups[0].RemoteID != "120363@g.us" {
		t.Errorf("unexpected groups %+v", groups)
	}

	none, err := repo.FindGroupsByIDs(ctx, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("empty ids should return no groups, got %d, %v", len(none), err)
	}
}

func TestHistoryRepositoryAsSink(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t), db.DriverSQLite)
	res := &model.DispatchResult{
		JobID: "job-h",
		Details: []model.TargetOutcome{
			{ItemID: "1", Target: "5511999990001", Provider: model.ProviderOfficial, State: model.StateSent, MessageID: "m1"},
			{ItemID: "2", Target: "5511999990002", Provider: model.ProviderOfficial, State: model.StateFailed, Error: "invalid phone"},
		},
		FinishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := (history.StoreSink{Appender: repo}).Record(ctx, res); err != nil {
		t.Fatalf("record: %v", err)
	}
	recs, err := repo.ListByJob(ctx, "job-h")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[1].Outcome != model.StateFailed || !recs[0].RecordedAt.Equal(res.FinishedAt) {
		t.Errorf("unexpected history %+v", recs)
	}
}

func TestIdempotencyRepositorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	guard := NewIdempotencyRepository(conn, db.DriverSQLite, time.Hour)
	guard.Now = func() time.Time { return now }
	if err := guard.Record(ctx, "job-1:individual:5511999990001", "wamid.first"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := guard.Record(ctx, "job-1:individual:5511999990001", "wamid.second"); err != nil {
		t.Fatalf("record again: %v", err)
	}

	// a fresh guard over the same database, as after a restart
	restarted := NewIdempotencyRepository(conn, db.DriverSQLite, time.Hour)
	restarted.Now = func() time.Time { return now.Add(time.Minute) }
	id, ok, err := restarted.Lookup(ctx, "job-1:individual:5511999990001")
	if err != nil || !ok || id != "wamid.first" {
		t.Fatalf("Lookup = %q, %v, %v; want the first message id", id, ok, err)
	}
	if _, ok, _ := restarted.Lookup(ctx, "job-1:individual:5511999990002"); ok {
		t.Error("unknown key reported as recorded")
	}

	restarted.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, ok, _ := restarted.Lookup(ctx, "job-1:individual:5511999990001"); ok {
		t.Error("expired key should not be found")
	}
	if err := restarted.Record(ctx, "job-1:individual:5511999990001", "wamid.third"); err != nil {
		t.Fatal(err)
	}
	if id, _, _ := restarted.Lookup(ctx, "job-1:individual:5511999990001"); id != "wamid.third" {
		t.Errorf("expired key should be replaced, got %q", id)
	}
}
