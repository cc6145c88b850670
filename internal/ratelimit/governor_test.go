package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/zapdispatch/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 14, 20, 5, 0, time.UTC)}
}

func TestConcurrentReserveSingleSlot(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderOfficial: {PerMinute: 1},
	}).WithClock(clock.Now)

	var wg sync.WaitGroup
	decisions := make([]Decision, 2)
	for i := range decisions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = g.CheckAndReserve(model.ProviderOfficial)
		}(i)
	}
	wg.Wait()

	allowed, denied := 0, 0
	for _, d := range decisions {
		if d.Allowed {
			allowed++
			continue
		}
		denied++
		if d.RetryAfter != RetryNextMinute {
			t.Errorf("expected retry hint %q, got %q", RetryNextMinute, d.RetryAfter)
		}
	}
	if allowed != 1 || denied != 1 {
		t.Fatalf("expected 1 allowed and 1 denied, got %d/%d", allowed, denied)
	}
}

func TestRateCeilingUnderConcurrency(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderDirect: {PerMinute: 25, PerHour: 100, PerDay: 1000},
	}).WithClock(clock.Now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CheckAndReserve(model.ProviderDirect).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 25 {
		t.Fatalf("expected exactly 25 allowed sends, got %d", allowed)
	}
	if snap := g.Snapshot(model.ProviderDirect); snap.Minute != 25 || snap.Hour != 25 || snap.Day != 25 {
		t.Errorf("denied calls must not mutate counters, got %+v", snap)
	}
}

func TestMinuteWindowResetsAfterSixtySeconds(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderOfficial: {PerMinute: 2},
	}).WithClock(clock.Now)

	for i := 0; i < 2; i++ {
		if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatalf("third send within the minute should be denied")
	}

	clock.Advance(59 * time.Second)
	if g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatalf("send before the 60s boundary should still be denied")
	}

	clock.Advance(time.Second)
	if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatalf("send after the 60s boundary should be allowed")
	}
}

func TestHourAndDayHints(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderOfficial: {PerMinute: 10, PerHour: 2, PerDay: 3},
	}).WithClock(clock.Now)

	g.CheckAndReserve(model.ProviderOfficial)
	g.CheckAndReserve(model.ProviderOfficial)
	if d := g.CheckAndReserve(model.ProviderOfficial); d.Allowed || d.RetryAfter != RetryNextHour {
		t.Fatalf("expected hour denial, got %+v", d)
	}

	// 14:20 -> 15:00 crosses the hour-of-day boundary.
	clock.Advance(40 * time.Minute)
	if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatalf("expected send after hour change to be allowed")
	}
	if d := g.CheckAndReserve(model.ProviderOfficial); d.Allowed || d.RetryAfter != RetryTomorrow {
		t.Fatalf("expected day denial, got %+v", d)
	}

	clock.Advance(10 * time.Hour)
	if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatalf("expected send on the next calendar day to be allowed")
	}
}

func TestProvidersAreIndependent(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderOfficial: {PerMinute: 1},
		model.ProviderDirect:   {PerMinute: 1},
	}).WithClock(clock.Now)

	if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatal("official send should be allowed")
	}
	if !g.CheckAndReserve(model.ProviderDirect).Allowed {
		t.Fatal("direct send should not be affected by the official window")
	}
}

func TestSeedCountsTowardLimits(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderDirect: {PerDay: 5},
	}).WithClock(clock.Now)

	g.Seed(model.ProviderDirect, Counts{Day: 5})
	if d := g.CheckAndReserve(model.ProviderDirect); d.Allowed || d.RetryAfter != RetryTomorrow {
		t.Fatalf("expected seeded day count to deny, got %+v", d)
	}
}

func TestSeededMinuteWindowStartsAtOldestSend(t *testing.T) {
	clock := newClock()
	g := NewGovernor(map[model.Provider]Limits{
		model.ProviderOfficial: {PerMinute: 2},
	}).WithClock(clock.Now)

	// two sends in the last minute, the oldest 45s ago
	g.Seed(model.ProviderOfficial, Counts{Minute: 2, Hour: 2, Day: 2, MinuteFrom: clock.Now().Add(-45 * time.Second)})
	if d := g.CheckAndReserve(model.ProviderOfficial); d.Allowed || d.RetryAfter != RetryNextMinute {
		t.Fatalf("seeded minute should deny, got %+v", d)
	}
	if reset := g.Snapshot(model.ProviderOfficial).MinuteReset; !reset.Equal(clock.Now().Add(15 * time.Second)) {
		t.Errorf("minute window should end 60s after the oldest send, resets at %v", reset)
	}

	clock.Advance(16 * time.Second)
	if !g.CheckAndReserve(model.ProviderOfficial).Allowed {
		t.Fatal("seeded sends should leave the minute window after 60s")
	}
	if snap := g.Snapshot(model.ProviderOfficial); snap.Hour != 3 {
		t.Errorf("hour count = %d, want 3", snap.Hour)
	}
}
