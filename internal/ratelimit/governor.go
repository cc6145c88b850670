// Package ratelimit holds the per-provider send-rate governor shared by every
// running dispatch job.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/unclebandit/zapdispatch/internal/model"
)

const (
	RetryNextMinute = "1min"
	RetryNextHour   = "1h"
	RetryTomorrow   = "tomorrow"
)

// Limits are the self-imposed ceilings of one provider. Zero means unlimited.
type Limits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

type Decision struct {
	Allowed    bool
	RetryAfter string
}

// Counts are sends observed outside the governor, used to seed it. MinuteFrom
// is when the oldest send in Minute started; the seeded minute window ends
// one minute after it.
type Counts struct {
	Minute     int
	Hour       int
	Day        int
	MinuteFrom time.Time
}

// Window is a snapshot of one provider's counters.
type Window struct {
	Minute      int
	Hour        int
	Day         int
	MinuteReset time.Time
	HourReset   time.Time
	DayReset    time.Time
}

type window struct {
	minute, hour, day int
	minuteStart       time.Time
	hourStart         time.Time
	dayStart          time.Time
}

// Governor is safe for concurrent use. CheckAndReserve is the only writer of
// the counters and runs entirely under one lock.
type Governor struct {
	mu      sync.Mutex
	limits  map[model.Provider]Limits
	windows map[model.Provider]*window
	now     func() time.Time
}

func NewGovernor(limits map[model.Provider]Limits) *Governor {
	cp := make(map[model.Provider]Limits, len(limits))
	for p, l := range limits {
		cp[p] = l
	}
	return &Governor{
		limits:  cp,
		windows: map[model.Provider]*window{},
		now:     time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
	return g
}

func (g *Governor) Limits(p model.Provider) Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits[p]
}

// CheckAndReserve either allows the send and counts it in all three windows,
// or denies it without touching the counters. Windows are checked minute,
// hour, day; the first exceeded one picks the retry hint.
func (g *Governor) CheckAndReserve(p model.Provider) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.rollLocked(p, g.now())
	lim := g.limits[p]

	if lim.PerMinute > 0 && w.minute >= lim.PerMinute {
		return Decision{RetryAfter: RetryNextMinute}
	}
	if lim.PerHour > 0 && w.hour >= lim.PerHour {
		return Decision{RetryAfter: RetryNextHour}
	}
	if lim.PerDay > 0 && w.day >= lim.PerDay {
		return Decision{RetryAfter: RetryTomorrow}
	}

	w.minute++
	w.hour++
	w.day++
	return Decision{Allowed: true}
}

// Seed adds counts observed elsewhere (e.g. the durable store after a
// restart) to the current windows.
func (g *Governor) Seed(p model.Provider, c Counts) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	w := g.rollLocked(p, now)
	w.minute += c.Minute
	w.hour += c.Hour
	w.day += c.Day
	if c.Minute > 0 && !c.MinuteFrom.IsZero() && c.MinuteFrom.Before(w.minuteStart) &&
		now.Sub(c.MinuteFrom) < time.Minute {
		w.minuteStart = c.MinuteFrom
	}
}

// Reserve is CheckAndReserve for callers that may be backed by a shared
// store. The local governor never fails.
func (g *Governor) Reserve(ctx context.Context, p model.Provider) (Decision, error) {
	return g.CheckAndReserve(p), nil
}

func (g *Governor) Warm(ctx context.Context, p model.Provider, c Counts) error {
	g.Seed(p, c)
	return nil
}

func (g *Governor) Snapshot(p model.Provider) Window {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.rollLocked(p, g.now())
	return Window{
		Minute:      w.minute,
		Hour:        w.hour,
		Day:         w.day,
		MinuteReset: w.minuteStart.Add(time.Minute),
		HourReset:   w.hourStart.Add(time.Hour),
		DayReset:    w.dayStart.AddDate(0, 0, 1),
	}
}

// Boundaries returns the start of the minute, hour and day windows that
// contain now, as the governor computes them for a fresh provider.
func Boundaries(now time.Time) (minute, hour, day time.Time) {
	return now.Add(-time.Minute), hourStart(now), dayStart(now)
}

func (g *Governor) rollLocked(p model.Provider, now time.Time) *window {
	w, ok := g.windows[p]
	if !ok {
		w = &window{minuteStart: now, hourStart: hourStart(now), dayStart: dayStart(now)}
		g.windows[p] = w
		return w
	}
	if now.Sub(w.minuteStart) >= time.Minute {
		w.minute = 0
		w.minuteStart = now
	}
	if h := hourStart(now); !h.Equal(w.hourStart) {
		w.hour = 0
		w.hourStart = h
	}
	if d := dayStart(now); !d.Equal(w.dayStart) {
		w.day = 0
		w.dayStart = d
	}
	return w
}

func hourStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location())
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
