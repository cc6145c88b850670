// Package idempotency remembers which (job, target) sends were accepted by a
// provider, so recovery does not resend them.
package idempotency

import (
	"context"
	"sync"
	"time"
)

type Guard interface {
	// Record stores the provider message id for key. The first record wins.
	Record(ctx context.Context, key, messageID string) error
	Lookup(ctx context.Context, key string) (messageID string, ok bool, err error)
}

type memoryEntry struct {
	messageID string
	expires   time.Time
}

type MemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, entries: map[string]memoryEntry{}, now: time.Now}
}

func (g *MemoryGuard) Record(ctx context.Context, key, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if e, ok := g.entries[key]; ok && (g.ttl <= 0 || now.Before(e.expires)) {
		return nil
	}
	g.entries[key] = memoryEntry{messageID: messageID, expires: now.Add(g.ttl)}
	return nil
}

func (g *MemoryGuard) Lookup(ctx context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return "", false, nil
	}
	if g.ttl > 0 && !g.now().Before(e.expires) {
		delete(g.entries, key)
		return "", false, nil
	}
	return e.messageID, true, nil
}

// Nop never remembers anything.
type Nop struct{}

func (Nop) Record(ctx context.Context, key, messageID string) error { return nil }
func (Nop) Lookup(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = Nop{}
)
