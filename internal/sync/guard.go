package sync

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/varbridge/varbridge/internal/store"
)

// EchoGuard suppresses the outward re-publication of value changes that were
// themselves caused by applying an inbound update. Each handle runs a tiny
// state machine: Idle → AwaitingEcho (armed before the mirror write) → Idle
// (cleared by the very next local notification for that handle).
//
// The token is a diagnostic only. Any notification for the handle clears the
// guard regardless of token: requiring an exact match could deadlock the
// guard when the expected echo never fires, e.g. a rejected write. The
// optional autoRelease bound is the recovery path for exactly that case.
type EchoGuard struct {
	mu          sync.Mutex
	entries     map[store.Handle]guardEntry
	autoRelease time.Duration // 0 = entries only clear on notification or Reset
}

type guardEntry struct {
	Token   string
	Reason  string
	ArmedAt time.Time
}

func NewEchoGuard(autoRelease time.Duration) *EchoGuard {
	return &EchoGuard{
		entries:     make(map[store.Handle]guardEntry),
		autoRelease: autoRelease,
	}
}

// Arm marks an inbound-triggered write as in flight for the handle and
// returns the diagnostic token. Arming an already armed handle replaces the
// entry; there is only ever one in-flight write per handle because handlers
// run serialized.
func (g *EchoGuard) Arm(h store.Handle, reason string) string {
	token := uuid.NewString()
	g.mu.Lock()
	g.entries[h] = guardEntry{Token: token, Reason: reason, ArmedAt: time.Now()}
	g.mu.Unlock()
	return token
}

// Armed reports whether an inbound write is in flight for the handle.
func (g *EchoGuard) Armed(h store.Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok {
		return false
	}
	if g.expired(e) {
		delete(g.entries, h)
		log.Printf("sync: guard for handle %d auto-released (token %s, reason %s)", h, e.Token, e.Reason)
		return false
	}
	return true
}

// Clear releases the guard for the handle and reports whether it was armed.
// The token of the released entry is returned for diagnostics.
func (g *EchoGuard) Clear(h store.Handle) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok {
		return "", false
	}
	delete(g.entries, h)
	if g.expired(e) {
		// Expired before the echo arrived; treat as already released.
		log.Printf("sync: guard for handle %d expired before echo (token %s)", h, e.Token)
		return "", false
	}
	return e.Token, true
}

// Reset drops every entry. Called on configuration changes, the only
// recovery path from a stuck guard when no autoRelease is configured.
func (g *EchoGuard) Reset() {
	g.mu.Lock()
	n := len(g.entries)
	g.entries = make(map[store.Handle]guardEntry)
	g.mu.Unlock()
	if n > 0 {
		log.Printf("sync: guard reset, %d entries dropped", n)
	}
}

func (g *EchoGuard) expired(e guardEntry) bool {
	return g.autoRelease > 0 && time.Since(e.ArmedAt) > g.autoRelease
}
