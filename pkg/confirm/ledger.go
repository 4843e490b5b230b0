// Package confirm implements the Confirmation Ledger: one-shot tokens
// gating destructive operations (large cascading deletes, type/ALL
// clears). It is process-local, mutex-protected state with a background
// sweeper that drops expired entries.
package confirm

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/mimirhq/mimir/pkg/log"
)

// TTL is the lifetime of an issued token before it expires unconsumed.
const TTL = 60 * time.Second

// tokenBytes is the raw entropy per token: 16 bytes = 128 bits.
const tokenBytes = 16

type entry struct {
	action    string
	digest    string
	issuedAt  time.Time
	expiresAt time.Time
	consumed  bool
}

// Stats summarizes ledger activity.
type Stats struct {
	Outstanding int `json:"outstanding"`
	Consumed    int `json:"consumed"`
	Expired     int `json:"expired"`
}

// Ledger issues, validates and consumes confirmation tokens. The zero
// value is not usable; construct with New.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry

	consumedCount int
	expiredCount  int
}

// New constructs a Ledger. Call Run in a goroutine to start the sweeper;
// the Ledger is otherwise usable (issue/validate/consume) without it, at
// the cost of expired entries lingering in memory until swept.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func digest(params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Issue mints a new single-use token bound to (action, params). The
// token must be presented to Validate with the identical action and
// params before TTL elapses.
func (l *Ledger) Issue(action string, params map[string]any) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	now := time.Now()
	l.mu.Lock()
	l.entries[token] = &entry{
		action:    action,
		digest:    digest(params),
		issuedAt:  now,
		expiresAt: now.Add(TTL),
	}
	l.mu.Unlock()

	logger := log.WithComponent("confirm")
	logger.Debug().
		Str("action", action).Msg("issued confirmation token")
	return token, nil
}

// Validate reports whether token is currently valid for (action, params):
// unexpired, unconsumed, and bound to a matching action/params digest.
func (l *Ledger) Validate(token, action string, params map[string]any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[token]
	if !ok {
		return false
	}
	if e.consumed {
		return false
	}
	if time.Now().After(e.expiresAt) {
		return false
	}
	if e.action != action || e.digest != digest(params) {
		return false
	}
	return true
}

// Consume marks token as used. Returns false if the token does not exist,
// already been consumed, or expired; callers MUST treat that as
// EConfirmationInvalid.
func (l *Ledger) Consume(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[token]
	if !ok || e.consumed || time.Now().After(e.expiresAt) {
		return false
	}
	e.consumed = true
	l.consumedCount++
	return true
}

// Stats reports current ledger occupancy.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{Consumed: l.consumedCount, Expired: l.expiredCount}
	now := time.Now()
	for _, e := range l.entries {
		if !e.consumed && now.Before(e.expiresAt) {
			s.Outstanding++
		}
	}
	return s
}

// Run sweeps expired and consumed entries out of memory every interval
// until ctx is cancelled. interval defaults to 5s when <= 0.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger := log.WithComponent("confirm")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.sweep()
			if removed > 0 {
				logger.Debug().Int("removed", removed).Msg("swept expired confirmation tokens")
			}
		}
	}
}

func (l *Ledger) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	removed := 0
	for token, e := range l.entries {
		if e.consumed || now.After(e.expiresAt) {
			if !e.consumed {
				l.expiredCount++
			}
			delete(l.entries, token)
			removed++
		}
	}
	return removed
}
