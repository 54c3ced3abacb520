// Package staleness decides whether in-flight reads and incoming change
// notifications still matter to a viewer.
package staleness

import (
	"fmt"
	"sync"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
)

// Token identifies the subject a read was started for. It only grows.
type Token uint64

type Guard struct {
	mu         sync.Mutex
	token      Token
	grace      time.Duration
	quietUntil time.Time
}

// NewGuard returns a guard that ignores notifications for grace after each
// local write.
func NewGuard(grace time.Duration) *Guard {
	return &Guard{grace: grace}
}

// Advance invalidates every token handed out so far.
func (g *Guard) Advance() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token++
	return g.token
}

func (g *Guard) Current() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Check returns domain.ErrStaleContext when tok is no longer current.
func (g *Guard) Check(tok Token) error {
	if cur := g.Current(); cur != tok {
		return fmt.Errorf("token %d superseded by %d: %w", tok, cur, domain.ErrStaleContext)
	}
	return nil
}

// Checker binds tok for callers that take a plain func() error.
func (g *Guard) Checker(tok Token) func() error {
	return func() error { return g.Check(tok) }
}

func (g *Guard) MarkLocalWrite(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := now.Add(g.grace); until.After(g.quietUntil) {
		g.quietUntil = until
	}
}

// ShouldReact is false while an echo of a local write may still arrive.
func (g *Guard) ShouldReact(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !now.Before(g.quietUntil)
}
