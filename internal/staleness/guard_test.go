package staleness

import (
	"errors"
	"testing"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
)

func TestCheckRejectsSupersededToken(t *testing.T) {
	g := NewGuard(time.Second)
	first := g.Advance()
	if err := g.Check(first); err != nil {
		t.Fatalf("Check(current) = %v", err)
	}

	second := g.Advance()
	if second <= first {
		t.Fatalf("tokens not increasing: %d then %d", first, second)
	}
	if err := g.Check(first); !errors.Is(err, domain.ErrStaleContext) {
		t.Fatalf("Check(old) = %v, want ErrStaleContext", err)
	}
	if err := g.Checker(second)(); err != nil {
		t.Fatalf("Checker(current) = %v", err)
	}
}

func TestEchoWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	g := NewGuard(3 * time.Second)

	if !g.ShouldReact(now) {
		t.Fatalf("fresh guard should react")
	}

	g.MarkLocalWrite(now)
	if g.ShouldReact(now.Add(2 * time.Second)) {
		t.Fatalf("reacted inside the echo window")
	}
	if !g.ShouldReact(now.Add(3 * time.Second)) {
		t.Fatalf("did not react once the window closed")
	}

	// an older write never shortens the window
	g.MarkLocalWrite(now.Add(10 * time.Second))
	g.MarkLocalWrite(now)
	if g.ShouldReact(now.Add(12 * time.Second)) {
		t.Fatalf("window shortened by an older write")
	}
}
