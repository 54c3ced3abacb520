package accrual

import (
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
)

// ActiveBoost picks, among boosts of type t that have not expired at now,
// the one activated last.
func ActiveBoost(boosts []domain.Boost, t domain.ResourceType, now time.Time) (domain.Boost, bool) {
	var (
		best  domain.Boost
		found bool
	)
	for _, b := range boosts {
		if b.Type != t || !b.ActiveAt(now) {
			continue
		}
		if !found || b.ActivatedAt.After(best.ActivatedAt) {
			best = b
			found = true
		}
	}
	return best, found
}

// ActiveMultiplier returns the active boost's multiplier, or 1.
func ActiveMultiplier(boosts []domain.Boost, t domain.ResourceType, now time.Time) int {
	if b, ok := ActiveBoost(boosts, t, now); ok && b.Multiplier > 1 {
		return b.Multiplier
	}
	return 1
}
