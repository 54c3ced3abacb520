// Package accrual computes stock levels from persisted snapshots. Nothing in
// here performs I/O; every function is a pure function of its arguments.
package accrual

import (
	"sort"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"
)

const Day = 24 * time.Hour

// CurrentAmount returns snapshot.Amount plus what dailyRate*multiplier
// produced between snapshot.AsOf and now. The result is not clamped.
func CurrentAmount(s domain.Snapshot, dailyRate int64, multiplier int, now time.Time) float64 {
	return s.Amount + produced(dailyRate, multiplier, now.Sub(s.AsOf))
}

// Accrue is CurrentAmount with the multiplier integrated over the boost
// windows that overlap [s.AsOf, now]. Boosts of other resource types are
// ignored. At every instant the multiplier is the one ActiveBoost would pick:
// the latest activation among boosts that have started and not yet expired.
func Accrue(s domain.Snapshot, dailyRate int64, boosts []domain.Boost, now time.Time) float64 {
	amount := CurrentAmount(s, dailyRate, 1, now)
	if dailyRate == 0 || !now.After(s.AsOf) {
		return amount
	}

	windows := make([]domain.Boost, 0, len(boosts))
	points := []time.Time{s.AsOf, now}
	for _, b := range boosts {
		if b.Type != s.Type || b.Multiplier <= 1 {
			continue
		}
		windows = append(windows, b)
		for _, p := range [2]time.Time{b.ActivatedAt, b.ExpiresAt} {
			if p.After(s.AsOf) && p.Before(now) {
				points = append(points, p)
			}
		}
	}
	if len(windows) == 0 {
		return amount
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	// the multiplier is constant between two consecutive breakpoints
	for i := 0; i+1 < len(points); i++ {
		start, end := points[i], points[i+1]
		if !end.After(start) {
			continue
		}
		if m := multiplierAt(windows, start); m > 1 {
			amount += produced(dailyRate, m-1, end.Sub(start))
		}
	}
	return amount
}

func multiplierAt(windows []domain.Boost, at time.Time) int {
	var (
		best  domain.Boost
		found bool
	)
	for _, b := range windows {
		if b.ActivatedAt.After(at) || !b.ActiveAt(at) {
			continue
		}
		if !found || b.ActivatedAt.After(best.ActivatedAt) {
			best = b
			found = true
		}
	}
	if !found {
		return 1
	}
	return best.Multiplier
}

// Clamp projects an amount onto [0, capacity]. A non-positive capacity
// clamps everything to 0.
func Clamp(amount float64, capacity int64) float64 {
	if capacity <= 0 || amount <= 0 {
		return 0
	}
	if c := float64(capacity); amount > c {
		return c
	}
	return amount
}

// multiply before dividing so whole hours of a per-day rate stay exact
func produced(dailyRate int64, multiplier int, elapsed time.Duration) float64 {
	return float64(dailyRate) * float64(multiplier) * float64(elapsed) / float64(Day)
}
