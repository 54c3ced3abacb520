package accrual

import (
	"fmt"
	"math"
)

const NearCapacityPercent = 90.0

func PercentFull(current float64, capacity int64) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Min(100, 100*current/float64(capacity))
}

func NearCapacity(percent float64) bool {
	return percent >= NearCapacityPercent
}

// TimeToFull returns the hours left before current reaches capacity at the
// given rate. ok is false when already full or when nothing is produced.
func TimeToFull(current float64, capacity int64, dailyRate int64, multiplier int) (hours float64, ok bool) {
	effective := float64(dailyRate) * float64(multiplier)
	if current >= float64(capacity) || effective <= 0 {
		return 0, false
	}
	return (float64(capacity) - current) * 24 / effective, true
}

// FormatHours renders a duration in hours as "45min", "3h", "3h05", "2j" or "2j 4h".
func FormatHours(h float64) string {
	if h < 1 {
		return fmt.Sprintf("%dmin", int64(math.Ceil(h*60)))
	}
	if h < 24 {
		hh := math.Floor(h)
		mm := int64(math.Floor((h - hh) * 60))
		if mm > 0 {
			return fmt.Sprintf("%dh%02d", int64(hh), mm)
		}
		return fmt.Sprintf("%dh", int64(hh))
	}
	d := int64(math.Floor(h / 24))
	hh := int64(math.Floor(math.Mod(h, 24)))
	if hh > 0 {
		return fmt.Sprintf("%dj %dh", d, hh)
	}
	return fmt.Sprintf("%dj", d)
}

// HourlyThroughput is the per-hour production of a summed daily rate.
func HourlyThroughput(dailyTotal int64, multiplier int) int64 {
	return int64(math.Round(float64(dailyTotal) * float64(multiplier) / 24))
}

// Need is what is missing for every site of a player to be full. Never negative.
func Need(capacity int64, siteCount int, total float64) float64 {
	return math.Max(0, float64(capacity)*float64(siteCount)-total)
}
