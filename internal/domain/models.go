package domain

import (
	"time"
)

type Player struct {
	ID        string
	Name      string
	Capacity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Site struct {
	ID        string
	PlayerID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rate is the amount produced per 24h at multiplier 1.
type Rate struct {
	SiteID      string
	Type        ResourceType
	DailyAmount int64
	UpdatedAt   time.Time
}

// Snapshot is the amount a site held at AsOf. Version 0 means the row
// does not exist yet.
type Snapshot struct {
	SiteID  string
	Type    ResourceType
	Amount  float64
	AsOf    time.Time
	Version int64
}

type Boost struct {
	ID          string // nanoid
	PlayerID    string
	Type        ResourceType
	Multiplier  int
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

func (b Boost) ActiveAt(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

type Trade struct {
	ID             string // nanoid
	FromPlayerID   string
	FromPlayerName string
	ToPlayerID     string
	ToPlayerName   string
	Type           ResourceType
	Amount         float64
	CreatedAt      time.Time
}

// ZeroRate is the rate used when no row exists for (site, type).
func ZeroRate(siteID string, t ResourceType) Rate {
	return Rate{SiteID: siteID, Type: t}
}

// ZeroSnapshot is the snapshot used when no row exists for (site, type).
func ZeroSnapshot(siteID string, t ResourceType, now time.Time) Snapshot {
	return Snapshot{SiteID: siteID, Type: t, AsOf: now}
}

// RateOrZero resolves an optional rate row.
func RateOrZero(r Rate, ok bool, siteID string, t ResourceType) Rate {
	if !ok {
		return ZeroRate(siteID, t)
	}
	return r
}

// SnapshotOrZero resolves an optional snapshot row.
func SnapshotOrZero(s Snapshot, ok bool, siteID string, t ResourceType, now time.Time) Snapshot {
	if !ok {
		return ZeroSnapshot(siteID, t, now)
	}
	return s
}
