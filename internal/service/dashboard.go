package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/accrual"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"golang.org/x/sync/errgroup"
)

// StockLine is one resource type at one site, as seen at GeneratedAt.
type StockLine struct {
	Type         domain.ResourceType
	Amount       float64 // clamped to capacity
	DailyRate    int64
	Multiplier   int
	PercentFull  float64
	NearCapacity bool
	// HoursToFull is nil when the site is full or produces nothing.
	HoursToFull *float64
}

type SiteView struct {
	Site  domain.Site
	Lines []StockLine
}

// TypeTotal aggregates one resource type over all of a player's sites.
type TypeTotal struct {
	Type             domain.ResourceType
	Total            float64
	Need             float64
	DailyTotal       int64
	Multiplier       int
	HourlyThroughput int64
}

type Dashboard struct {
	Player      domain.Player
	Sites       []SiteView
	Totals      []TypeTotal
	Boosts      []domain.Boost // active at GeneratedAt
	GeneratedAt time.Time
}

// Line returns the line for t, or false.
func (v SiteView) Line(t domain.ResourceType) (StockLine, bool) {
	for _, l := range v.Lines {
		if l.Type == t {
			return l, true
		}
	}
	return StockLine{}, false
}

// CurrentAmount is the clamped stock of t at a site right now.
func (s *StockService) CurrentAmount(ctx context.Context, siteID string, t domain.ResourceType) (float64, error) {
	if err := validType(t); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	now := s.clock.Now()
	site, err := s.store.Sites.Get(ctx, siteID)
	if err != nil {
		return 0, err
	}
	player, err := s.store.Players.Get(ctx, site.PlayerID)
	if err != nil {
		return 0, err
	}
	_, amount, err := accrued(ctx, s.store, site, t, now)
	if err != nil {
		return 0, err
	}
	return accrual.Clamp(amount, player.Capacity), nil
}

// SiteStock returns every resource line of one site.
func (s *StockService) SiteStock(ctx context.Context, siteID string) (*SiteView, error) {
	site, err := s.store.Sites.Get(ctx, siteID)
	if err != nil {
		return nil, err
	}
	d, err := s.Dashboard(ctx, site.PlayerID, nil)
	if err != nil {
		return nil, err
	}
	for _, v := range d.Sites {
		if v.Site.ID == siteID {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("site %s: %w", siteID, domain.ErrNotFound)
}

// Dashboard reads everything a player's stock view needs in one batch.
// check, when not nil, is called between steps; its error aborts the read.
func (s *StockService) Dashboard(ctx context.Context, playerID string, check func() error) (*Dashboard, error) {
	if check == nil {
		check = func() error { return nil }
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	player, err := s.store.Players.Get(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}

	var (
		sites     []domain.Site
		rates     []domain.Rate
		snapshots []domain.Snapshot
		boosts    []domain.Boost
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sites, err = s.store.Sites.ListByPlayer(gCtx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		rates, err = s.store.Rates.ListByPlayer(gCtx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		snapshots, err = s.store.Snapshots.ListByPlayer(gCtx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		// expired rows still matter for snapshots older than their expiry
		boosts, err = s.store.Boosts.ListForPlayer(gCtx, playerID, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to load dashboard data")
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}
	if err := check(); err != nil {
		return nil, err
	}

	d := BuildDashboard(*player, sites, rates, snapshots, boosts, s.clock.Now())
	return &d, nil
}

// Dashboards builds the dashboard of every player, in creation order.
func (s *StockService) Dashboards(ctx context.Context) ([]Dashboard, error) {
	players, err := s.store.Players.List(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Dashboard, len(players))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range players {
		g.Go(func() error {
			d, err := s.Dashboard(gCtx, p.ID, nil)
			if err != nil {
				return err
			}
			result[i] = *d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// BuildDashboard derives the whole view from already loaded rows. Missing
// rate or snapshot rows count as zero at now.
func BuildDashboard(player domain.Player, sites []domain.Site, rates []domain.Rate, snapshots []domain.Snapshot, boosts []domain.Boost, now time.Time) Dashboard {
	type key struct {
		site string
		t    domain.ResourceType
	}
	rateBy := make(map[key]domain.Rate, len(rates))
	for _, r := range rates {
		rateBy[key{r.SiteID, r.Type}] = r
	}
	snapBy := make(map[key]domain.Snapshot, len(snapshots))
	for _, sn := range snapshots {
		snapBy[key{sn.SiteID, sn.Type}] = sn
	}

	d := Dashboard{Player: player, GeneratedAt: now}
	totals := make(map[domain.ResourceType]*TypeTotal, len(domain.ResourceTypes))
	for _, t := range domain.ResourceTypes {
		totals[t] = &TypeTotal{Type: t, Multiplier: accrual.ActiveMultiplier(boosts, t, now)}
		if b, ok := accrual.ActiveBoost(boosts, t, now); ok {
			d.Boosts = append(d.Boosts, b)
		}
	}

	for _, site := range sites {
		view := SiteView{Site: site, Lines: make([]StockLine, 0, len(domain.ResourceTypes))}
		for _, t := range domain.ResourceTypes {
			r, ok := rateBy[key{site.ID, t}]
			rate := domain.RateOrZero(r, ok, site.ID, t)
			sn, ok := snapBy[key{site.ID, t}]
			snap := domain.SnapshotOrZero(sn, ok, site.ID, t, now)

			tot := totals[t]
			amount := accrual.Clamp(accrual.Accrue(snap, rate.DailyAmount, boosts, now), player.Capacity)
			line := StockLine{
				Type:       t,
				Amount:     amount,
				DailyRate:  rate.DailyAmount,
				Multiplier: tot.Multiplier,
			}
			line.PercentFull = accrual.PercentFull(amount, player.Capacity)
			line.NearCapacity = accrual.NearCapacity(line.PercentFull)
			if h, ok := accrual.TimeToFull(amount, player.Capacity, rate.DailyAmount, tot.Multiplier); ok {
				line.HoursToFull = &h
			}
			view.Lines = append(view.Lines, line)

			tot.Total += amount
			tot.DailyTotal += rate.DailyAmount
		}
		d.Sites = append(d.Sites, view)
	}

	for _, t := range domain.ResourceTypes {
		tot := totals[t]
		tot.Need = accrual.Need(player.Capacity, len(sites), tot.Total)
		tot.HourlyThroughput = accrual.HourlyThroughput(tot.DailyTotal, tot.Multiplier)
		d.Totals = append(d.Totals, *tot)
	}
	return d
}
