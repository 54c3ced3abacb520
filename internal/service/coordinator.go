package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/accrual"
	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/repository"

	"github.com/rs/zerolog"
)

// StockService owns every write that changes how fast a site accrues, plus
// the read side built on the same snapshots (see dashboard.go).
type StockService struct {
	store  *repository.Store
	clock  clock.Clock
	hub    *notify.Hub
	tuning config.Tuning
	tx     txRunner
	logger zerolog.Logger
}

func NewStockService(store *repository.Store, clk clock.Clock, hub *notify.Hub, cfg *config.Config, logger zerolog.Logger) *StockService {
	return &StockService{
		store:  store,
		clock:  clk,
		hub:    hub,
		tuning: cfg.Tuning,
		tx:     txRunner{store: store, maxRetries: cfg.Tuning.Storage.MaxRetries, logger: logger},
		logger: logger,
	}
}

// accrued reads the stored snapshot of t at a site and what it amounts to at
// now under the rate and boosts in force. Nothing is clamped.
func accrued(ctx context.Context, st *repository.Store, site *domain.Site, t domain.ResourceType, now time.Time) (domain.Snapshot, float64, error) {
	rate, ok, err := st.Rates.Get(ctx, site.ID, t)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	rate = domain.RateOrZero(rate, ok, site.ID, t)

	snap, ok, err := st.Snapshots.Get(ctx, site.ID, t)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	snap = domain.SnapshotOrZero(snap, ok, site.ID, t, now)

	boosts, err := st.Boosts.ListForPlayer(ctx, site.PlayerID, snap.AsOf)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	return snap, accrual.Accrue(snap, rate.DailyAmount, boosts, now), nil
}

// freeze persists what the site accrued up to now and returns the new
// snapshot. The stored amount is floored at 0 but never clamped to capacity.
func freeze(ctx context.Context, tx *repository.Store, site *domain.Site, t domain.ResourceType, now time.Time) (domain.Snapshot, error) {
	snap, amount, err := accrued(ctx, tx, site, t, now)
	if err != nil {
		return domain.Snapshot{}, err
	}

	frozen := domain.Snapshot{SiteID: site.ID, Type: t, Amount: math.Max(0, amount), AsOf: now}
	frozen.Version, err = tx.Snapshots.CompareAndSwap(ctx, frozen, snap.Version)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return frozen, nil
}

// applyRateChange freezes type t on every given site, then runs mutate.
// Both happen in tx, so a failed mutation also discards the freezes.
func applyRateChange(ctx context.Context, tx *repository.Store, sites []domain.Site, t domain.ResourceType, now time.Time, mutate func() error) error {
	for i := range sites {
		if _, err := freeze(ctx, tx, &sites[i], t, now); err != nil {
			return fmt.Errorf("freeze %s/%s: %w", sites[i].ID, t, err)
		}
	}
	return mutate()
}

type rateOptions struct {
	underBoost bool
}

type RateOption func(*rateOptions)

// UnderBoost marks daily as read while the player's boost of that type was
// running. It is divided by the active multiplier, rounded, and the result is
// stored as the base rate.
func UnderBoost() RateOption {
	return func(o *rateOptions) { o.underBoost = true }
}

// SetProductionRate changes the daily production of t at a site. It reports
// false, and writes nothing, when daily is already the stored value.
func (s *StockService) SetProductionRate(ctx context.Context, siteID string, t domain.ResourceType, daily int64, opts ...RateOption) (bool, error) {
	var o rateOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := validType(t); err != nil {
		return false, err
	}
	if daily < 0 {
		return false, fmt.Errorf("%w: daily amount must not be negative", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var (
		site    *domain.Site
		changed bool
		base    int64
		now     time.Time
	)
	err := s.tx.run(ctx, "set production rate", func(tx *repository.Store) error {
		now = s.clock.Now()
		changed = false
		base = daily

		var err error
		site, err = tx.Sites.Get(ctx, siteID)
		if err != nil {
			return err
		}
		if o.underBoost {
			boosts, err := tx.Boosts.ListForPlayer(ctx, site.PlayerID, now)
			if err != nil {
				return err
			}
			mult := accrual.ActiveMultiplier(boosts, t, now)
			base = int64(math.Round(float64(daily) / float64(mult)))
		}

		current, ok, err := tx.Rates.Get(ctx, siteID, t)
		if err != nil {
			return err
		}
		if domain.RateOrZero(current, ok, siteID, t).DailyAmount == base {
			return nil
		}

		changed = true
		return applyRateChange(ctx, tx, []domain.Site{*site}, t, now, func() error {
			return tx.Rates.Upsert(ctx, domain.Rate{SiteID: siteID, Type: t, DailyAmount: base, UpdatedAt: now})
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("site_id", siteID).Str("type", t.String()).Msg("failed to set production rate")
		return false, err
	}
	if !changed {
		s.logger.Debug().Str("site_id", siteID).Str("type", t.String()).Int64("daily", base).Msg("production rate unchanged, skipping")
		return false, nil
	}

	s.logger.Info().Str("site_id", siteID).Str("type", t.String()).Int64("daily", base).Bool("under_boost", o.underBoost).Msg("production rate set")
	publish(ctx, s.hub, notify.TableRates, site.PlayerID, siteID, now)
	return true, nil
}

// ActivateBoost starts a multiplier for every site of the player. Any boost
// of the same type still running is replaced.
func (s *StockService) ActivateBoost(ctx context.Context, playerID string, t domain.ResourceType, multiplier int) (*domain.Boost, error) {
	if err := validType(t); err != nil {
		return nil, err
	}
	if multiplier <= 1 || multiplier > s.tuning.Boost.MaxMultiplier {
		return nil, fmt.Errorf("%w: multiplier must be between 2 and %d", domain.ErrValidation, s.tuning.Boost.MaxMultiplier)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var boost domain.Boost
	err = s.tx.run(ctx, "activate boost", func(tx *repository.Store) error {
		now := s.clock.Now()
		if _, err := tx.Players.Get(ctx, playerID); err != nil {
			return err
		}
		sites, err := tx.Sites.ListByPlayer(ctx, playerID)
		if err != nil {
			return err
		}

		boost = domain.Boost{
			ID:          id,
			PlayerID:    playerID,
			Type:        t,
			Multiplier:  multiplier,
			ActivatedAt: now,
			ExpiresAt:   now.Add(s.tuning.Boost.Duration),
		}
		return applyRateChange(ctx, tx, sites, t, now, func() error {
			if _, err := tx.Boosts.DeleteActive(ctx, playerID, t, now); err != nil {
				return err
			}
			return tx.Boosts.Insert(ctx, boost)
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Str("type", t.String()).Msg("failed to activate boost")
		return nil, err
	}

	s.logger.Info().
		Str("player_id", playerID).
		Str("type", t.String()).
		Int("multiplier", multiplier).
		Time("expires_at", boost.ExpiresAt).
		Msg("boost activated")
	publish(ctx, s.hub, notify.TableBoosts, playerID, "", boost.ActivatedAt)
	return &boost, nil
}

// RetimeBoost moves a boost's expiry. The player's sites are frozen first so
// the change only affects accrual from now on.
func (s *StockService) RetimeBoost(ctx context.Context, boostID string, expiresAt time.Time) (*domain.Boost, error) {
	if expiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expiry is required", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var boost *domain.Boost
	var now time.Time
	err := s.tx.run(ctx, "retime boost", func(tx *repository.Store) error {
		now = s.clock.Now()
		var err error
		boost, err = tx.Boosts.Get(ctx, boostID)
		if err != nil {
			return err
		}
		sites, err := tx.Sites.ListByPlayer(ctx, boost.PlayerID)
		if err != nil {
			return err
		}
		return applyRateChange(ctx, tx, sites, boost.Type, now, func() error {
			return tx.Boosts.UpdateExpiry(ctx, boostID, expiresAt)
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("boost_id", boostID).Msg("failed to retime boost")
		return nil, err
	}

	boost.ExpiresAt = expiresAt.UTC()
	s.logger.Info().Str("boost_id", boostID).Time("expires_at", boost.ExpiresAt).Msg("boost retimed")
	publish(ctx, s.hub, notify.TableBoosts, boost.PlayerID, "", now)
	return boost, nil
}

// RemoveBoost freezes at the boosted rate, then deletes the boost.
func (s *StockService) RemoveBoost(ctx context.Context, boostID string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var boost *domain.Boost
	var now time.Time
	err := s.tx.run(ctx, "remove boost", func(tx *repository.Store) error {
		now = s.clock.Now()
		var err error
		boost, err = tx.Boosts.Get(ctx, boostID)
		if err != nil {
			return err
		}
		sites, err := tx.Sites.ListByPlayer(ctx, boost.PlayerID)
		if err != nil {
			return err
		}
		return applyRateChange(ctx, tx, sites, boost.Type, now, func() error {
			return tx.Boosts.Delete(ctx, boostID)
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("boost_id", boostID).Msg("failed to remove boost")
		return err
	}

	s.logger.Info().Str("boost_id", boostID).Str("player_id", boost.PlayerID).Msg("boost removed")
	publish(ctx, s.hub, notify.TableBoosts, boost.PlayerID, "", now)
	return nil
}

// SetManualAmount replaces the stock of t at a site. Nothing is frozen: the
// accrued amount is discarded on purpose.
func (s *StockService) SetManualAmount(ctx context.Context, siteID string, t domain.ResourceType, value float64) error {
	if err := validType(t); err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("%w: amount must be a non-negative number", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var site *domain.Site
	var now time.Time
	err := s.tx.run(ctx, "set manual amount", func(tx *repository.Store) error {
		now = s.clock.Now()
		var err error
		if site, err = tx.Sites.Get(ctx, siteID); err != nil {
			return err
		}
		_, err = tx.Snapshots.Overwrite(ctx, domain.Snapshot{SiteID: siteID, Type: t, Amount: math.Max(0, value), AsOf: now})
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("site_id", siteID).Str("type", t.String()).Msg("failed to set manual amount")
		return err
	}

	s.logger.Info().Str("site_id", siteID).Str("type", t.String()).Float64("amount", value).Msg("stock set manually")
	publish(ctx, s.hub, notify.TableSnapshots, site.PlayerID, siteID, now)
	return nil
}

// ResetSite empties every resource type of a site (the banquet).
func (s *StockService) ResetSite(ctx context.Context, siteID string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var site *domain.Site
	var now time.Time
	err := s.tx.run(ctx, "reset site", func(tx *repository.Store) error {
		now = s.clock.Now()
		var err error
		if site, err = tx.Sites.Get(ctx, siteID); err != nil {
			return err
		}
		for _, t := range domain.ResourceTypes {
			if _, err := tx.Snapshots.Overwrite(ctx, domain.Snapshot{SiteID: siteID, Type: t, AsOf: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("site_id", siteID).Msg("failed to reset site")
		return err
	}

	s.logger.Info().Str("site_id", siteID).Msg("site reset")
	publish(ctx, s.hub, notify.TableSnapshots, site.PlayerID, siteID, now)
	return nil
}
