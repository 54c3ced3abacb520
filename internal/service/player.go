package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"
	"github.com/iSwxkzyEU/sk-trade/internal/domain"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/repository"

	"github.com/rs/zerolog"
)

type PlayerService struct {
	store  *repository.Store
	clock  clock.Clock
	hub    *notify.Hub
	tuning config.Tuning
	logger zerolog.Logger
}

func NewPlayerService(store *repository.Store, clk clock.Clock, hub *notify.Hub, cfg *config.Config, logger zerolog.Logger) *PlayerService {
	return &PlayerService{store: store, clock: clk, hub: hub, tuning: cfg.Tuning, logger: logger}
}

// CreatePlayer registers a player. A capacity of 0 uses the configured default.
func (s *PlayerService) CreatePlayer(ctx context.Context, name string, capacity int64) (*domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if capacity == 0 {
		capacity = s.tuning.Players.DefaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", domain.ErrValidation)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	now := s.clock.Now()
	p := domain.Player{ID: id, Name: name, Capacity: capacity, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Players.Create(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("failed to create player")
		return nil, err
	}

	s.logger.Info().Str("player_id", id).Str("name", name).Int64("capacity", capacity).Msg("player created")
	publish(ctx, s.hub, notify.TablePlayers, id, "", now)
	return &p, nil
}

func (s *PlayerService) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.store.Players.List(ctx)
}

func (s *PlayerService) FindPlayer(ctx context.Context, name string) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.store.Players.GetByName(ctx, strings.TrimSpace(name))
}

func (s *PlayerService) ListSites(ctx context.Context, playerID string) ([]domain.Site, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.store.Sites.ListByPlayer(ctx, playerID)
}

// UpdateCapacity changes the ceiling applied at read time. Stored snapshots
// are left alone.
func (s *PlayerService) UpdateCapacity(ctx context.Context, playerID string, capacity int64) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	now := s.clock.Now()
	if err := s.store.Players.UpdateCapacity(ctx, playerID, capacity, now); err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to update capacity")
		return err
	}

	s.logger.Info().Str("player_id", playerID).Int64("capacity", capacity).Msg("capacity updated")
	publish(ctx, s.hub, notify.TablePlayers, playerID, "", now)
	return nil
}

// DeletePlayer removes the player with its sites and boosts. Trades stay.
func (s *PlayerService) DeletePlayer(ctx context.Context, playerID string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if err := s.store.Players.Delete(ctx, playerID); err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to delete player")
		return err
	}

	s.logger.Info().Str("player_id", playerID).Msg("player deleted")
	publish(ctx, s.hub, notify.TablePlayers, playerID, "", s.clock.Now())
	return nil
}

// CreateSite adds a site with zero rate and zero stock rows for every type.
func (s *PlayerService) CreateSite(ctx context.Context, playerID, name string) (*domain.Site, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	now := s.clock.Now()
	site := domain.Site{ID: id, PlayerID: playerID, Name: name, CreatedAt: now, UpdatedAt: now}
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Players.Get(ctx, playerID); err != nil {
			return err
		}
		if err := tx.Sites.Create(ctx, site); err != nil {
			return err
		}
		if _, err := tx.Rates.InitMissing(ctx, id, now); err != nil {
			return err
		}
		_, err := tx.Snapshots.InitMissing(ctx, id, now)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Str("name", name).Msg("failed to create site")
		return nil, err
	}

	s.logger.Info().Str("site_id", id).Str("player_id", playerID).Str("name", name).Msg("site created")
	publish(ctx, s.hub, notify.TableSites, playerID, id, now)
	return &site, nil
}

// DeleteSite removes a site together with its rates and snapshots.
func (s *PlayerService) DeleteSite(ctx context.Context, siteID string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	site, err := s.store.Sites.Get(ctx, siteID)
	if err != nil {
		return err
	}
	if err := s.store.Sites.Delete(ctx, siteID); err != nil {
		s.logger.Error().Err(err).Str("site_id", siteID).Msg("failed to delete site")
		return err
	}

	s.logger.Info().Str("site_id", siteID).Msg("site deleted")
	publish(ctx, s.hub, notify.TableSites, site.PlayerID, siteID, s.clock.Now())
	return nil
}

type BackfillResult struct {
	Sites     int
	Rates     int64
	Snapshots int64
}

// Backfill creates the missing zero rows of every existing site. Running it
// again creates nothing.
func (s *PlayerService) Backfill(ctx context.Context) (*BackfillResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	var res BackfillResult
	now := s.clock.Now()
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		res = BackfillResult{}
		sites, err := tx.Sites.ListAll(ctx)
		if err != nil {
			return err
		}
		res.Sites = len(sites)
		for _, site := range sites {
			n, err := tx.Rates.InitMissing(ctx, site.ID, now)
			if err != nil {
				return err
			}
			res.Rates += n
			if n, err = tx.Snapshots.InitMissing(ctx, site.ID, now); err != nil {
				return err
			}
			res.Snapshots += n
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("backfill failed")
		return nil, err
	}

	s.logger.Info().Int("sites", res.Sites).Int64("rates", res.Rates).Int64("snapshots", res.Snapshots).Msg("backfill done")
	return &res, nil
}
