package service

import (
	"context"
	"errors"
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

type TradeService struct {
	store  *repository.Store
	clock  clock.Clock
	hub    *notify.Hub
	tuning config.Tuning
	tx     txRunner
	logger zerolog.Logger
}

func NewTradeService(store *repository.Store, clk clock.Clock, hub *notify.Hub, cfg *config.Config, logger zerolog.Logger) *TradeService {
	return &TradeService{
		store:  store,
		clock:  clk,
		hub:    hub,
		tuning: cfg.Tuning,
		tx:     txRunner{store: store, maxRetries: cfg.Tuning.Storage.MaxRetries, logger: logger},
		logger: logger,
	}
}

// Movement describes the stock of both ends after a transfer or trade.
type Movement struct {
	FromSiteID string
	ToSiteID   string
	FromAmount float64
	ToAmount   float64
	// Lost is what did not fit under the destination's capacity.
	Lost float64
	// Shortfall is what a lenient trade debited beyond the sender's stock.
	Shortfall float64
}

type TradeRequest struct {
	FromPlayerID string
	ToPlayerID   string
	// FromSiteID may be empty: the trade is then recorded and credited
	// without any debit.
	FromSiteID string
	// ToSiteID may be empty: the recipient's oldest site is used, and when
	// the recipient has none the trade is only recorded.
	ToSiteID string
	Type     domain.ResourceType
	Amount   float64
}

type TradeResult struct {
	Trade    domain.Trade
	Movement Movement
}

func validAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", domain.ErrValidation)
	}
	return nil
}

// TransferInternal moves stock between two sites of the same player. Both
// snapshots are written in one transaction.
func (s *TradeService) TransferInternal(ctx context.Context, fromSiteID, toSiteID string, t domain.ResourceType, amount float64) (*Movement, error) {
	if err := validType(t); err != nil {
		return nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if fromSiteID == toSiteID {
		return nil, fmt.Errorf("%w: source and destination are the same site", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var (
		mv       Movement
		playerID string
		now      time.Time
	)
	err := s.tx.run(ctx, "internal transfer", func(tx *repository.Store) error {
		now = s.clock.Now()
		from, err := tx.Sites.Get(ctx, fromSiteID)
		if err != nil {
			return err
		}
		to, err := tx.Sites.Get(ctx, toSiteID)
		if err != nil {
			return err
		}
		if from.PlayerID != to.PlayerID {
			return fmt.Errorf("%w: sites belong to different players, use a trade", domain.ErrValidation)
		}
		player, err := tx.Players.Get(ctx, from.PlayerID)
		if err != nil {
			return err
		}
		playerID = player.ID

		debit, err := s.debit(ctx, tx, from, player.Capacity, t, amount, true, now)
		if err != nil {
			return err
		}
		credit, err := s.credit(ctx, tx, to, player.Capacity, t, amount, now)
		if err != nil {
			return err
		}
		mv = Movement{
			FromSiteID: from.ID,
			ToSiteID:   to.ID,
			FromAmount: debit.amount,
			ToAmount:   credit.amount,
			Lost:       credit.overflow,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) {
			s.logger.Error().Err(err).Str("from", fromSiteID).Str("to", toSiteID).Msg("internal transfer failed")
		}
		return nil, err
	}

	s.logger.Info().
		Str("from", fromSiteID).
		Str("to", toSiteID).
		Str("type", t.String()).
		Float64("amount", amount).
		Float64("lost", mv.Lost).
		Msg("internal transfer done")
	publish(ctx, s.hub, notify.TableSnapshots, playerID, fromSiteID, now)
	publish(ctx, s.hub, notify.TableSnapshots, playerID, toSiteID, now)
	return &mv, nil
}

// ExecuteTrade gives stock to another player. The trade is appended to the
// ledger before any stock moves and stays there even if the move fails.
func (s *TradeService) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if err := validType(req.Type); err != nil {
		return nil, err
	}
	if err := validAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.FromPlayerID == req.ToPlayerID {
		return nil, fmt.Errorf("%w: a player cannot trade with themselves", domain.ErrValidation)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	fromPlayer, err := s.store.Players.Get(ctx, req.FromPlayerID)
	if err != nil {
		return nil, err
	}
	toPlayer, err := s.store.Players.Get(ctx, req.ToPlayerID)
	if err != nil {
		return nil, err
	}

	var fromSite *domain.Site
	if req.FromSiteID != "" {
		if fromSite, err = s.store.Sites.Get(ctx, req.FromSiteID); err != nil {
			return nil, err
		}
		if fromSite.PlayerID != fromPlayer.ID {
			return nil, fmt.Errorf("%w: site %s does not belong to the sender", domain.ErrValidation, fromSite.ID)
		}
		if s.tuning.Trades.Strict {
			if err := s.precheck(ctx, fromSite, fromPlayer.Capacity, req.Type, req.Amount); err != nil {
				return nil, err
			}
		}
	}

	// A recipient without any site still gets the ledger row; nothing moves.
	var toSite *domain.Site
	if req.ToSiteID != "" {
		if toSite, err = s.store.Sites.Get(ctx, req.ToSiteID); err != nil {
			return nil, err
		}
		if toSite.PlayerID != toPlayer.ID {
			return nil, fmt.Errorf("%w: site %s does not belong to the recipient", domain.ErrValidation, toSite.ID)
		}
	} else if toSite, err = s.store.Sites.First(ctx, toPlayer.ID); errors.Is(err, domain.ErrNotFound) {
		toSite = nil
	} else if err != nil {
		return nil, err
	}

	trade := domain.Trade{
		ID:             id,
		FromPlayerID:   fromPlayer.ID,
		FromPlayerName: fromPlayer.Name,
		ToPlayerID:     toPlayer.ID,
		ToPlayerName:   toPlayer.Name,
		Type:           req.Type,
		Amount:         req.Amount,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.Trades.Insert(ctx, trade); err != nil {
		s.logger.Error().Err(err).Str("from", fromPlayer.ID).Str("to", toPlayer.ID).Msg("failed to record trade")
		return nil, err
	}
	publish(ctx, s.hub, notify.TableTrades, fromPlayer.ID, "", trade.CreatedAt)

	if toSite == nil {
		s.logger.Warn().Str("trade_id", trade.ID).Str("to", toPlayer.Name).Msg("recipient has no site, trade recorded without moving stock")
		return &TradeResult{Trade: trade}, nil
	}

	var (
		mv  Movement
		now time.Time
	)
	err = s.tx.run(ctx, "trade", func(tx *repository.Store) error {
		now = s.clock.Now()
		mv = Movement{}

		if fromSite != nil {
			debit, err := s.debit(ctx, tx, fromSite, fromPlayer.Capacity, req.Type, req.Amount, s.tuning.Trades.Strict, now)
			if err != nil {
				return err
			}
			mv.FromSiteID = fromSite.ID
			mv.FromAmount = debit.amount
			mv.Shortfall = debit.shortfall
		}

		credit, err := s.credit(ctx, tx, toSite, toPlayer.Capacity, req.Type, req.Amount, now)
		if err != nil {
			return err
		}
		mv.ToSiteID = toSite.ID
		mv.ToAmount = credit.amount
		mv.Lost = credit.overflow
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("trade recorded but stock was not moved")
		return nil, fmt.Errorf("trade %s recorded, stock not moved: %w", trade.ID, err)
	}

	s.logger.Info().
		Str("trade_id", trade.ID).
		Str("from", fromPlayer.Name).
		Str("to", toPlayer.Name).
		Str("type", req.Type.String()).
		Float64("amount", req.Amount).
		Float64("shortfall", mv.Shortfall).
		Msg("trade executed")
	if mv.FromSiteID != "" {
		publish(ctx, s.hub, notify.TableSnapshots, fromPlayer.ID, mv.FromSiteID, now)
	}
	publish(ctx, s.hub, notify.TableSnapshots, toPlayer.ID, mv.ToSiteID, now)
	return &TradeResult{Trade: trade, Movement: mv}, nil
}

// ListTrades returns the newest trades first. limit <= 0 uses the
// configured history size.
func (s *TradeService) ListTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = s.tuning.Trades.HistoryLimit
	}
	limit = min(limit, constants.MaxTradeHistoryLimit)

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.store.Trades.List(ctx, limit)
}

type debitResult struct {
	amount    float64
	shortfall float64
}

// debit freezes the source and removes amount from its clamped stock. When
// strict, asking for more than the stock fails; otherwise the stock floors at 0.
func (s *TradeService) debit(ctx context.Context, tx *repository.Store, site *domain.Site, capacity int64, t domain.ResourceType, amount float64, strict bool, now time.Time) (debitResult, error) {
	frozen, err := freeze(ctx, tx, site, t, now)
	if err != nil {
		return debitResult{}, err
	}
	current := accrual.Clamp(frozen.Amount, capacity)
	if amount > current && strict {
		return debitResult{}, fmt.Errorf("%w: %s has %.0f %s, asked %.0f", domain.ErrInsufficientStock, site.Name, math.Floor(current), t, amount)
	}

	res := debitResult{amount: math.Max(0, current-amount), shortfall: math.Max(0, amount-current)}
	_, err = tx.Snapshots.CompareAndSwap(ctx, domain.Snapshot{SiteID: site.ID, Type: t, Amount: res.amount, AsOf: now}, frozen.Version)
	return res, err
}

type creditResult struct {
	amount   float64
	overflow float64
}

func (s *TradeService) credit(ctx context.Context, tx *repository.Store, site *domain.Site, capacity int64, t domain.ResourceType, amount float64, now time.Time) (creditResult, error) {
	frozen, err := freeze(ctx, tx, site, t, now)
	if err != nil {
		return creditResult{}, err
	}
	current := accrual.Clamp(frozen.Amount, capacity)
	res := creditResult{amount: math.Min(current+amount, float64(capacity))}
	res.overflow = current + amount - res.amount

	_, err = tx.Snapshots.CompareAndSwap(ctx, domain.Snapshot{SiteID: site.ID, Type: t, Amount: res.amount, AsOf: now}, frozen.Version)
	return res, err
}

// precheck rejects a strict trade before it reaches the ledger. It only reads.
func (s *TradeService) precheck(ctx context.Context, site *domain.Site, capacity int64, t domain.ResourceType, amount float64) error {
	_, raw, err := accrued(ctx, s.store, site, t, s.clock.Now())
	if err != nil {
		return err
	}
	if current := accrual.Clamp(raw, capacity); amount > current {
		return fmt.Errorf("%w: %s has %.0f %s, asked %.0f", domain.ErrInsufficientStock, site.Name, math.Floor(current), t, amount)
	}
	return nil
}
