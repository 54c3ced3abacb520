package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store bundles the repositories so a caller can run several of them inside
// one transaction.
type Store struct {
	db     *sqlx.DB
	inTx   bool
	logger zerolog.Logger

	Players   *PlayerRepository
	Sites     *SiteRepository
	Rates     *RateRepository
	Snapshots *SnapshotRepository
	Boosts    *BoostRepository
	Trades    *TradeRepository
}

func NewStore(db *sqlx.DB, logger zerolog.Logger) *Store {
	return newStore(db, db, false, logger)
}

func newStore(db *sqlx.DB, q sqlx.ExtContext, inTx bool, logger zerolog.Logger) *Store {
	return &Store{
		db:        db,
		inTx:      inTx,
		logger:    logger,
		Players:   NewPlayerRepository(q, logger),
		Sites:     NewSiteRepository(q, logger),
		Rates:     NewRateRepository(q, logger),
		Snapshots: NewSnapshotRepository(q, logger),
		Boosts:    NewBoostRepository(q, logger),
		Trades:    NewTradeRepository(q, logger),
	}
}

// InTx runs fn against a transaction-bound Store and commits when fn
// returns nil. Calls on a Store that is already transactional run inline.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(newStore(s.db, tx, true, s.logger)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("commit: %w", domain.ErrConflict)
		}
		return storageErr("commit", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// timestamps are stored as unix milliseconds

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// writeErr classifies a failed write. Lock contention is reported as a
// conflict so callers can retry it.
func writeErr(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return storageErr(op, err)
}
