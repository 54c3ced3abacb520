package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type BoostRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewBoostRepository(q sqlx.ExtContext, logger zerolog.Logger) *BoostRepository {
	return &BoostRepository{q: q, logger: logger}
}

type boostRow struct {
	ID          string `db:"id"`
	PlayerID    string `db:"player_id"`
	Type        string `db:"resource_type"`
	Multiplier  int    `db:"multiplier"`
	ActivatedAt int64  `db:"activated_at"`
	ExpiresAt   int64  `db:"expires_at"`
}

func (r boostRow) toDomain() domain.Boost {
	return domain.Boost{
		ID:          r.ID,
		PlayerID:    r.PlayerID,
		Type:        domain.ResourceType(r.Type),
		Multiplier:  r.Multiplier,
		ActivatedAt: fromMillis(r.ActivatedAt),
		ExpiresAt:   fromMillis(r.ExpiresAt),
	}
}

const boostColumns = `id, player_id, resource_type, multiplier, activated_at, expires_at`

func (r *BoostRepository) Insert(ctx context.Context, b domain.Boost) error {
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO boosts (`+boostColumns+`)
		 VALUES (:id, :player_id, :resource_type, :multiplier, :activated_at, :expires_at)`,
		boostRow{
			ID:          b.ID,
			PlayerID:    b.PlayerID,
			Type:        string(b.Type),
			Multiplier:  b.Multiplier,
			ActivatedAt: toMillis(b.ActivatedAt),
			ExpiresAt:   toMillis(b.ExpiresAt),
		})
	if err != nil {
		return writeErr("insert boost", err)
	}
	return nil
}

func (r *BoostRepository) Get(ctx context.Context, id string) (*domain.Boost, error) {
	var row boostRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+boostColumns+` FROM boosts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("boost %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get boost", err)
	}
	b := row.toDomain()
	return &b, nil
}

func (r *BoostRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM boosts WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete boost", err)
	}
	return expectOne(res, "boost "+id)
}

// DeleteActive removes the player's boosts of type t that are still running
// at now. Expired rows are kept as history.
func (r *BoostRepository) DeleteActive(ctx context.Context, playerID string, t domain.ResourceType, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM boosts WHERE player_id = ? AND resource_type = ? AND expires_at > ?`,
		playerID, string(t), toMillis(now))
	if err != nil {
		return 0, writeErr("delete active boosts", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *BoostRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE boosts SET expires_at = ? WHERE id = ?`, toMillis(expiresAt), id)
	if err != nil {
		return writeErr("update boost expiry", err)
	}
	return expectOne(res, "boost "+id)
}

// ListForPlayer returns the player's boosts that expire after the given
// instant, oldest activation first. Pass the earliest snapshot time to get
// every window that can still contribute to accrual.
func (r *BoostRepository) ListForPlayer(ctx context.Context, playerID string, expiresAfter time.Time) ([]domain.Boost, error) {
	var rows []boostRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+boostColumns+` FROM boosts
		 WHERE player_id = ? AND expires_at > ?
		 ORDER BY activated_at, rowid`, playerID, toMillis(expiresAfter)); err != nil {
		return nil, storageErr("list boosts", err)
	}

	result := make([]domain.Boost, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}
