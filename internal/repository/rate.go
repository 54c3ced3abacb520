package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type RateRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewRateRepository(q sqlx.ExtContext, logger zerolog.Logger) *RateRepository {
	return &RateRepository{q: q, logger: logger}
}

type rateRow struct {
	SiteID      string `db:"site_id"`
	Type        string `db:"resource_type"`
	DailyAmount int64  `db:"daily_amount"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r rateRow) toDomain() domain.Rate {
	return domain.Rate{
		SiteID:      r.SiteID,
		Type:        domain.ResourceType(r.Type),
		DailyAmount: r.DailyAmount,
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

// Get reports ok=false when no row exists; callers fall back to domain.ZeroRate.
func (r *RateRepository) Get(ctx context.Context, siteID string, t domain.ResourceType) (domain.Rate, bool, error) {
	var row rateRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT site_id, resource_type, daily_amount, updated_at
		 FROM rates WHERE site_id = ? AND resource_type = ?`, siteID, string(t))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rate{}, false, nil
	}
	if err != nil {
		return domain.Rate{}, false, storageErr("get rate", err)
	}
	return row.toDomain(), true, nil
}

func (r *RateRepository) Upsert(ctx context.Context, rate domain.Rate) error {
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO rates (site_id, resource_type, daily_amount, updated_at)
		 VALUES (:site_id, :resource_type, :daily_amount, :updated_at)
		 ON CONFLICT (site_id, resource_type) DO UPDATE SET
		   daily_amount = excluded.daily_amount,
		   updated_at = excluded.updated_at`,
		rateRow{
			SiteID:      rate.SiteID,
			Type:        string(rate.Type),
			DailyAmount: rate.DailyAmount,
			UpdatedAt:   toMillis(rate.UpdatedAt),
		})
	if err != nil {
		return writeErr("upsert rate", err)
	}
	return nil
}

func (r *RateRepository) ListBySite(ctx context.Context, siteID string) ([]domain.Rate, error) {
	var rows []rateRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT site_id, resource_type, daily_amount, updated_at FROM rates WHERE site_id = ?`, siteID); err != nil {
		return nil, storageErr("list rates", err)
	}
	return toRates(rows), nil
}

func (r *RateRepository) ListByPlayer(ctx context.Context, playerID string) ([]domain.Rate, error) {
	var rows []rateRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT r.site_id, r.resource_type, r.daily_amount, r.updated_at
		 FROM rates r JOIN sites s ON s.id = r.site_id
		 WHERE s.player_id = ?`, playerID); err != nil {
		return nil, storageErr("list player rates", err)
	}
	return toRates(rows), nil
}

// InitMissing creates zero rows for every resource type the site lacks and
// returns how many were created.
func (r *RateRepository) InitMissing(ctx context.Context, siteID string, now time.Time) (int64, error) {
	var created int64
	for _, t := range domain.ResourceTypes {
		res, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO rates (site_id, resource_type, daily_amount, updated_at) VALUES (?, ?, 0, ?)`,
			siteID, string(t), toMillis(now))
		if err != nil {
			return created, writeErr("init rate", err)
		}
		n, _ := res.RowsAffected()
		created += n
	}
	return created, nil
}

func toRates(rows []rateRow) []domain.Rate {
	result := make([]domain.Rate, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result
}
