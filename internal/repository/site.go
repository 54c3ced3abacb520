package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type SiteRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewSiteRepository(q sqlx.ExtContext, logger zerolog.Logger) *SiteRepository {
	return &SiteRepository{q: q, logger: logger}
}

type siteRow struct {
	ID        string `db:"id"`
	PlayerID  string `db:"player_id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r siteRow) toDomain() domain.Site {
	return domain.Site{
		ID:        r.ID,
		PlayerID:  r.PlayerID,
		Name:      r.Name,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

const siteColumns = `id, player_id, name, created_at, updated_at`

func (r *SiteRepository) Create(ctx context.Context, s domain.Site) error {
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO sites (id, player_id, name, created_at, updated_at)
		 VALUES (:id, :player_id, :name, :created_at, :updated_at)`,
		siteRow{
			ID:        s.ID,
			PlayerID:  s.PlayerID,
			Name:      s.Name,
			CreatedAt: toMillis(s.CreatedAt),
			UpdatedAt: toMillis(s.UpdatedAt),
		})
	if err != nil {
		return writeErr("insert site", err)
	}
	return nil
}

func (r *SiteRepository) Get(ctx context.Context, id string) (*domain.Site, error) {
	var row siteRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get site", err)
	}
	s := row.toDomain()
	return &s, nil
}

// ListByPlayer returns the player's sites in creation order.
func (r *SiteRepository) ListByPlayer(ctx context.Context, playerID string) ([]domain.Site, error) {
	var rows []siteRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+siteColumns+` FROM sites WHERE player_id = ? ORDER BY created_at, rowid`, playerID); err != nil {
		return nil, storageErr("list sites", err)
	}
	return toSites(rows), nil
}

func (r *SiteRepository) ListAll(ctx context.Context) ([]domain.Site, error) {
	var rows []siteRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+siteColumns+` FROM sites ORDER BY created_at, rowid`); err != nil {
		return nil, storageErr("list all sites", err)
	}
	return toSites(rows), nil
}

// First returns the player's oldest site.
func (r *SiteRepository) First(ctx context.Context, playerID string) (*domain.Site, error) {
	var row siteRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT `+siteColumns+` FROM sites WHERE player_id = ? ORDER BY created_at, rowid LIMIT 1`, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s has no site: %w", playerID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("first site", err)
	}
	s := row.toDomain()
	return &s, nil
}

// Delete removes the site. Its rates and snapshots go with it (ON DELETE CASCADE).
func (r *SiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete site", err)
	}
	return expectOne(res, "site "+id)
}

func toSites(rows []siteRow) []domain.Site {
	result := make([]domain.Site, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result
}
