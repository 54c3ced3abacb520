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

type PlayerRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewPlayerRepository(q sqlx.ExtContext, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{q: q, logger: logger}
}

type playerRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Capacity  int64  `db:"capacity"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:        r.ID,
		Name:      r.Name,
		Capacity:  r.Capacity,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

const playerColumns = `id, name, capacity, created_at, updated_at`

func (r *PlayerRepository) Create(ctx context.Context, p domain.Player) error {
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO players (id, name, capacity, created_at, updated_at)
		 VALUES (:id, :name, :capacity, :created_at, :updated_at)`,
		playerRow{
			ID:        p.ID,
			Name:      p.Name,
			Capacity:  p.Capacity,
			CreatedAt: toMillis(p.CreatedAt),
			UpdatedAt: toMillis(p.UpdatedAt),
		})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: player %q already exists", domain.ErrValidation, p.Name)
	}
	if err != nil {
		return writeErr("insert player", err)
	}
	return nil
}

func (r *PlayerRepository) Get(ctx context.Context, id string) (*domain.Player, error) {
	var row playerRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get player", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (r *PlayerRepository) GetByName(ctx context.Context, name string) (*domain.Player, error) {
	var row playerRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT `+playerColumns+` FROM players WHERE name = ? COLLATE NOCASE`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get player by name", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (r *PlayerRepository) List(ctx context.Context) ([]domain.Player, error) {
	var rows []playerRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+playerColumns+` FROM players ORDER BY created_at, rowid`); err != nil {
		return nil, storageErr("list players", err)
	}

	result := make([]domain.Player, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}

func (r *PlayerRepository) UpdateCapacity(ctx context.Context, id string, capacity int64, now time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE players SET capacity = ?, updated_at = ? WHERE id = ?`,
		capacity, toMillis(now), id)
	if err != nil {
		return writeErr("update capacity", err)
	}
	return expectOne(res, "player "+id)
}

func (r *PlayerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete player", err)
	}
	return expectOne(res, "player "+id)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
