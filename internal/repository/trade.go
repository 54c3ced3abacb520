package repository

import (
	"context"

	"github.com/iSwxkzyEU/sk-trade/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// TradeRepository is the append-only trade ledger. Rows are never updated
// or deleted.
type TradeRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewTradeRepository(q sqlx.ExtContext, logger zerolog.Logger) *TradeRepository {
	return &TradeRepository{q: q, logger: logger}
}

type tradeRow struct {
	ID             string  `db:"id"`
	FromPlayerID   string  `db:"from_player_id"`
	FromPlayerName string  `db:"from_player_name"`
	ToPlayerID     string  `db:"to_player_id"`
	ToPlayerName   string  `db:"to_player_name"`
	Type           string  `db:"resource_type"`
	Amount         float64 `db:"amount"`
	CreatedAt      int64   `db:"created_at"`
}

func (r *TradeRepository) Insert(ctx context.Context, t domain.Trade) error {
	_, err := sqlx.NamedExecContext(ctx, r.q,
		`INSERT INTO trades (id, from_player_id, to_player_id, resource_type, amount, created_at)
		 VALUES (:id, :from_player_id, :to_player_id, :resource_type, :amount, :created_at)`,
		tradeRow{
			ID:           t.ID,
			FromPlayerID: t.FromPlayerID,
			ToPlayerID:   t.ToPlayerID,
			Type:         string(t.Type),
			Amount:       t.Amount,
			CreatedAt:    toMillis(t.CreatedAt),
		})
	if err != nil {
		return writeErr("insert trade", err)
	}
	return nil
}

// List returns the newest trades first. Names of deleted players come back empty.
func (r *TradeRepository) List(ctx context.Context, limit int) ([]domain.Trade, error) {
	var rows []tradeRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT t.id, t.from_player_id, COALESCE(pf.name, '') AS from_player_name,
		        t.to_player_id, COALESCE(pt.name, '') AS to_player_name,
		        t.resource_type, t.amount, t.created_at
		 FROM trades t
		 LEFT JOIN players pf ON pf.id = t.from_player_id
		 LEFT JOIN players pt ON pt.id = t.to_player_id
		 ORDER BY t.created_at DESC, t.rowid DESC
		 LIMIT ?`, limit); err != nil {
		return nil, storageErr("list trades", err)
	}

	result := make([]domain.Trade, len(rows))
	for i, row := range rows {
		result[i] = domain.Trade{
			ID:             row.ID,
			FromPlayerID:   row.FromPlayerID,
			FromPlayerName: row.FromPlayerName,
			ToPlayerID:     row.ToPlayerID,
			ToPlayerName:   row.ToPlayerName,
			Type:           domain.ResourceType(row.Type),
			Amount:         row.Amount,
			CreatedAt:      fromMillis(row.CreatedAt),
		}
	}
	return result, nil
}
