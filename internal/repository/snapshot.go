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

// SnapshotRepository owns the (amount, as_of) rows. Every row carries a
// version that is bumped on each write; CompareAndSwap refuses to write over
// a version the caller did not read.
type SnapshotRepository struct {
	q      sqlx.ExtContext
	logger zerolog.Logger
}

func NewSnapshotRepository(q sqlx.ExtContext, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{q: q, logger: logger}
}

type snapshotRow struct {
	SiteID  string  `db:"site_id"`
	Type    string  `db:"resource_type"`
	Amount  float64 `db:"amount"`
	AsOf    int64   `db:"as_of"`
	Version int64   `db:"version"`
}

func (r snapshotRow) toDomain() domain.Snapshot {
	return domain.Snapshot{
		SiteID:  r.SiteID,
		Type:    domain.ResourceType(r.Type),
		Amount:  r.Amount,
		AsOf:    fromMillis(r.AsOf),
		Version: r.Version,
	}
}

const snapshotColumns = `site_id, resource_type, amount, as_of, version`

// Get reports ok=false when no row exists; callers fall back to domain.ZeroSnapshot.
func (r *SnapshotRepository) Get(ctx context.Context, siteID string, t domain.ResourceType) (domain.Snapshot, bool, error) {
	var row snapshotRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE site_id = ? AND resource_type = ?`, siteID, string(t))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, storageErr("get snapshot", err)
	}
	return row.toDomain(), true, nil
}

// CompareAndSwap writes s if the stored version still equals expected
// (0 = row must not exist yet) and returns the new version.
func (r *SnapshotRepository) CompareAndSwap(ctx context.Context, s domain.Snapshot, expected int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = r.q.ExecContext(ctx,
			`INSERT INTO snapshots (site_id, resource_type, amount, as_of, version)
			 VALUES (?, ?, ?, ?, 1)
			 ON CONFLICT (site_id, resource_type) DO NOTHING`,
			s.SiteID, string(s.Type), s.Amount, toMillis(s.AsOf))
	} else {
		res, err = r.q.ExecContext(ctx,
			`UPDATE snapshots SET amount = ?, as_of = ?, version = version + 1
			 WHERE site_id = ? AND resource_type = ? AND version = ?`,
			s.Amount, toMillis(s.AsOf), s.SiteID, string(s.Type), expected)
	}
	if err != nil {
		return 0, writeErr("swap snapshot", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("rows affected", err)
	}
	if n == 0 {
		r.logger.Debug().
			Str("site_id", s.SiteID).
			Str("type", string(s.Type)).
			Int64("expected_version", expected).
			Msg("snapshot version moved")
		return 0, fmt.Errorf("snapshot %s/%s: %w", s.SiteID, s.Type, domain.ErrConflict)
	}
	return expected + 1, nil
}

// Overwrite writes s whatever the stored version is.
func (r *SnapshotRepository) Overwrite(ctx context.Context, s domain.Snapshot) (int64, error) {
	var version int64
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO snapshots (site_id, resource_type, amount, as_of, version)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT (site_id, resource_type) DO UPDATE SET
		   amount = excluded.amount,
		   as_of = excluded.as_of,
		   version = snapshots.version + 1
		 RETURNING version`,
		s.SiteID, string(s.Type), s.Amount, toMillis(s.AsOf)).Scan(&version)
	if err != nil {
		return 0, writeErr("overwrite snapshot", err)
	}
	return version, nil
}

func (r *SnapshotRepository) ListBySite(ctx context.Context, siteID string) ([]domain.Snapshot, error) {
	var rows []snapshotRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE site_id = ?`, siteID); err != nil {
		return nil, storageErr("list snapshots", err)
	}
	return toSnapshots(rows), nil
}

func (r *SnapshotRepository) ListByPlayer(ctx context.Context, playerID string) ([]domain.Snapshot, error) {
	var rows []snapshotRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT sn.site_id, sn.resource_type, sn.amount, sn.as_of, sn.version
		 FROM snapshots sn JOIN sites s ON s.id = sn.site_id
		 WHERE s.player_id = ?`, playerID); err != nil {
		return nil, storageErr("list player snapshots", err)
	}
	return toSnapshots(rows), nil
}

// InitMissing creates {0, now} rows for every resource type the site lacks.
func (r *SnapshotRepository) InitMissing(ctx context.Context, siteID string, now time.Time) (int64, error) {
	var created int64
	for _, t := range domain.ResourceTypes {
		res, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO snapshots (site_id, resource_type, amount, as_of, version) VALUES (?, ?, 0, ?, 1)`,
			siteID, string(t), toMillis(now))
		if err != nil {
			return created, writeErr("init snapshot", err)
		}
		n, _ := res.RowsAffected()
		created += n
	}
	return created, nil
}

func toSnapshots(rows []snapshotRow) []domain.Snapshot {
	result := make([]domain.Snapshot, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result
}
