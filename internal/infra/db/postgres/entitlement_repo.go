package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
)

var _ repository.EntitlementRepository = (*EntitlementRepo)(nil)

type EntitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

const entitlementColumns = `user_id, downloads_today, last_reset_date, premium_expiry, created_at, updated_at`

// Get locks the row (FOR UPDATE) when called inside a transaction.
func (r *EntitlementRepo) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.UserEntitlement, error) {
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id=$1`
	if _, inTx := tx.(pgx.Tx); inTx {
		q += ` FOR UPDATE`
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}

	var e model.UserEntitlement
	err = ex.QueryRow(ctx, q, userID).Scan(
		&e.UserID, &e.DownloadsToday, &e.LastResetDate, &e.PremiumExpiry, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	normalizeDates(&e)
	return &e, nil
}

func (r *EntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.UserEntitlement) error {
	const q = `
INSERT INTO entitlements (` + entitlementColumns + `)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id) DO UPDATE SET
  downloads_today=EXCLUDED.downloads_today,
  last_reset_date=EXCLUDED.last_reset_date,
  premium_expiry=EXCLUDED.premium_expiry,
  updated_at=EXCLUDED.updated_at;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, e.UserID, e.DownloadsToday, e.LastResetDate, e.PremiumExpiry, e.CreatedAt, e.UpdatedAt)
	return err
}

// CompareAndSwap with a zero expectedUpdatedAt inserts only when the row is absent.
func (r *EntitlementRepo) CompareAndSwap(ctx context.Context, tx repository.Tx, expectedUpdatedAt time.Time, e *model.UserEntitlement) (bool, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	if expectedUpdatedAt.IsZero() {
		const ins = `
INSERT INTO entitlements (` + entitlementColumns + `)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id) DO NOTHING;`
		tag, err := ex.Exec(ctx, ins, e.UserID, e.DownloadsToday, e.LastResetDate, e.PremiumExpiry, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	const upd = `
UPDATE entitlements
   SET downloads_today=$2, last_reset_date=$3, premium_expiry=$4, updated_at=$5
 WHERE user_id=$1 AND updated_at=$6;`
	tag, err := ex.Exec(ctx, upd, e.UserID, e.DownloadsToday, e.LastResetDate, e.PremiumExpiry, e.UpdatedAt, expectedUpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EntitlementRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := ex.QueryRow(ctx, `SELECT COUNT(*) FROM entitlements`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *EntitlementRepo) CountPremium(ctx context.Context, tx repository.Tx, today time.Time) (int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int
	err = ex.QueryRow(ctx, `SELECT COUNT(*) FROM entitlements WHERE premium_expiry >= $1`, model.Today(today)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DATE columns come back in UTC already; timestamps are pinned to UTC too.
func normalizeDates(e *model.UserEntitlement) {
	e.LastResetDate = model.Today(e.LastResetDate)
	if e.PremiumExpiry != nil {
		d := model.Today(*e.PremiumExpiry)
		e.PremiumExpiry = &d
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}
