package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
)

var _ repository.SettledPaymentRepository = (*SettledPaymentRepo)(nil)

type SettledPaymentRepo struct {
	pool *pgxpool.Pool
}

func NewSettledPaymentRepo(pool *pgxpool.Pool) *SettledPaymentRepo {
	return &SettledPaymentRepo{pool: pool}
}

// Record inserts the id unless it exists. A concurrent insert of the same id
// blocks until the other transaction ends, so only one caller sees true.
func (r *SettledPaymentRepo) Record(ctx context.Context, tx repository.Tx, p *model.SettledPayment) (bool, error) {
	const q = `
INSERT INTO settled_payments (payment_id, user_id, granted_days, settled_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (payment_id) DO NOTHING;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	tag, err := ex.Exec(ctx, q, p.PaymentID, p.UserID, p.GrantedDays, p.SettledAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SettledPaymentRepo) Get(ctx context.Context, tx repository.Tx, paymentID string) (*model.SettledPayment, error) {
	const q = `SELECT payment_id, user_id, granted_days, settled_at FROM settled_payments WHERE payment_id=$1`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	var p model.SettledPayment
	err = ex.QueryRow(ctx, q, paymentID).Scan(&p.PaymentID, &p.UserID, &p.GrantedDays, &p.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	p.SettledAt = p.SettledAt.UTC()
	return &p, nil
}

func (r *SettledPaymentRepo) Delete(ctx context.Context, tx repository.Tx, paymentID string) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `DELETE FROM settled_payments WHERE payment_id=$1`, paymentID)
	return err
}
