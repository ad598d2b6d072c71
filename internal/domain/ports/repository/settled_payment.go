package repository

import (
	"context"

	"shopee-video-bot/internal/domain/model"
)

// SettledPaymentRepository remembers every granted payment id for good.
// Pending orders expire; this ledger does not.
type SettledPaymentRepository interface {
	// Record claims the payment id. It reports false when the id was already recorded.
	Record(ctx context.Context, tx Tx, p *model.SettledPayment) (bool, error)
	// Get returns domain.ErrNotFound for ids never recorded.
	Get(ctx context.Context, tx Tx, paymentID string) (*model.SettledPayment, error)
	Delete(ctx context.Context, tx Tx, paymentID string) error
}
