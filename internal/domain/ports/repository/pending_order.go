package repository

import (
	"context"
	"time"

	"shopee-video-bot/internal/domain/model"
)

// PendingOrderRepository is a bounded store of in-flight payments keyed by payment id.
type PendingOrderRepository interface {
	Put(ctx context.Context, order *model.PendingOrder) error
	// Take consumes the order and leaves a settled marker behind.
	// Unknown ids yield domain.ErrNotFound, consumed ones domain.ErrAlreadySettled.
	Take(ctx context.Context, paymentID string) (*model.PendingOrder, error)
	Peek(ctx context.Context, paymentID string) (*model.PendingOrder, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.PendingOrder, error)
}
