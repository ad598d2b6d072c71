package repository

import (
	"context"
	"time"

	"shopee-video-bot/internal/domain/model"
)

// EntitlementRepository persists one UserEntitlement row per user.
type EntitlementRepository interface {
	// Get returns domain.ErrNotFound when the user has no record yet.
	// Inside a transaction the row is locked until commit.
	Get(ctx context.Context, tx Tx, userID int64) (*model.UserEntitlement, error)
	Upsert(ctx context.Context, tx Tx, e *model.UserEntitlement) error
	// CompareAndSwap writes e only if the stored row still carries expectedUpdatedAt.
	CompareAndSwap(ctx context.Context, tx Tx, expectedUpdatedAt time.Time, e *model.UserEntitlement) (bool, error)
	Count(ctx context.Context, tx Tx) (int, error)
	CountPremium(ctx context.Context, tx Tx, today time.Time) (int, error)
}
