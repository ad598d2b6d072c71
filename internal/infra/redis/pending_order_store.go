// File: internal/infra/redis/pending_order_store.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
)

var _ repository.PendingOrderRepository = (*PendingOrderStore)(nil)

const pendingIndexKey = "orders:pending"

// PendingOrderStore keeps in-flight payments in redis so they survive a
// restart and are shared between replicas. Orders expire after ttl.
type PendingOrderStore struct {
	cli RedisClient
	ttl time.Duration
}

func NewPendingOrderStore(cli RedisClient, ttl time.Duration) *PendingOrderStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PendingOrderStore{cli: cli, ttl: ttl}
}

func orderKey(id string) string   { return "order:" + id }
func settledKey(id string) string { return "order:" + id + ":settled" }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: pending order %s: %w", domain.ErrStoreIO, op, err)
}

func (s *PendingOrderStore) Put(ctx context.Context, order *model.PendingOrder) error {
	if order == nil || order.PaymentID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	id := order.PaymentID
	if err := s.cli.Set(ctx, orderKey(id), data, s.ttl); err != nil {
		return storeErr("put", err)
	}
	if order.Settled {
		if err := s.cli.Set(ctx, settledKey(id), "1", s.ttl); err != nil {
			return storeErr("put", err)
		}
		_ = s.cli.ZRem(ctx, pendingIndexKey, id)
		return nil
	}
	// re-putting an order reopens it
	if err := s.cli.Del(ctx, settledKey(id)); err != nil {
		return storeErr("put", err)
	}
	if err := s.cli.ZAdd(ctx, pendingIndexKey, float64(order.CreatedAt.Unix()), id); err != nil {
		return storeErr("put", err)
	}
	return nil
}

func (s *PendingOrderStore) Take(ctx context.Context, paymentID string) (*model.PendingOrder, error) {
	order, err := s.load(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		settled, serr := s.isSettled(ctx, paymentID)
		if serr != nil {
			return nil, serr
		}
		if settled {
			return nil, domain.ErrAlreadySettled
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	// SETNX on the marker is the single point where an order is consumed.
	won, err := s.cli.SetNX(ctx, settledKey(paymentID), "1", s.ttl)
	if err != nil {
		return nil, storeErr("take", err)
	}
	if !won {
		return nil, domain.ErrAlreadySettled
	}
	_ = s.cli.ZRem(ctx, pendingIndexKey, paymentID)
	return order, nil
}

func (s *PendingOrderStore) Peek(ctx context.Context, paymentID string) (*model.PendingOrder, error) {
	order, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	settled, err := s.isSettled(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	order.Settled = order.Settled || settled
	return order, nil
}

func (s *PendingOrderStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.PendingOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.cli.ZRangeByScore(ctx, pendingIndexKey, float64(olderThan.Unix()), limit)
	if err != nil {
		return nil, storeErr("list", err)
	}
	out := make([]*model.PendingOrder, 0, len(ids))
	for _, id := range ids {
		o, err := s.Peek(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// expired order, drop it from the index
			_ = s.cli.ZRem(ctx, pendingIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if o.Settled {
			_ = s.cli.ZRem(ctx, pendingIndexKey, id)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *PendingOrderStore) load(ctx context.Context, paymentID string) (*model.PendingOrder, error) {
	if paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	raw, err := s.cli.Get(ctx, orderKey(paymentID))
	if errors.Is(err, Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	var o model.PendingOrder
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, storeErr("decode", err)
	}
	return &o, nil
}

func (s *PendingOrderStore) isSettled(ctx context.Context, paymentID string) (bool, error) {
	_, err := s.cli.Get(ctx, settledKey(paymentID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, Nil):
		return false, nil
	default:
		return false, storeErr("get", err)
	}
}
