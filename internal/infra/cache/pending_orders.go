// Package cache holds in-process stores used when redis is not configured.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
	"shopee-video-bot/internal/infra/metrics"
)

var _ repository.PendingOrderRepository = (*PendingOrders)(nil)

type orderEntry struct {
	order      model.PendingOrder
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

// PendingOrders is a bounded LRU of in-flight payments with a TTL.
// Consumed orders stay behind as settled tombstones until they expire or
// are evicted, so a repeated confirmation is recognized.
type PendingOrders struct {
	mu       sync.Mutex
	entries  map[string]*orderEntry
	capacity int
	ttl      time.Duration
	sequence int64
	now      func() time.Time
}

func NewPendingOrders(capacity int, ttl time.Duration) *PendingOrders {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PendingOrders{
		entries:  make(map[string]*orderEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *PendingOrders) Put(_ context.Context, order *model.PendingOrder) error {
	if order == nil || order.PaymentID == "" {
		return domain.ErrInvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.live(order.PaymentID, now); !exists && len(c.entries) >= c.capacity {
		c.evictLocked(now)
	}
	c.sequence++
	c.entries[order.PaymentID] = &orderEntry{
		order:      *order,
		expiration: now.Add(c.ttl),
		accessTime: now,
		sequence:   c.sequence,
	}
	return nil
}

func (c *PendingOrders) Take(_ context.Context, paymentID string) (*model.PendingOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(paymentID, c.now())
	if !ok {
		return nil, domain.ErrNotFound
	}
	if e.order.Settled {
		return nil, domain.ErrAlreadySettled
	}
	out := e.order
	e.order.Settled = true
	return &out, nil
}

func (c *PendingOrders) Peek(_ context.Context, paymentID string) (*model.PendingOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.live(paymentID, now)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.accessTime = now
	out := e.order
	return &out, nil
}

func (c *PendingOrders) ListPending(_ context.Context, olderThan time.Time, limit int) ([]*model.PendingOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []*model.PendingOrder
	for id := range c.entries {
		e, ok := c.live(id, now)
		if !ok || e.order.Settled || e.order.CreatedAt.After(olderThan) {
			continue
		}
		o := e.order
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len counts entries including tombstones.
func (c *PendingOrders) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live returns the entry if present and not expired, dropping it otherwise.
func (c *PendingOrders) live(id string, now time.Time) (*orderEntry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if now.After(e.expiration) {
		delete(c.entries, id)
		return nil, false
	}
	return e, true
}

// evictLocked prefers expired entries, then tombstones, then the least
// recently used open order.
func (c *PendingOrders) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, id)
			metrics.IncCacheEviction("pending_orders", "expired")
			return
		}
	}
	var victim string
	var oldest *orderEntry
	for id, e := range c.entries {
		if oldest == nil || older(e, oldest) {
			victim, oldest = id, e
		}
	}
	if victim != "" {
		reason := "capacity"
		if oldest.order.Settled {
			reason = "tombstone"
		}
		delete(c.entries, victim)
		metrics.IncCacheEviction("pending_orders", reason)
	}
}

func older(a, b *orderEntry) bool {
	if a.order.Settled != b.order.Settled {
		return a.order.Settled
	}
	if !a.accessTime.Equal(b.accessTime) {
		return a.accessTime.Before(b.accessTime)
	}
	return a.sequence < b.sequence
}
