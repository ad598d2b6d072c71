// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/ports/repository"

	"github.com/google/uuid"
)

var _ repository.UserLocker = (*RedisLocker)(nil)

const lockPollInterval = 50 * time.Millisecond

// RedisLocker serializes requests of one user across bot replicas.
type RedisLocker struct {
	cli RedisClient
	ttl time.Duration
}

func NewLocker(c RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{cli: c, ttl: ttl}
}

func UserLockKey(userID int64) string {
	return fmt.Sprintf("lock:user:%d", userID)
}

// Lock polls until the key is free or ctx ends. The ttl bounds how long a
// crashed holder can block the user.
func (l *RedisLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := UserLockKey(userID)
	token := uuid.NewString()
	for {
		ok, err := l.cli.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLockNotAcquired, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrLockNotAcquired, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request ctx may already be cancelled
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = l.cli.DelIfEquals(uctx, key, token)
		})
	}, nil
}
