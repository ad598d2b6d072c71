package usecase

import (
	"context"
	"fmt"
	"sync"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/ports/repository"
)

var _ repository.UserLocker = (*inProcessLocker)(nil)

// inProcessLocker is a keyed mutex for single-instance deployments.
// Entries are dropped once nobody holds or waits for them.
type inProcessLocker struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	slot chan struct{}
	refs int
}

func NewInProcessLocker() *inProcessLocker {
	return &inProcessLocker{locks: make(map[int64]*userLock)}
}

func (l *inProcessLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{slot: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, fmt.Errorf("%w: %w", domain.ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.slot
			l.release(userID, ul)
		})
	}, nil
}

func (l *inProcessLocker) release(userID int64, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

// held is used by tests.
func (l *inProcessLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
