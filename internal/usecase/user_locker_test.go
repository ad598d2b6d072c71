//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopee-video-bot/internal/domain"
)

func TestInProcessLocker(t *testing.T) {
	t.Run("should serialize the same user", func(t *testing.T) {
		l := NewInProcessLocker()
		unlock, err := l.Lock(context.Background(), 1)
		if err != nil {
			t.Fatalf("first lock failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := l.Lock(ctx, 1); !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Fatalf("expected ErrLockNotAcquired, got %v", err)
		}

		unlock()
		unlock() // idempotent
		again, err := l.Lock(context.Background(), 1)
		if err != nil {
			t.Fatalf("expected the lock to be free, got %v", err)
		}
		again()
	})

	t.Run("should not block other users", func(t *testing.T) {
		l := NewInProcessLocker()
		a, _ := l.Lock(context.Background(), 1)
		defer a()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b, err := l.Lock(ctx, 2)
		if err != nil {
			t.Fatalf("expected user 2 to lock, got %v", err)
		}
		b()
	})

	t.Run("should forget idle users", func(t *testing.T) {
		l := NewInProcessLocker()
		u, _ := l.Lock(context.Background(), 5)
		u()
		if n := l.held(); n != 0 {
			t.Errorf("expected no entries, got %d", n)
		}
	})
}
