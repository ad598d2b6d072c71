package repository

import "context"

// UserLocker serializes work for a single user. The returned func releases the lock.
type UserLocker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}
