package model

import (
	"time"

	"shopee-video-bot/internal/domain"
)

// UnlimitedDownloads is reported as DownloadsLeft for premium users.
const UnlimitedDownloads = 9999

// DefaultDailyLimit is the free-tier quota per calendar day.
const DefaultDailyLimit = 5

// Today truncates t to its UTC calendar day.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays moves a calendar day forward (or back) by n days.
func AddDays(day time.Time, n int) time.Time {
	return Today(day).AddDate(0, 0, n)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return Today(a).Equal(Today(b))
}

// UserEntitlement is the per-user quota and premium state.
// DownloadsToday only counts when LastResetDate is today.
type UserEntitlement struct {
	UserID         int64
	DownloadsToday int
	LastResetDate  time.Time  // UTC day
	PremiumExpiry  *time.Time // UTC day; nil if never purchased
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUserEntitlement returns a zeroed record stamped with today.
func NewUserEntitlement(userID int64, now time.Time) (*UserEntitlement, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &UserEntitlement{
		UserID:        userID,
		LastResetDate: Today(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Rollover resets the counter when the stored day is not today.
// It reports whether the record changed.
func (e *UserEntitlement) Rollover(today time.Time) bool {
	today = Today(today)
	if e.LastResetDate.Equal(today) {
		return false
	}
	e.DownloadsToday = 0
	e.LastResetDate = today
	return true
}

// IsPremium is computed from the expiry on every call, never cached.
func (e *UserEntitlement) IsPremium(today time.Time) bool {
	if e.PremiumExpiry == nil {
		return false
	}
	return !e.PremiumExpiry.Before(Today(today))
}

// Allowance evaluates the record as of today. Callers are expected to Rollover first.
func (e *UserEntitlement) Allowance(today time.Time, dailyLimit int) Allowance {
	used := e.DownloadsToday
	if !e.LastResetDate.Equal(Today(today)) {
		used = 0
	}
	a := Allowance{
		IsPremium:  e.IsPremium(today),
		DailyLimit: dailyLimit,
	}
	if e.PremiumExpiry != nil {
		exp := *e.PremiumExpiry
		a.PremiumExpiry = &exp
	}
	if a.IsPremium {
		a.Allowed = true
		a.DownloadsLeft = UnlimitedDownloads
		return a
	}
	a.Allowed = used < dailyLimit
	a.DownloadsLeft = dailyLimit - used
	if a.DownloadsLeft < 0 {
		a.DownloadsLeft = 0
	}
	return a
}

// RecordDownload counts one successful delivery on today.
func (e *UserEntitlement) RecordDownload(today time.Time) {
	e.Rollover(today)
	e.DownloadsToday++
	e.LastResetDate = Today(today)
}

// ExtendPremium stacks days onto a running premium, or starts fresh from today
// when there is none or it has lapsed. Returns the new expiry.
func (e *UserEntitlement) ExtendPremium(today time.Time, days int) time.Time {
	base := Today(today)
	if e.PremiumExpiry != nil && !e.PremiumExpiry.Before(base) {
		base = Today(*e.PremiumExpiry)
	}
	exp := base.AddDate(0, 0, days)
	e.PremiumExpiry = &exp
	return exp
}

// Allowance is the allow/deny decision plus remaining free-tier count at a point in time.
type Allowance struct {
	Allowed       bool
	DownloadsLeft int
	IsPremium     bool
	PremiumExpiry *time.Time
	DailyLimit    int
}
