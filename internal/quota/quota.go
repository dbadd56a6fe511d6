// Package quota enforces the monthly call budget of the remote listing service.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when the monthly call budget has been spent.
var ErrExhausted = errors.New("monthly api quota exhausted")

const monthLayout = "2006-01"

// Limiter decides whether one more remote call may be issued.
type Limiter interface {
	TryConsume(ctx context.Context) (bool, error)
}

// Usage is the persisted counter for one calendar month.
type Usage struct {
	Month string `json:"month"`
	Calls int    `json:"calls"`
}

// Store persists Usage. Update must run fn as one atomic read-modify-write; the
// value fn leaves behind is saved only when fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(u *Usage) error) error
}

// MonthlyLimiter allows up to limit calls per wall-clock month.
type MonthlyLimiter struct {
	store Store
	limit int
	now   func() time.Time
}

// Option customises a MonthlyLimiter.
type Option func(*MonthlyLimiter)

// WithClock overrides the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *MonthlyLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMonthlyLimiter wires a limiter over the given store.
func NewMonthlyLimiter(store Store, limit int, opts ...Option) *MonthlyLimiter {
	l := &MonthlyLimiter{store: store, limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Limiter = (*MonthlyLimiter)(nil)

// errRefused aborts the store transaction without persisting anything.
var errRefused = errors.New("quota refused")

// TryConsume spends one call if the budget allows it.
func (l *MonthlyLimiter) TryConsume(ctx context.Context) (bool, error) {
	month := l.now().Format(monthLayout)
	err := l.store.Update(ctx, func(u *Usage) error {
		if u.Month != month {
			u.Month = month
			u.Calls = 0
		}
		if u.Calls >= l.limit {
			return errRefused
		}
		u.Calls++
		return nil
	})
	if errors.Is(err, errRefused) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume quota: %w", err)
	}
	return true, nil
}

// Status reports the usage for the current month without spending a call.
func (l *MonthlyLimiter) Status(ctx context.Context) (Usage, int, error) {
	month := l.now().Format(monthLayout)
	var current Usage
	err := l.store.Update(ctx, func(u *Usage) error {
		if u.Month != month {
			u.Month = month
			u.Calls = 0
		}
		current = *u
		return errRefused
	})
	if err != nil && !errors.Is(err, errRefused) {
		return Usage{}, 0, fmt.Errorf("read quota: %w", err)
	}
	remaining := l.limit - current.Calls
	if remaining < 0 {
		remaining = 0
	}
	return current, remaining, nil
}
