// Package quota enforces the per-user daily message allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DateLayout is the calendar-day key format of a quota record.
const DateLayout = "2006-01-02"

// Unlimited is the remaining count reported for privileged accounts.
const Unlimited Remaining = -1

var (
	ErrNotAllowed       = errors.New("quota: reservation was not allowed")
	ErrAlreadyCommitted = errors.New("quota: reservation already committed")
	ErrUserRequired     = errors.New("quota: user id is required")
)

// Remaining is the number of turns left today, or Unlimited.
type Remaining int

func (r Remaining) IsUnlimited() bool { return r == Unlimited }

// Ledger persists per-(user, date) counters. Increment operations must be a
// single atomic upsert at the storage layer.
type Ledger interface {
	Count(ctx context.Context, userID, date string) (int, error)
	Increment(ctx context.Context, userID, date string) (int, error)
	RecordInterest(ctx context.Context, userID, date string) (int, error)
}

// Account is the slice of a user the quota policy needs.
type Account struct {
	UserID     string
	Privileged bool
}

type Service struct {
	ledger Ledger
	limit  int
	loc    *time.Location
	now    func() time.Time
}

func NewService(ledger Ledger, dailyLimit int, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{ledger: ledger, limit: dailyLimit, loc: loc, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Limit() int { return s.limit }

// Today returns the quota date key for the current instant.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// Reservation is the outcome of a quota check for one turn. An allowed
// reservation may be committed exactly once.
type Reservation struct {
	Allowed      bool
	CurrentCount int
	Remaining    Remaining

	service   *Service
	account   Account
	date      string
	mu        sync.Mutex
	committed bool
}

func (r *Reservation) Date() string { return r.date }

// CheckAndReserve reads the day's usage and decides whether another turn is
// allowed. Privileged accounts are always allowed and never read the ledger.
func (s *Service) CheckAndReserve(ctx context.Context, account Account, date string) (*Reservation, error) {
	if account.UserID == "" {
		return nil, ErrUserRequired
	}

	res := &Reservation{service: s, account: account, date: date}

	if account.Privileged {
		res.Allowed = true
		res.Remaining = Unlimited
		return res, nil
	}

	count, err := s.ledger.Count(ctx, account.UserID, date)
	if err != nil {
		return nil, fmt.Errorf("quota: read usage: %w", err)
	}

	res.CurrentCount = count
	res.Allowed = count < s.limit
	res.Remaining = s.remainingFor(count)
	return res, nil
}

// Commit records the turn. Later calls fail with ErrAlreadyCommitted and do
// not touch the ledger.
func (r *Reservation) Commit(ctx context.Context) (Remaining, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Allowed {
		return 0, ErrNotAllowed
	}
	if r.committed {
		return r.Remaining, ErrAlreadyCommitted
	}

	count, err := r.service.ledger.Increment(ctx, r.account.UserID, r.date)
	if err != nil {
		return 0, fmt.Errorf("quota: commit: %w", err)
	}
	r.committed = true
	r.CurrentCount = count

	if r.account.Privileged {
		r.Remaining = Unlimited
	} else {
		r.Remaining = r.service.remainingFor(count)
	}
	return r.Remaining, nil
}

// Remaining reports what is left for account on date without reserving.
func (s *Service) Remaining(ctx context.Context, account Account, date string) (Remaining, error) {
	if account.Privileged {
		return Unlimited, nil
	}
	count, err := s.ledger.Count(ctx, account.UserID, date)
	if err != nil {
		return 0, fmt.Errorf("quota: read usage: %w", err)
	}
	return s.remainingFor(count), nil
}

// RecordInterest bumps the premium-interest counter for the day.
func (s *Service) RecordInterest(ctx context.Context, userID, date string) (int, error) {
	if userID == "" {
		return 0, ErrUserRequired
	}
	clicks, err := s.ledger.RecordInterest(ctx, userID, date)
	if err != nil {
		return 0, fmt.Errorf("quota: record interest: %w", err)
	}
	return clicks, nil
}

func (s *Service) remainingFor(count int) Remaining {
	left := s.limit - count
	if left < 0 {
		left = 0
	}
	return Remaining(left)
}
