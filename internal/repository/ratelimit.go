package repository

import (
	"context"
	"time"
)

type rateLimitRow struct {
	IsLocked          bool
	AttemptsRemaining int
	LockedUntil       *time.Time
}

func (r rateLimitRow) state() *RateLimitState {
	return &RateLimitState{
		IsLocked:          r.IsLocked,
		AttemptsRemaining: r.AttemptsRemaining,
		LockedUntil:       r.LockedUntil,
	}
}

func (s *Store) CheckRateLimit(ctx context.Context, identifier string, maxAttempts, lockoutMinutes, windowMinutes int) (*RateLimitState, error) {
	var row rateLimitRow
	err := s.db.WithContext(ctx).
		Raw("SELECT is_locked, attempts_remaining, locked_until FROM check_rate_limit(?, ?, ?, ?)",
			identifier, maxAttempts, lockoutMinutes, windowMinutes).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.state(), nil
}

func (s *Store) RecordLoginAttempt(ctx context.Context, identifier string, success bool, maxAttempts, lockoutMinutes, windowMinutes int) (*RateLimitState, error) {
	var row rateLimitRow
	err := s.db.WithContext(ctx).
		Raw("SELECT is_locked, attempts_remaining, locked_until FROM record_login_attempt(?, ?, ?, ?, ?)",
			identifier, success, maxAttempts, lockoutMinutes, windowMinutes).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.state(), nil
}
