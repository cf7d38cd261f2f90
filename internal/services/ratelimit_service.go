package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/hostcore/internal/metrics"
	"github.com/example/hostcore/internal/repository"
)

const (
	RateLimitActionCheck         = "check"
	RateLimitActionRecordFailure = "record_failure"
	RateLimitActionRecordSuccess = "record_success"

	DefaultMaxAttempts    = 5
	DefaultLockoutMinutes = 15
	DefaultWindowMinutes  = 15
)

// RateLimitRequest is the rate limiter input. Nil overrides use the defaults.
type RateLimitRequest struct {
	Identifier     string `json:"identifier"`
	Action         string `json:"action"`
	MaxAttempts    *int   `json:"maxAttempts"`
	LockoutMinutes *int   `json:"lockoutMinutes"`
	WindowMinutes  *int   `json:"windowMinutes"`
}

// RateLimitResult is always returned with HTTP 200.
type RateLimitResult struct {
	Success           bool       `json:"success"`
	IsLocked          bool       `json:"isLocked"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	LockedUntil       *time.Time `json:"lockedUntil"`
	Message           string     `json:"message"`
}

// RateLimitService normalizes input and delegates to the database procedures.
// Database failures never lock anyone out.
type RateLimitService struct {
	repo repository.RateLimitRepository
	log  *zap.Logger
}

func NewRateLimitService(repo repository.RateLimitRepository, log *zap.Logger) *RateLimitService {
	return &RateLimitService{repo: repo, log: log}
}

type rateLimitParams struct {
	identifier     string
	action         string
	maxAttempts    int
	lockoutMinutes int
	windowMinutes  int
}

func normalizeRateLimitRequest(req RateLimitRequest) (rateLimitParams, error) {
	p := rateLimitParams{
		identifier:     strings.ToLower(strings.TrimSpace(req.Identifier)),
		action:         strings.TrimSpace(req.Action),
		maxAttempts:    DefaultMaxAttempts,
		lockoutMinutes: DefaultLockoutMinutes,
		windowMinutes:  DefaultWindowMinutes,
	}

	if p.identifier == "" {
		return p, validationError("identifier is required")
	}

	switch p.action {
	case RateLimitActionCheck, RateLimitActionRecordFailure, RateLimitActionRecordSuccess:
	default:
		return p, validationError("action must be one of: check, record_failure, record_success")
	}

	for _, o := range []struct {
		name  string
		value *int
		dst   *int
	}{
		{"maxAttempts", req.MaxAttempts, &p.maxAttempts},
		{"lockoutMinutes", req.LockoutMinutes, &p.lockoutMinutes},
		{"windowMinutes", req.WindowMinutes, &p.windowMinutes},
	} {
		if o.value == nil {
			continue
		}
		if *o.value <= 0 {
			return p, validationError(fmt.Sprintf("%s must be a positive integer", o.name))
		}
		*o.dst = *o.value
	}

	return p, nil
}

// Evaluate runs one rate limiter action. The only error it returns is a validation error.
func (s *RateLimitService) Evaluate(ctx context.Context, req RateLimitRequest) (*RateLimitResult, error) {
	p, err := normalizeRateLimitRequest(req)
	if err != nil {
		metrics.RateLimitDecisionsTotal.WithLabelValues("invalid", "rejected").Inc()
		return nil, err
	}

	var state *repository.RateLimitState
	switch p.action {
	case RateLimitActionCheck:
		state, err = s.repo.CheckRateLimit(ctx, p.identifier, p.maxAttempts, p.lockoutMinutes, p.windowMinutes)
	case RateLimitActionRecordFailure:
		state, err = s.repo.RecordLoginAttempt(ctx, p.identifier, false, p.maxAttempts, p.lockoutMinutes, p.windowMinutes)
	case RateLimitActionRecordSuccess:
		state, err = s.repo.RecordLoginAttempt(ctx, p.identifier, true, p.maxAttempts, p.lockoutMinutes, p.windowMinutes)
	}

	if err != nil || state == nil {
		s.log.Error("rate limit procedure failed, failing open",
			zap.String("action", p.action),
			zap.Error(err),
		)
		metrics.RateLimitDecisionsTotal.WithLabelValues(p.action, "fail_open").Inc()
		return &RateLimitResult{
			Success:           true,
			IsLocked:          false,
			AttemptsRemaining: p.maxAttempts,
			Message:           "rate limit check unavailable",
		}, nil
	}

	outcome := "allowed"
	if state.IsLocked {
		outcome = "locked"
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(p.action, outcome).Inc()

	return &RateLimitResult{
		Success:           true,
		IsLocked:          state.IsLocked,
		AttemptsRemaining: state.AttemptsRemaining,
		LockedUntil:       state.LockedUntil,
		Message:           rateLimitMessage(p.action, state),
	}, nil
}

func rateLimitMessage(action string, state *repository.RateLimitState) string {
	if state.IsLocked {
		if state.LockedUntil != nil {
			return fmt.Sprintf("Too many failed attempts. Try again after %s.", state.LockedUntil.UTC().Format(time.RFC3339))
		}
		return "Too many failed attempts. Try again later."
	}
	switch action {
	case RateLimitActionRecordSuccess:
		return "Attempts reset"
	case RateLimitActionRecordFailure:
		return fmt.Sprintf("Failed attempt recorded. %d attempts remaining.", state.AttemptsRemaining)
	default:
		return fmt.Sprintf("%d attempts remaining", state.AttemptsRemaining)
	}
}
