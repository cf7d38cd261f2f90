package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/hostcore/internal/mocks"
	"github.com/example/hostcore/internal/services"
)

func intPtr(v int) *int { return &v }

func TestRateLimitService_Evaluate(t *testing.T) {
	t.Run("check on fresh identifier", func(t *testing.T) {
		svc := services.NewRateLimitService(mocks.NewStore(), zap.NewNop())
		res, err := svc.Evaluate(context.Background(), services.RateLimitRequest{Identifier: "a@b.c", Action: "check"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.IsLocked)
		assert.Equal(t, services.DefaultMaxAttempts, res.AttemptsRemaining)
		assert.Nil(t, res.LockedUntil)
	})

	t.Run("failures lock after max attempts and success clears", func(t *testing.T) {
		store := mocks.NewStore()
		now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		store.Now = func() time.Time { return now }
		svc := services.NewRateLimitService(store, zap.NewNop())

		req := services.RateLimitRequest{Identifier: "a@b.c", Action: "record_failure", MaxAttempts: intPtr(3)}
		for i := 0; i < 2; i++ {
			res, err := svc.Evaluate(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, res.IsLocked)
			assert.Equal(t, 2-i, res.AttemptsRemaining)
		}

		res, err := svc.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.IsLocked)
		require.NotNil(t, res.LockedUntil)
		assert.True(t, res.LockedUntil.Equal(now.Add(15*time.Minute)))

		check, err := svc.Evaluate(context.Background(), services.RateLimitRequest{Identifier: " A@B.C ", Action: "check", MaxAttempts: intPtr(3)})
		require.NoError(t, err)
		assert.True(t, check.IsLocked, "identifier is normalized before lookup")

		_, err = svc.Evaluate(context.Background(), services.RateLimitRequest{Identifier: "a@b.c", Action: "record_success"})
		require.NoError(t, err)

		check, err = svc.Evaluate(context.Background(), services.RateLimitRequest{Identifier: "a@b.c", Action: "check"})
		require.NoError(t, err)
		assert.False(t, check.IsLocked)
		assert.Equal(t, services.DefaultMaxAttempts, check.AttemptsRemaining)
	})

	t.Run("database error fails open", func(t *testing.T) {
		store := mocks.NewStore()
		store.FailOn("CheckRateLimit", errors.New("connection refused"))
		store.FailOn("RecordLoginAttempt", errors.New("connection refused"))
		svc := services.NewRateLimitService(store, zap.NewNop())

		for _, action := range []string{"check", "record_failure", "record_success"} {
			res, err := svc.Evaluate(context.Background(), services.RateLimitRequest{Identifier: "a@b.c", Action: action})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.False(t, res.IsLocked)
			assert.Equal(t, 5, res.AttemptsRemaining)
			assert.Nil(t, res.LockedUntil)
		}
	})

	t.Run("validation", func(t *testing.T) {
		svc := services.NewRateLimitService(mocks.NewStore(), zap.NewNop())
		cases := []services.RateLimitRequest{
			{Identifier: "  ", Action: "check"},
			{Identifier: "a", Action: "reset"},
			{Identifier: "a", Action: "check", MaxAttempts: intPtr(0)},
			{Identifier: "a", Action: "check", LockoutMinutes: intPtr(-1)},
			{Identifier: "a", Action: "check", WindowMinutes: intPtr(0)},
		}
		for _, req := range cases {
			_, err := svc.Evaluate(context.Background(), req)
			requireServiceError(t, err, http.StatusBadRequest)
		}
	})
}
