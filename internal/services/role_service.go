package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
)

const roleCacheTTL = 5 * time.Minute

// Actor is the authenticated caller with its resolved role.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// CanAccess reports whether the actor owns the resource or is an admin.
func (a Actor) CanAccess(ownerID uuid.UUID) bool {
	return a.IsAdmin() || (a.UserID != uuid.Nil && a.UserID == ownerID)
}

type roleCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisRoleCache struct {
	client *redis.Client
}

func (c redisRoleCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c redisRoleCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c redisRoleCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RoleService resolves a user's role from user_roles, cached in redis when available.
type RoleService struct {
	users repository.UserRepository
	cache roleCache
	log   *zap.Logger
}

// NewRoleService builds a RoleService. rdb may be nil.
func NewRoleService(users repository.UserRepository, rdb *redis.Client, log *zap.Logger) *RoleService {
	s := &RoleService{users: users, log: log}
	if rdb != nil {
		s.cache = redisRoleCache{client: rdb}
	}
	return s
}

func roleCacheKey(userID uuid.UUID) string {
	return "hostcore:role:" + userID.String()
}

// ResolveRole returns the user's effective role. admin wins over any other grant.
// On error the returned role is still "user" so callers can fail open.
func (s *RoleService) ResolveRole(ctx context.Context, userID uuid.UUID) (string, error) {
	key := roleCacheKey(userID)
	if s.cache != nil {
		if role, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.Warn("role cache read failed", zap.Error(err))
		} else if ok {
			return role, nil
		}
	}

	roles, err := s.users.FindRoles(ctx, userID)
	if err != nil {
		return models.RoleUser, fmt.Errorf("lookup roles for %s: %w", userID, err)
	}

	role := models.RoleUser
	for _, r := range roles {
		if r == models.RoleAdmin {
			role = models.RoleAdmin
			break
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, role, roleCacheTTL); err != nil {
			s.log.Warn("role cache write failed", zap.Error(err))
		}
	}
	return role, nil
}

// Actor resolves the caller. Lookup failures yield a non-admin actor.
func (s *RoleService) Actor(ctx context.Context, userID uuid.UUID) Actor {
	role, err := s.ResolveRole(ctx, userID)
	if err != nil {
		s.log.Error("role lookup failed, treating caller as user", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return Actor{UserID: userID, Role: role}
}

// IsAdmin is a convenience for middleware.
func (s *RoleService) IsAdmin(ctx context.Context, userID uuid.UUID) bool {
	return s.Actor(ctx, userID).IsAdmin()
}

// Grant adds a role and drops the cached value.
func (s *RoleService) Grant(ctx context.Context, userID uuid.UUID, role string) error {
	if err := s.users.GrantRole(ctx, userID, role); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, roleCacheKey(userID)); err != nil {
			s.log.Warn("role cache invalidate failed", zap.Error(err))
		}
	}
	return nil
}

// GrantByEmail grants role to the account registered under email.
func (s *RoleService) GrantByEmail(ctx context.Context, email, role string) (*models.User, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, validationError(fmt.Sprintf("unknown role %q", role))
	}
	user, err := s.users.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("user not found")
	}
	if err != nil {
		return nil, internalError("failed to load user", err)
	}
	if err := s.Grant(ctx, user.ID, role); err != nil {
		return nil, internalError("failed to grant role", err)
	}
	return user, nil
}
