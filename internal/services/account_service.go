package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/utils"
)

type RegisterAccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"fullName" validate:"required"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Session is a signed-in user and its bearer token.
type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// AccountService registers users and issues tokens, guarding login with the rate limiter.
type AccountService struct {
	users     repository.UserRepository
	limiter   *RateLimitService
	jwtSecret string
	tokenTTL  time.Duration
	log       *zap.Logger
}

func NewAccountService(users repository.UserRepository, limiter *RateLimitService, jwtSecret string, tokenTTL time.Duration, log *zap.Logger) *AccountService {
	return &AccountService{
		users:     users,
		limiter:   limiter,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		log:       log,
	}
}

// Register creates an account with the user role.
func (s *AccountService) Register(ctx context.Context, req RegisterAccountRequest) (*Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, internalError("failed to hash password", err)
	}

	user := &models.User{
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflictError(CodeEmailTaken, "email is already registered")
		}
		return nil, internalError("failed to create user", err)
	}

	if err := s.users.GrantRole(ctx, user.ID, models.RoleUser); err != nil {
		s.log.Warn("failed to grant default role", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	return s.session(user)
}

// Login checks credentials. A locked identifier is refused before the password is checked.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}

	check, err := s.limiter.Evaluate(ctx, RateLimitRequest{Identifier: req.Email, Action: RateLimitActionCheck})
	if err != nil {
		return nil, err
	}
	if check.IsLocked {
		return nil, lockedError(check.Message, map[string]any{"lockedUntil": check.LockedUntil})
	}

	user, err := s.users.FindUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("failed to load user", err)
	}

	if user == nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		failure, _ := s.limiter.Evaluate(ctx, RateLimitRequest{Identifier: req.Email, Action: RateLimitActionRecordFailure})
		fields := map[string]any{}
		if failure != nil {
			fields["attemptsRemaining"] = failure.AttemptsRemaining
			if failure.IsLocked {
				fields["lockedUntil"] = failure.LockedUntil
			}
		}
		se := unauthorizedError("invalid credentials")
		se.Fields = fields
		return nil, se
	}

	if _, err := s.limiter.Evaluate(ctx, RateLimitRequest{Identifier: req.Email, Action: RateLimitActionRecordSuccess}); err != nil {
		s.log.Warn("failed to reset login attempts", zap.Error(err))
	}

	return s.session(user)
}

func (s *AccountService) session(user *models.User) (*Session, error) {
	token, err := utils.GenerateToken(s.jwtSecret, user.ID, s.tokenTTL)
	if err != nil {
		return nil, internalError("failed to generate token", err)
	}
	return &Session{User: user, Token: token}, nil
}
