package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/metrics"
	"kasirpos/internal/store"
)

const (
	maxLoginAttempts = 5
	lockDuration     = 10 * time.Minute
)

// Authenticate checks a username and password. Failures are counted per
// account; the fifth consecutive failure locks the account for ten minutes.
// Counter updates commit even though the call returns an error.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, apperror.Validation("username and password are required")
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, loginFailure(apperror.Unauthenticated(apperror.CodeInvalidCredentials, "Invalid username or password"))
		}
		return domain.User{}, engineErr(err)
	}
	if !user.Active {
		return domain.User{}, loginFailure(apperror.Forbidden("Account is inactive"))
	}

	now := s.now()
	reset := user.FailedAttempts != 0 || user.LockedUntil != nil
	if user.LockedUntil != nil {
		if remaining := user.LockedUntil.Sub(now); remaining > 0 {
			secs := int64(math.Ceil(remaining.Seconds()))
			return domain.User{}, loginFailure(apperror.Unauthenticated(apperror.CodeAccountLocked, fmt.Sprintf("Account locked. Try again in %ds", secs)))
		}
		// an expired lock starts a fresh run of attempts
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, loginFailure(s.recordFailedLogin(ctx, *user, now))
	}

	if reset {
		user.FailedAttempts = 0
		user.LockedUntil = nil
		if err := s.repo.UpdateUser(ctx, *user); err != nil {
			return domain.User{}, storeErr(err, "User", user.ID)
		}
	}
	s.logAuditAs(ctx, &user.ID, domain.AuditAuthLogin, map[string]any{"username": user.Username})
	return *user, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, user domain.User, now time.Time) *apperror.Error {
	user.FailedAttempts++
	locked := user.FailedAttempts >= maxLoginAttempts
	if locked {
		until := now.Add(lockDuration)
		user.LockedUntil = &until
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		logger.Warn(ctx, "failed login counter update failed", "user_id", user.ID, "error", err)
	}

	if !locked {
		return apperror.Unauthenticated(apperror.CodeInvalidCredentials, "Invalid username or password")
	}
	s.logAuditAs(ctx, &user.ID, domain.AuditAuthLocked, map[string]any{
		"attempts": user.FailedAttempts,
		"until":    user.LockedUntil,
	})
	return apperror.Unauthenticated(apperror.CodeAccountLocked,
		fmt.Sprintf("Too many attempts. Locked for %d minutes", int(lockDuration/time.Minute)))
}

func loginFailure(err *apperror.Error) error {
	code := err.Code
	if code == "" {
		code = string(err.Kind)
	}
	metrics.LoginFailuresTotal.WithLabelValues(code).Inc()
	return err
}
