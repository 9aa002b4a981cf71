package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/store"
)

const (
	minPasswordLen   = 4
	defaultAdminName = "admin"
)

func (s *Service) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, strings.TrimSpace(query), clampLimit(limit, 200, 500))
	if err != nil {
		return nil, engineErr(err)
	}
	return users, nil
}

// CurrentUser returns the acting user's account.
func (s *Service) CurrentUser(ctx context.Context) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return domain.User{}, storeErr(err, "User", actor.UserID)
	}
	return *user, nil
}

// CreateUser adds an account that must change its password on first login.
func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return domain.User{}, apperror.Validation("Username is required")
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}

	var created domain.User
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.InsertUser(ctx, domain.User{
			Username:           username,
			Role:               domain.NormalizeRole(req.Role),
			PasswordHash:       hash,
			Active:             true,
			MustChangePassword: true,
			CreatedAt:          s.now(),
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperror.Duplicate(apperror.CodeDuplicateUsername, "Username already exists")
			}
			return err
		}
		s.logAudit(ctx, domain.AuditUserCreate, map[string]any{"userId": user.ID, "username": user.Username, "role": user.Role})
		created = *user
		return nil
	})
	if err != nil {
		return domain.User{}, engineErr(err)
	}
	return created, nil
}

// ResetPassword sets a new password, clears any lockout and forces a change
// on next login.
func (s *Service) ResetPassword(ctx context.Context, userID int64, req domain.PasswordResetRequest) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	hash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return domain.User{}, err
	}

	return s.updateUser(ctx, userID, func(ctx context.Context, u *domain.User) error {
		u.PasswordHash = hash
		u.MustChangePassword = true
		u.FailedAttempts = 0
		u.LockedUntil = nil
		s.logAudit(ctx, domain.AuditUserReset, map[string]any{"userId": u.ID})
		return nil
	})
}

func (s *Service) SetUserActive(ctx context.Context, userID int64, active bool) (domain.User, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if userID == actor.UserID && !active {
		return domain.User{}, apperror.Conflict("You cannot deactivate your own account")
	}

	return s.updateUser(ctx, userID, func(ctx context.Context, u *domain.User) error {
		u.Active = active
		s.logAudit(ctx, domain.AuditUserActive, map[string]any{"userId": u.ID, "active": active})
		return nil
	})
}

// ChangeOwnPassword verifies the current password before replacing it.
func (s *Service) ChangeOwnPassword(ctx context.Context, req domain.PasswordChangeRequest) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if req.CurrentPassword == "" {
		return domain.User{}, apperror.Validation("currentPassword is required")
	}
	if req.CurrentPassword == req.NewPassword {
		return domain.User{}, apperror.Validation("New password must differ from the current one")
	}
	hash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return domain.User{}, err
	}

	return s.updateUser(ctx, actor.UserID, func(_ context.Context, u *domain.User) error {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)) != nil {
			return apperror.Unauthenticated(apperror.CodeInvalidCredentials, "Current password is incorrect")
		}
		u.PasswordHash = hash
		u.MustChangePassword = false
		return nil
	})
}

// EnsureDefaultAdmin seeds the admin account when no user exists yet. It
// reports whether an account was created.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, password string) (bool, error) {
	seeded := false
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		count, err := s.repo.CountUsers(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		hash, err := s.hashPassword(password)
		if err != nil {
			return err
		}
		admin, err := s.repo.InsertUser(ctx, domain.User{
			Username:           defaultAdminName,
			Role:               domain.RoleAdmin,
			PasswordHash:       hash,
			Active:             true,
			MustChangePassword: true,
			CreatedAt:          s.now(),
		})
		if err != nil {
			return err
		}
		s.logAuditAs(ctx, &admin.ID, domain.AuditSeedAdmin, map[string]any{"username": admin.Username})
		seeded = true
		return nil
	})
	if err != nil {
		return false, engineErr(err)
	}
	if seeded {
		logger.Info(ctx, "default admin account created", "username", defaultAdminName)
	}
	return seeded, nil
}

// updateUser loads, mutates and saves one user inside a unit. mutate receives
// the unit ctx; any write it makes must go through that ctx.
func (s *Service) updateUser(ctx context.Context, userID int64, mutate func(ctx context.Context, u *domain.User) error) (domain.User, error) {
	if userID <= 0 {
		return domain.User{}, apperror.Validation("userId is required")
	}

	var saved domain.User
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.GetUser(ctx, userID)
		if err != nil {
			return storeErr(err, "User", userID)
		}
		if err := mutate(ctx, user); err != nil {
			return err
		}
		if err := s.repo.UpdateUser(ctx, *user); err != nil {
			return storeErr(err, "User", userID)
		}
		saved = *user
		return nil
	})
	if err != nil {
		return domain.User{}, engineErr(err)
	}
	return saved, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", apperror.Validation("Password is required")
	}
	if len(password) < minPasswordLen {
		return "", apperror.Validationf("Password too short (min %d)", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return "", apperror.Internal(err)
	}
	return string(hash), nil
}
