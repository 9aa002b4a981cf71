package sqlstore

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

var userColumns = []string{
	"id", "username", "role", "password_hash", "is_active",
	"must_change_password", "failed_attempts", "locked_until", "created_at",
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := s.get(ctx, &u, s.sb.Select(userColumns...).From("users").Where(squirrel.Eq{"id": id})); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.get(ctx, &u, s.sb.Select(userColumns...).From("users").Where(squirrel.Eq{"username": username})); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) InsertUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.CreatedAt = utc(user.CreatedAt)
	id, err := s.insert(ctx, s.sb.Insert("users").
		Columns(userColumns[1:]...).
		Values(user.Username, user.Role, user.PasswordHash, user.Active, user.MustChangePassword, user.FailedAttempts, user.LockedUntil, user.CreatedAt))
	if err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) error {
	affected, err := s.exec(ctx, s.sb.Update("users").
		Set("username", user.Username).
		Set("role", user.Role).
		Set("password_hash", user.PasswordHash).
		Set("is_active", user.Active).
		Set("must_change_password", user.MustChangePassword).
		Set("failed_attempts", user.FailedAttempts).
		Set("locked_until", user.LockedUntil).
		Where(squirrel.Eq{"id": user.ID}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	q := s.sb.Select(userColumns...).From("users").OrderBy("id DESC").Limit(limitOr(limit, 200))
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where(s.like("username", query))
	}

	users := make([]domain.User, 0)
	if err := s.selectAll(ctx, &users, q); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.get(ctx, &count, s.sb.Select("COUNT(*)").From("users")); err != nil {
		return 0, err
	}
	return count, nil
}
