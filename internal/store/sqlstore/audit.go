package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
)

// InsertAudit runs under a savepoint so a failed audit write leaves the
// surrounding unit usable; postgres aborts the whole transaction otherwise.
func (s *Store) InsertAudit(ctx context.Context, entry domain.AuditLog) error {
	entry.CreatedAt = utc(entry.CreatedAt)
	return s.savepoint(ctx, "audit_log_write", func() error {
		_, err := s.exec(ctx, s.sb.Insert("audit_log").
			Columns("user_id", "action", "meta", "created_at").
			Values(entry.UserID, entry.Action, nullIfEmpty(entry.Meta), entry.CreatedAt))
		return err
	})
}

func (s *Store) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	q := s.sb.Select("id", "user_id", "action", "COALESCE(meta, '') AS meta", "created_at").
		From("audit_log").
		OrderBy("created_at DESC", "id DESC").
		Limit(limitOr(filter.Limit, 200))
	if filter.Action != "" {
		q = q.Where(squirrel.Eq{"action": filter.Action})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": filter.From.UTC()})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": filter.To.UTC()})
	}

	entries := make([]domain.AuditLog, 0)
	if err := s.selectAll(ctx, &entries, q); err != nil {
		return nil, err
	}
	return entries, nil
}
