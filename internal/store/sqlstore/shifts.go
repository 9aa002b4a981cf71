package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

var shiftColumns = []string{
	"id", "user_id", "opening_cash", "closing_cash",
	"COALESCE(note, '') AS note", "status", "opened_at", "closed_at",
}

func (s *Store) GetOpenShift(ctx context.Context, userID int64) (*domain.Shift, error) {
	var shift domain.Shift
	q := s.sb.Select(shiftColumns...).
		From("shifts").
		Where(squirrel.Eq{"user_id": userID, "status": domain.ShiftStatusOpen}).
		OrderBy("id DESC").
		Limit(1)
	if err := s.get(ctx, &shift, s.forUpdate(ctx, q)); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (s *Store) InsertShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	shift.OpenedAt = utc(shift.OpenedAt)
	id, err := s.insert(ctx, s.sb.Insert("shifts").
		Columns("user_id", "opening_cash", "closing_cash", "note", "status", "opened_at", "closed_at").
		Values(shift.UserID, shift.OpeningCash, shift.ClosingCash, nullIfEmpty(shift.Note), shift.Status, shift.OpenedAt, shift.ClosedAt))
	if err != nil {
		return nil, err
	}
	shift.ID = id
	return &shift, nil
}

func (s *Store) UpdateShift(ctx context.Context, shift domain.Shift) error {
	affected, err := s.exec(ctx, s.sb.Update("shifts").
		Set("opening_cash", shift.OpeningCash).
		Set("closing_cash", shift.ClosingCash).
		Set("note", nullIfEmpty(shift.Note)).
		Set("status", shift.Status).
		Set("closed_at", shift.ClosedAt).
		Where(squirrel.Eq{"id": shift.ID}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListShifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	shifts := make([]domain.Shift, 0)
	q := s.sb.Select(shiftColumns...).From("shifts").OrderBy("id DESC").Limit(limitOr(limit, 200))
	if err := s.selectAll(ctx, &shifts, q); err != nil {
		return nil, err
	}
	return shifts, nil
}
