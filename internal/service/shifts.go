package service

import (
	"context"
	"errors"
	"strings"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

// OpenShift starts a cash-drawer session for the actor. A user holds at most
// one OPEN shift.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.OpeningCash < 0 {
		return domain.Shift{}, apperror.Validation("openingCash must be >= 0")
	}

	var opened domain.Shift
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetOpenShift(ctx, actor.UserID); err == nil {
			return apperror.Conflict("You already have an open shift")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		shift, err := s.repo.InsertShift(ctx, domain.Shift{
			UserID:      actor.UserID,
			OpeningCash: req.OpeningCash,
			Note:        strings.TrimSpace(req.Note),
			Status:      domain.ShiftStatusOpen,
			OpenedAt:    s.now(),
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperror.Conflict("You already have an open shift")
			}
			return err
		}

		s.logAudit(ctx, domain.AuditShiftOpen, map[string]any{
			"shiftId":     shift.ID,
			"openingCash": shift.OpeningCash,
		})
		opened = *shift
		return nil
	})
	if err != nil {
		return domain.Shift{}, engineErr(err)
	}
	return opened, nil
}

// CloseShift closes the actor's OPEN shift with the counted drawer cash.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.ClosingCash < 0 {
		return domain.Shift{}, apperror.Validation("closingCash must be >= 0")
	}

	var closed domain.Shift
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		shift, err := s.repo.GetOpenShift(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.NotFoundMessage("No open shift found")
			}
			return err
		}

		now := s.now()
		closingCash := req.ClosingCash
		shift.ClosingCash = &closingCash
		shift.Note = firstNonEmpty(strings.TrimSpace(req.Note), shift.Note)
		shift.Status = domain.ShiftStatusClosed
		shift.ClosedAt = &now
		if err := s.repo.UpdateShift(ctx, *shift); err != nil {
			return storeErr(err, "Shift", shift.ID)
		}

		s.logAudit(ctx, domain.AuditShiftClose, map[string]any{
			"shiftId":     shift.ID,
			"openingCash": shift.OpeningCash,
			"closingCash": closingCash,
		})
		closed = *shift
		return nil
	})
	if err != nil {
		return domain.Shift{}, engineErr(err)
	}
	return closed, nil
}

// MyOpenShift returns the actor's OPEN shift, or nil.
func (s *Service) MyOpenShift(ctx context.Context) (*domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	shift, err := s.repo.GetOpenShift(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, engineErr(err)
	}
	return shift, nil
}

func (s *Service) ListShifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	shifts, err := s.repo.ListShifts(ctx, clampLimit(limit, 200, 500))
	if err != nil {
		return nil, engineErr(err)
	}
	return shifts, nil
}
