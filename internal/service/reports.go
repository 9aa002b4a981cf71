package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
)

// Reports read committed PAID sales only. Results are cached per filter; the
// cache is invalidated after every committed checkout and void.

func (s *Service) ReportSummary(ctx context.Context, filter domain.ReportFilter) (domain.ReportSummary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReportSummary{}, err
	}
	if err := checkRange(filter.From, filter.To); err != nil {
		return domain.ReportSummary{}, err
	}
	filter.Limit = 0

	var summary domain.ReportSummary
	err := s.cached(ctx, reportKey("summary", filter), &summary, func() (any, error) {
		return s.repo.ReportSummary(ctx, filter)
	})
	return summary, err
}

func (s *Service) ReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := checkRange(filter.From, filter.To); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit, 200, 500)

	sales := make([]domain.Sale, 0)
	err := s.cached(ctx, reportKey("sales", filter), &sales, func() (any, error) {
		rows, err := s.repo.ReportSales(ctx, filter)
		if err != nil {
			return nil, err
		}
		return withPaymentsAll(ctx, rows), nil
	})
	return sales, err
}

func (s *Service) ReportTopProducts(ctx context.Context, filter domain.ReportFilter) ([]domain.TopProduct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := checkRange(filter.From, filter.To); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit, 30, 200)

	top := make([]domain.TopProduct, 0)
	err := s.cached(ctx, reportKey("top", filter), &top, func() (any, error) {
		return s.repo.ReportTopProducts(ctx, filter)
	})
	return top, err
}

func (s *Service) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := checkRange(filter.From, filter.To); err != nil {
		return nil, err
	}
	filter.Action = strings.ToUpper(strings.TrimSpace(filter.Action))
	filter.Limit = clampLimit(filter.Limit, 200, 1000)

	entries, err := s.repo.ListAudit(ctx, filter)
	if err != nil {
		return nil, engineErr(err)
	}
	return entries, nil
}

// cached fills dst from the report cache, or runs load and stores its result
// in the slot the lookup resolved. A commit that invalidates the cache while
// load runs leaves that result in a retired generation. Cache failures
// degrade to a direct read.
func (s *Service) cached(ctx context.Context, key string, dst any, load func() (any, error)) error {
	slot, hit, err := s.reportCache.Get(ctx, key, dst)
	if err != nil {
		logger.Warn(ctx, "report cache read failed", "key", key, "error", err)
	}
	if hit {
		return nil
	}

	value, err := load()
	if err != nil {
		return engineErr(err)
	}
	if err := assign(dst, value); err != nil {
		return apperror.Internal(err)
	}
	if err := s.reportCache.Set(ctx, slot, value, s.opts.ReportCacheTTL); err != nil {
		logger.Warn(ctx, "report cache write failed", "key", key, "error", err)
	}
	return nil
}

func assign(dst any, value any) error {
	switch d := dst.(type) {
	case *domain.ReportSummary:
		if v, ok := value.(domain.ReportSummary); ok {
			*d = v
			return nil
		}
	case *[]domain.Sale:
		if v, ok := value.([]domain.Sale); ok {
			*d = v
			return nil
		}
	case *[]domain.TopProduct:
		if v, ok := value.([]domain.TopProduct); ok {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("report cache: cannot assign %T to %T", value, dst)
}

func reportKey(kind string, f domain.ReportFilter) string {
	user := "all"
	if f.UserID != nil {
		user = fmt.Sprint(*f.UserID)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", kind, keyTime(f.From), keyTime(f.To), user, f.Limit)
}

func keyTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprint(t.UTC().Unix())
}

func checkRange(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return apperror.Validation("to must not be before from")
	}
	return nil
}
