package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/apperror"
	"kasirpos/internal/cache"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/store"
)

var tracer = otel.Tracer("kasirpos/service")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// RequireOpenShift rejects checkout for cashiers without an OPEN shift.
	RequireOpenShift  bool
	LowStockThreshold int64
	ReportCacheTTL    time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type Service struct {
	repo        store.Repository
	reportCache cache.ReportCache
	opts        Options
	now         func() time.Time
}

func New(repo store.Repository, reportCache cache.ReportCache, opts Options) *Service {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 5
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = time.Minute
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	return &Service{
		repo:        repo,
		reportCache: reportCache,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, apperror.Unauthenticated("", "Not authenticated")
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, apperror.Forbidden("Admin only")
	}
	return actor, nil
}

// actorID is the acting user id for ledger rows; nil for system actions.
func actorID(ctx context.Context) *int64 {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return nil
	}
	id := actor.UserID
	return &id
}

// logAudit never fails the caller. Inside a unit the row commits or rolls
// back with the operation it documents.
func (s *Service) logAudit(ctx context.Context, action string, meta any) {
	s.logAuditAs(ctx, actorID(ctx), action, meta)
}

func (s *Service) logAuditAs(ctx context.Context, userID *int64, action string, meta any) {
	payload, err := json.Marshal(meta)
	if err != nil {
		logger.Warn(ctx, "audit meta encode failed", "action", action, "error", err)
		payload = nil
	}

	if err := s.repo.InsertAudit(ctx, domain.AuditLog{
		UserID:    userID,
		Action:    action,
		Meta:      string(payload),
		CreatedAt: s.now(),
	}); err != nil {
		logger.Warn(ctx, "audit write failed", "action", action, "error", err)
	}
}

// invalidateReports drops cached report projections once the unit in ctx
// commits, or immediately when there is no unit.
func (s *Service) invalidateReports(ctx context.Context) {
	invalidate := func() {
		if err := s.reportCache.Invalidate(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "report cache invalidation failed", "error", err)
		}
	}
	if u, ok := store.UnitFrom(ctx); ok {
		u.OnCommit(invalidate)
		return
	}
	invalidate()
}

// storeErr translates store sentinels into engine error kinds.
func storeErr(err error, entity string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperror.NotFound(entity, id)
	case errors.Is(err, store.ErrDuplicate):
		return apperror.Conflict(entity + " already exists")
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Internal(err)
}

// engineErr passes engine errors through and wraps anything else.
func engineErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFoundMessage("Not found").WithCause(err)
	}
	return apperror.Internal(err)
}

// truncQty converts a client quantity to integer units. ok is false for NaN
// and infinities.
func truncQty(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	t := math.Trunc(v)
	if t > math.MaxInt64/2 || t < math.MinInt64/2 {
		return 0, false
	}
	return int64(t), true
}

// mulAmount and addAmount combine non-negative minor-unit amounts and
// quantities. ok is false when the result does not fit in an int64.
func mulAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

func addAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func clampLimit(limit int, fallback int, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
