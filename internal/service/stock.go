package service

import (
	"context"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/metrics"
	"kasirpos/internal/store"
)

// move is a validated ledger entry ready to be applied.
type move struct {
	productID int64
	delta     int64
	reason    string
	refType   string
	refID     *int64
	userID    *int64
	note      string
}

// ApplyMove adds a signed quantity to a product's stock and appends the
// matching ledger entry. Admin only.
func (s *Service) ApplyMove(ctx context.Context, req domain.StockMoveRequest) (domain.StockSnapshot, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockSnapshot{}, err
	}
	if req.ProductID <= 0 {
		return domain.StockSnapshot{}, apperror.Validation("productId is required")
	}

	delta, ok := truncQty(req.QtyChange)
	if !ok || delta == 0 {
		return domain.StockSnapshot{}, apperror.Validation("qtyChange must be non-zero")
	}

	reason, err := parseReason(req.Reason, "")
	if err != nil {
		return domain.StockSnapshot{}, err
	}

	refType := normalizeRefType(req.RefType)
	if delta < 0 && refType == domain.RefTypeManual && strings.TrimSpace(req.Note) == "" {
		return domain.StockSnapshot{}, apperror.Validation("note is required when reducing stock manually")
	}

	return s.applyMove(ctx, move{
		productID: req.ProductID,
		delta:     delta,
		reason:    reason,
		refType:   refType,
		refID:     req.RefID,
		userID:    actorID(ctx),
		note:      strings.TrimSpace(req.Note),
	})
}

// SetStock moves a product to an absolute quantity through the ledger. A
// target equal to the current stock changes nothing.
func (s *Service) SetStock(ctx context.Context, req domain.SetStockRequest) (domain.StockSnapshot, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockSnapshot{}, err
	}
	if req.ProductID <= 0 {
		return domain.StockSnapshot{}, apperror.Validation("productId is required")
	}

	target, ok := truncQty(req.NewQty)
	if !ok {
		return domain.StockSnapshot{}, apperror.Validation("newQty must be a number")
	}
	if target < 0 {
		return domain.StockSnapshot{}, apperror.Validation("newQty must be >= 0")
	}

	reason, err := parseReason(req.Reason, domain.ReasonSetStock)
	if err != nil {
		return domain.StockSnapshot{}, err
	}

	refType := normalizeRefType(req.RefType)
	if refType == domain.RefTypeManual && strings.TrimSpace(req.Note) == "" {
		return domain.StockSnapshot{}, apperror.Validation("note is required for manual stock set")
	}

	var snapshot domain.StockSnapshot
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.repo.GetProduct(ctx, req.ProductID)
		if err != nil {
			return storeErr(err, "Product", req.ProductID)
		}

		delta := target - product.Stock
		if delta == 0 {
			snapshot = snapshotOf(*product, nil)
			return nil
		}

		snapshot, err = s.applyMove(ctx, move{
			productID: req.ProductID,
			delta:     delta,
			reason:    reason,
			refType:   refType,
			refID:     req.RefID,
			userID:    actorID(ctx),
			note:      strings.TrimSpace(req.Note),
		})
		return err
	})
	if err != nil {
		return domain.StockSnapshot{}, engineErr(err)
	}
	return snapshot, nil
}

// applyMove is the single path that changes product stock. It joins the unit
// in ctx when there is one.
func (s *Service) applyMove(ctx context.Context, m move) (domain.StockSnapshot, error) {
	ctx, span := tracer.Start(ctx, "stock.apply_move", trace.WithAttributes(
		attribute.Int64("product.id", m.productID),
		attribute.Int64("stock.delta", m.delta),
		attribute.String("stock.reason", m.reason),
	))
	defer span.End()

	if m.delta == 0 {
		return domain.StockSnapshot{}, apperror.Validation("qtyChange must be non-zero")
	}

	var snapshot domain.StockSnapshot
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.repo.GetProduct(ctx, m.productID)
		if err != nil {
			return storeErr(err, "Product", m.productID)
		}

		if m.delta > 0 && product.Stock > math.MaxInt64-m.delta {
			return apperror.Validation("Stock quantity too large").WithDetail("product_id", product.ID)
		}
		next := product.Stock + m.delta
		if next < 0 {
			return apperror.NegativeStock(product.ID, product.Stock, m.delta)
		}

		if err := s.repo.UpdateProductStock(ctx, product.ID, next); err != nil {
			return storeErr(err, "Product", product.ID)
		}
		recorded, err := s.insertMove(ctx, m)
		if err != nil {
			return err
		}

		product.Stock = next
		snapshot = snapshotOf(*product, recorded)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.StockSnapshot{}, engineErr(err)
	}
	return snapshot, nil
}

// recordMarker appends a zero-quantity ledger entry without touching stock.
// Override checkouts and their voids use it to leave a trace per line.
func (s *Service) recordMarker(ctx context.Context, m move) error {
	m.delta = 0
	return s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetProduct(ctx, m.productID); err != nil {
			return storeErr(err, "Product", m.productID)
		}
		_, err := s.insertMove(ctx, m)
		return err
	})
}

func (s *Service) insertMove(ctx context.Context, m move) (*domain.StockMove, error) {
	recorded, err := s.repo.InsertStockMove(ctx, domain.StockMove{
		ProductID: m.productID,
		QtyChange: m.delta,
		Reason:    m.reason,
		RefType:   m.refType,
		RefID:     m.refID,
		UserID:    m.userID,
		Note:      m.note,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, storeErr(err, "Stock move", m.productID)
	}

	s.logAuditAs(ctx, m.userID, domain.AuditStockMove, map[string]any{
		"productId": m.productID,
		"qtyChange": m.delta,
		"reason":    m.reason,
		"refType":   m.refType,
		"refId":     m.refID,
		"note":      m.note,
	})

	reason := m.reason
	countAfterCommit(ctx, func() { metrics.StockMovesTotal.WithLabelValues(reason).Inc() })
	return recorded, nil
}

func (s *Service) GetStock(ctx context.Context, productID int64) (domain.StockSnapshot, error) {
	if productID <= 0 {
		return domain.StockSnapshot{}, apperror.Validation("productId is required")
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockSnapshot{}, storeErr(err, "Product", productID)
	}
	return snapshotOf(*product, nil), nil
}

// ListLowStock returns products at or below threshold; threshold < 0 selects
// the configured default.
func (s *Service) ListLowStock(ctx context.Context, threshold int64, limit int, offset int) ([]domain.Product, error) {
	if threshold < 0 {
		threshold = s.opts.LowStockThreshold
	}
	if offset < 0 {
		return nil, apperror.Validation("offset must be >= 0")
	}
	products, err := s.repo.ListLowStock(ctx, threshold, clampLimit(limit, 200, 500), offset)
	if err != nil {
		return nil, engineErr(err)
	}
	return products, nil
}

func (s *Service) ListStockMoves(ctx context.Context, filter domain.StockMoveFilter) ([]domain.StockMove, error) {
	filter.Limit = clampLimit(filter.Limit, 200, 500)
	moves, err := s.repo.ListStockMoves(ctx, filter)
	if err != nil {
		return nil, engineErr(err)
	}
	return moves, nil
}

// ReconcileStock replays the ledger and reports every product whose stored
// stock differs from the sum of its moves. An empty result means the ledger
// and the catalog agree.
func (s *Service) ReconcileStock(ctx context.Context) ([]domain.StockDrift, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	drift := make([]domain.StockDrift, 0)
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		totals, err := s.repo.StockMoveTotals(ctx)
		if err != nil {
			return err
		}
		products, err := s.repo.ListProducts(ctx, "", math.MaxInt32)
		if err != nil {
			return err
		}
		for _, p := range products {
			if ledger := totals[p.ID]; ledger != p.Stock {
				drift = append(drift, domain.StockDrift{ProductID: p.ID, Name: p.Name, Stock: p.Stock, Ledger: ledger})
			}
		}
		return nil
	})
	if err != nil {
		return nil, engineErr(err)
	}
	return drift, nil
}

func parseReason(raw string, fallback string) (string, error) {
	reason := domain.NormalizeReason(raw)
	if reason == "" {
		reason = fallback
	}
	if reason == "" {
		return "", apperror.Validation("reason is required")
	}
	if !domain.IsStockReason(reason) {
		return "", apperror.Validationf("Invalid reason: %s", reason)
	}
	return reason, nil
}

func normalizeRefType(raw string) string {
	refType := strings.ToUpper(strings.TrimSpace(raw))
	if refType == "" {
		return domain.RefTypeManual
	}
	return refType
}

func snapshotOf(p domain.Product, m *domain.StockMove) domain.StockSnapshot {
	return domain.StockSnapshot{ProductID: p.ID, Barcode: p.Barcode, Name: p.Name, Stock: p.Stock, Move: m}
}

// countAfterCommit defers a metric update until the unit in ctx commits.
func countAfterCommit(ctx context.Context, fn func()) {
	if u, ok := store.UnitFrom(ctx); ok {
		u.OnCommit(fn)
		return
	}
	fn()
}
