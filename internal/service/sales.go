package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/logger"
	"kasirpos/internal/metrics"
	"kasirpos/internal/store"
)

type cartLine struct {
	productID int64
	qty       int64
	price     *int64
}

// saleLine is a cart line priced against the catalog.
type saleLine struct {
	product   domain.Product
	qty       int64
	price     int64
	lineTotal int64
}

type paymentSummary struct {
	payments []domain.Payment
	paid     int64
	method   string
	encoded  string
}

// HoldSale saves a cart as a HELD sale. Stock is not reserved.
func (s *Service) HoldSale(ctx context.Context, req domain.HoldSaleRequest) (domain.SaleBundle, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleBundle{}, err
	}
	cart, err := normCart(req.Items)
	if err != nil {
		return domain.SaleBundle{}, err
	}

	var bundle domain.SaleBundle
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		lines, err := s.buildLines(ctx, cart)
		if err != nil {
			return err
		}

		total, err := totalOf(lines)
		if err != nil {
			return err
		}

		userID := actor.UserID
		sale, err := s.repo.InsertSale(ctx, domain.Sale{
			UserID:        &userID,
			Total:         total,
			Status:        domain.SaleStatusHeld,
			CustomerName:  strings.TrimSpace(req.Customer.Name),
			CustomerPhone: strings.TrimSpace(req.Customer.Phone),
			Note:          strings.TrimSpace(req.Note),
			CreatedAt:     s.now(),
		})
		if err != nil {
			return storeErr(err, "Sale", nil)
		}

		items, err := s.repo.ReplaceSaleItems(ctx, sale.ID, saleItemsOf(lines))
		if err != nil {
			return storeErr(err, "Sale", sale.ID)
		}
		bundle = domain.SaleBundle{Sale: *sale, Items: items}
		return nil
	})
	if err != nil {
		return domain.SaleBundle{}, engineErr(err)
	}
	return bundle, nil
}

// Checkout pays for a cart, or converts a HELD sale to PAID. The sale row,
// its items and every stock deduction commit together or not at all.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sale.checkout", trace.WithAttributes(
		attribute.Bool("sale.override", req.StockOverride),
		attribute.Bool("sale.from_held", req.SaleID != nil),
	))
	defer span.End()

	result, err := s.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		metrics.CheckoutFailuresTotal.WithLabelValues(string(apperror.KindOf(err))).Inc()
		return domain.CheckoutResult{}, err
	}

	mode := "direct"
	switch {
	case req.StockOverride:
		mode = "override"
	case req.SaleID != nil:
		mode = "held"
	}
	metrics.CheckoutsTotal.WithLabelValues(mode).Inc()
	metrics.CheckoutDuration.Observe(time.Since(started).Seconds())
	return result, nil
}

func (s *Service) checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	if req.StockOverride && !actor.IsAdmin() {
		return domain.CheckoutResult{}, apperror.Forbidden("Stock override requires ADMIN")
	}
	if len(req.Items) == 0 && req.SaleID == nil {
		return domain.CheckoutResult{}, apperror.Validation("Provide cartItems or saleId")
	}
	if len(req.Payments) == 0 {
		return domain.CheckoutResult{}, apperror.Validation("Payment is required")
	}

	var result domain.CheckoutResult
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if s.opts.RequireOpenShift {
			if _, err := s.repo.GetOpenShift(ctx, actor.UserID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return apperror.Conflict("Open a shift before checkout")
				}
				return err
			}
		}

		var held *domain.Sale
		items := req.Items
		if req.SaleID != nil {
			sale, err := s.repo.GetSale(ctx, *req.SaleID)
			if err != nil {
				return storeErr(err, "Sale", *req.SaleID)
			}
			if sale.Status != domain.SaleStatusHeld {
				return apperror.Conflict("Only HELD sales can be checked out")
			}
			held = sale
			if len(items) == 0 {
				if items, err = s.heldCart(ctx, sale.ID); err != nil {
					return err
				}
			}
		}

		cart, err := normCart(items)
		if err != nil {
			return err
		}
		lines, err := s.buildLines(ctx, cart)
		if err != nil {
			return err
		}
		total, err := totalOf(lines)
		if err != nil {
			return err
		}

		var overrideUserID *int64
		overrideReason := strings.TrimSpace(req.OverrideReason)
		if req.StockOverride {
			if overrideReason == "" {
				return apperror.Validation("overrideReason is required for stockOverride")
			}
			overrideUserID, err = s.overrideApprover(ctx, actor, req.OverrideUserID)
			if err != nil {
				return err
			}
		} else if err := checkStock(lines); err != nil {
			return err
		}

		payment, err := summarizePayments(req.Payments)
		if err != nil {
			return err
		}
		change := payment.paid - total
		if change < 0 {
			return apperror.InsufficientPayment(total, payment.paid)
		}

		userID := actor.UserID
		sale := domain.Sale{
			UserID:         &userID,
			Total:          total,
			PaymentMethod:  payment.method,
			Paid:           payment.paid,
			Change:         change,
			Status:         domain.SaleStatusPaid,
			CustomerName:   strings.TrimSpace(req.Customer.Name),
			CustomerPhone:  strings.TrimSpace(req.Customer.Phone),
			Note:           strings.TrimSpace(req.Note),
			PaymentsJSON:   payment.encoded,
			StockOverride:  req.StockOverride,
			OverrideUserID: overrideUserID,
			OverrideReason: overrideReason,
			CreatedAt:      s.now(),
		}

		if held != nil {
			sale.ID = held.ID
			sale.CreatedAt = held.CreatedAt
			if held.UserID != nil {
				sale.UserID = held.UserID
			}
			sale.CustomerName = firstNonEmpty(sale.CustomerName, held.CustomerName)
			sale.CustomerPhone = firstNonEmpty(sale.CustomerPhone, held.CustomerPhone)
			sale.Note = firstNonEmpty(sale.Note, held.Note)
			if err := s.repo.UpdateSale(ctx, sale); err != nil {
				return storeErr(err, "Sale", sale.ID)
			}
		} else {
			created, err := s.repo.InsertSale(ctx, sale)
			if err != nil {
				return storeErr(err, "Sale", nil)
			}
			sale = *created
		}

		saved, err := s.repo.ReplaceSaleItems(ctx, sale.ID, saleItemsOf(lines))
		if err != nil {
			return storeErr(err, "Sale", sale.ID)
		}

		saleID := sale.ID
		for _, l := range lines {
			m := move{
				productID: l.product.ID,
				refType:   domain.RefTypeSale,
				refID:     &saleID,
				userID:    &userID,
			}
			if req.StockOverride {
				m.reason = domain.ReasonStockOverride
				m.note = overrideReason
				err = s.recordMarker(ctx, m)
			} else {
				m.reason = domain.ReasonSale
				m.delta = -l.qty
				_, err = s.applyMove(ctx, m)
			}
			if err != nil {
				return err
			}
		}

		s.invalidateReports(ctx)

		sale.Payments = payment.payments
		result = domain.CheckoutResult{
			SaleID:        sale.ID,
			Total:         total,
			Paid:          payment.paid,
			Change:        change,
			PaymentMethod: payment.method,
			Sale:          sale,
			Items:         saved,
		}
		return nil
	})
	if err != nil {
		return domain.CheckoutResult{}, engineErr(err)
	}

	logger.Debug(ctx, "checkout committed", "sale_id", result.SaleID, "total", result.Total, "override", req.StockOverride)
	return result, nil
}

func (s *Service) heldCart(ctx context.Context, saleID int64) ([]domain.CartItem, error) {
	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return nil, storeErr(err, "Sale", saleID)
	}
	// prices are re-read from the catalog, never taken from the held rows
	cart := make([]domain.CartItem, 0, len(items))
	for _, it := range items {
		cart = append(cart, domain.CartItem{ProductID: it.ProductID, Qty: float64(it.Qty)})
	}
	return cart, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.SaleBundle, error) {
	if saleID <= 0 {
		return domain.SaleBundle{}, apperror.Validation("saleId is required")
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.SaleBundle{}, storeErr(err, "Sale", saleID)
	}
	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return domain.SaleBundle{}, engineErr(err)
	}
	return domain.SaleBundle{Sale: withPayments(ctx, *sale), Items: items}, nil
}

// ListHeldSales lists the actor's held sales. Admins may pass another user
// id; nil lists their own.
func (s *Service) ListHeldSales(ctx context.Context, userID *int64, limit int) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if userID == nil || !actor.IsAdmin() {
		id := actor.UserID
		userID = &id
	}
	sales, err := s.repo.ListHeldSales(ctx, userID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, engineErr(err)
	}
	return withPaymentsAll(ctx, sales), nil
}

func (s *Service) ListRecentSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.SaleStatusHeld, domain.SaleStatusPaid, domain.SaleStatusVoid:
	default:
		return nil, apperror.Validationf("Invalid status: %s", filter.Status)
	}
	filter.Limit = clampLimit(filter.Limit, 100, 500)

	sales, err := s.repo.ListRecentSales(ctx, filter)
	if err != nil {
		return nil, engineErr(err)
	}
	return withPaymentsAll(ctx, sales), nil
}

// VoidSale discards a HELD sale. Held sales never deducted stock, so nothing
// is restocked.
func (s *Service) VoidSale(ctx context.Context, saleID int64) error {
	if _, err := requireActor(ctx); err != nil {
		return err
	}
	if saleID <= 0 {
		return apperror.Validation("saleId is required")
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		sale, err := s.repo.GetSale(ctx, saleID)
		if err != nil {
			return storeErr(err, "Sale", saleID)
		}
		if sale.Status != domain.SaleStatusHeld {
			return apperror.Conflict("Only HELD sales can be voided")
		}
		sale.Status = domain.SaleStatusVoid
		if err := s.repo.UpdateSale(ctx, *sale); err != nil {
			return storeErr(err, "Sale", saleID)
		}
		countAfterCommit(ctx, func() { metrics.VoidsTotal.WithLabelValues("held").Inc() })
		return nil
	})
	return engineErr(err)
}

// VoidPaidSale reverses a PAID sale: each line is restocked with a RETURN
// move, or gets a MOVE marker when the sale was an override that never
// deducted stock. Admin only.
func (s *Service) VoidPaidSale(ctx context.Context, req domain.VoidPaidRequest) (domain.SaleBundle, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.SaleBundle{}, err
	}
	if req.SaleID <= 0 {
		return domain.SaleBundle{}, apperror.Validation("saleId is required")
	}
	note := strings.TrimSpace(req.Note)

	ctx, span := tracer.Start(ctx, "sale.void_paid", trace.WithAttributes(attribute.Int64("sale.id", req.SaleID)))
	defer span.End()

	var bundle domain.SaleBundle
	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		sale, err := s.repo.GetSale(ctx, req.SaleID)
		if err != nil {
			return storeErr(err, "Sale", req.SaleID)
		}
		if sale.Status != domain.SaleStatusPaid {
			return apperror.Conflict("Only PAID sales can be voided")
		}

		sale.Status = domain.SaleStatusVoid
		if err := s.repo.UpdateSale(ctx, *sale); err != nil {
			return storeErr(err, "Sale", sale.ID)
		}

		items, err := s.repo.ListSaleItems(ctx, sale.ID)
		if err != nil {
			return err
		}

		userID := actor.UserID
		saleID := sale.ID
		for _, it := range items {
			m := move{
				productID: it.ProductID,
				refType:   domain.RefTypeVoid,
				refID:     &saleID,
				userID:    &userID,
			}
			if sale.StockOverride {
				m.reason = domain.ReasonMove
				m.note = firstNonEmpty(note, "void override sale")
				err = s.recordMarker(ctx, m)
			} else {
				m.reason = domain.ReasonReturn
				m.delta = it.Qty
				m.note = firstNonEmpty(note, "void paid sale")
				_, err = s.applyMove(ctx, m)
			}
			if err != nil {
				return err
			}
		}

		s.logAudit(ctx, domain.AuditVoidSale, map[string]any{"saleId": sale.ID, "note": note})
		s.invalidateReports(ctx)
		countAfterCommit(ctx, func() { metrics.VoidsTotal.WithLabelValues("paid").Inc() })

		bundle = domain.SaleBundle{Sale: withPayments(ctx, *sale), Items: items}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.SaleBundle{}, engineErr(err)
	}
	return bundle, nil
}

func normCart(items []domain.CartItem) ([]cartLine, error) {
	if len(items) == 0 {
		return nil, apperror.Validation("Cart is empty")
	}

	cart := make([]cartLine, 0, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, apperror.Validation("productId is required")
		}
		qty, ok := truncQty(it.Qty)
		if !ok {
			return nil, apperror.Validation("qty must be a number")
		}
		if qty < 1 {
			return nil, apperror.Validation("qty must be > 0")
		}
		cart = append(cart, cartLine{productID: it.ProductID, qty: qty, price: it.Price})
	}
	return cart, nil
}

// buildLines resolves products and prices. A line without an explicit price
// takes the product's current catalog price.
func (s *Service) buildLines(ctx context.Context, cart []cartLine) ([]saleLine, error) {
	lines := make([]saleLine, 0, len(cart))
	for _, it := range cart {
		product, err := s.repo.GetProduct(ctx, it.productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperror.NotFoundMessage(fmt.Sprintf("Product not found: %d", it.productID)).
					WithDetail("product_id", it.productID)
			}
			return nil, err
		}

		price := product.Price
		if it.price != nil {
			price = *it.price
		}
		if price <= 0 {
			return nil, apperror.Validation("Invalid product price").WithDetail("product_id", product.ID)
		}

		lineTotal, ok := mulAmount(price, it.qty)
		if !ok {
			return nil, apperror.Validation("Line total too large").WithDetail("product_id", product.ID)
		}
		lines = append(lines, saleLine{
			product:   *product,
			qty:       it.qty,
			price:     price,
			lineTotal: lineTotal,
		})
	}
	return lines, nil
}

// overrideApprover resolves who approved a stock override. The acting admin
// approves unless another user is named; a named approver must be an active
// ADMIN.
func (s *Service) overrideApprover(ctx context.Context, actor domain.Actor, approverID *int64) (*int64, error) {
	if approverID == nil {
		id := actor.UserID
		return &id, nil
	}
	user, err := s.repo.GetUser(ctx, *approverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.Validation("overrideUserId must be an active ADMIN").WithDetail("override_user_id", *approverID)
		}
		return nil, storeErr(err, "User", *approverID)
	}
	if !user.Active || user.Role != domain.RoleAdmin {
		return nil, apperror.Validation("overrideUserId must be an active ADMIN").WithDetail("override_user_id", *approverID)
	}
	id := user.ID
	return &id, nil
}

// checkStock compares each product's stock with the total quantity the cart
// needs of it, so repeated lines for one product are checked together.
func checkStock(lines []saleLine) error {
	need := make(map[int64]int64, len(lines))
	for _, l := range lines {
		sum, ok := addAmount(need[l.product.ID], l.qty)
		if !ok {
			return apperror.Validation("qty too large").WithDetail("product_id", l.product.ID)
		}
		need[l.product.ID] = sum
	}
	for _, l := range lines {
		want, pending := need[l.product.ID]
		if !pending {
			continue
		}
		delete(need, l.product.ID)
		if l.product.Stock < want {
			return apperror.OutOfStock(l.product.ID, l.product.Name, l.product.Stock, want)
		}
	}
	return nil
}

func summarizePayments(payments []domain.Payment) (paymentSummary, error) {
	if len(payments) == 0 {
		return paymentSummary{}, apperror.Validation("Payment is required")
	}

	summary := paymentSummary{payments: make([]domain.Payment, 0, len(payments))}
	for _, p := range payments {
		if p.Amount < 0 {
			return paymentSummary{}, apperror.Validation("Invalid payment amount")
		}
		method := strings.ToUpper(strings.TrimSpace(p.Method))
		if method == "" {
			method = domain.DefaultPaymentMethod
		}
		summary.payments = append(summary.payments, domain.Payment{
			Method:    method,
			Amount:    p.Amount,
			Reference: strings.TrimSpace(p.Reference),
		})
		paid, ok := addAmount(summary.paid, p.Amount)
		if !ok {
			return paymentSummary{}, apperror.Validation("Payment total too large")
		}
		summary.paid = paid
	}
	if summary.paid <= 0 {
		return paymentSummary{}, apperror.Validation("Invalid payment amount")
	}

	// the sale row keeps the first method; the full breakdown is JSON
	summary.method = summary.payments[0].Method
	encoded, err := json.Marshal(summary.payments)
	if err != nil {
		return paymentSummary{}, err
	}
	summary.encoded = string(encoded)
	return summary, nil
}

func totalOf(lines []saleLine) (int64, error) {
	var total int64
	for _, l := range lines {
		sum, ok := addAmount(total, l.lineTotal)
		if !ok {
			return 0, apperror.Validation("Sale total too large")
		}
		total = sum
	}
	return total, nil
}

func saleItemsOf(lines []saleLine) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.SaleItem{
			ProductID: l.product.ID,
			Barcode:   l.product.Barcode,
			Name:      l.product.Name,
			Qty:       l.qty,
			Price:     l.price,
			Cost:      l.product.Cost,
			LineTotal: l.lineTotal,
		})
	}
	return items
}

func withPayments(ctx context.Context, sale domain.Sale) domain.Sale {
	raw := strings.TrimSpace(sale.PaymentsJSON)
	if raw == "" {
		return sale
	}
	var payments []domain.Payment
	if err := json.Unmarshal([]byte(raw), &payments); err != nil {
		logger.Warn(ctx, "sale payments decode failed", "sale_id", sale.ID, "error", err)
		return sale
	}
	sale.Payments = payments
	return sale
}

func withPaymentsAll(ctx context.Context, sales []domain.Sale) []domain.Sale {
	for i := range sales {
		sales[i] = withPayments(ctx, sales[i])
	}
	return sales
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
