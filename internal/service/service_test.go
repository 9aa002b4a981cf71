package service

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/internal/apperror"
	"kasirpos/internal/cache"
	"kasirpos/internal/domain"
	"kasirpos/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopReportCache{}, Options{BcryptCost: bcrypt.MinCost})
}

// newScenarioService starts from an empty store holding one product with
// stock 10 and price 1000.
func newScenarioService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, cache.NoopReportCache{}, Options{BcryptCost: bcrypt.MinCost})

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Barcode:      "899000000001",
		Name:         "Beras 1kg",
		Cost:         800,
		Price:        1000,
		InitialStock: 10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.ID != 1 || product.Stock != 10 {
		t.Fatalf("unexpected seeded product: %+v", product)
	}
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 1, Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 2, Username: "cashier", Role: domain.RoleCashier})
}

func cash(amount int64) []domain.Payment {
	return []domain.Payment{{Method: "CASH", Amount: amount}}
}

func stockOf(t *testing.T, svc *Service, productID int64) int64 {
	t.Helper()
	snapshot, err := svc.GetStock(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	return snapshot.Stock
}

func movesOf(t *testing.T, svc *Service, productID int64) []domain.StockMove {
	t.Helper()
	moves, err := svc.ListStockMoves(context.Background(), domain.StockMoveFilter{ProductID: &productID, Limit: 500})
	if err != nil {
		t.Fatalf("list moves failed: %v", err)
	}
	return moves
}

func requireKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperror.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestCheckoutScenarioDeductsStockOnce(t *testing.T) {
	svc, _ := newScenarioService(t)

	res, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 3}},
		Payments: cash(3000),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if res.Total != 3000 || res.Paid != 3000 || res.Change != 0 {
		t.Fatalf("unexpected totals: total=%d paid=%d change=%d", res.Total, res.Paid, res.Change)
	}
	if res.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected PAID sale, got %s", res.Sale.Status)
	}
	if got := stockOf(t, svc, 1); got != 7 {
		t.Fatalf("expected stock 7, got %d", got)
	}

	var saleMoves []domain.StockMove
	for _, m := range movesOf(t, svc, 1) {
		if m.Reason == domain.ReasonSale {
			saleMoves = append(saleMoves, m)
		}
	}
	if len(saleMoves) != 1 {
		t.Fatalf("expected one SALE move, got %d", len(saleMoves))
	}
	if saleMoves[0].QtyChange != -3 || saleMoves[0].RefID == nil || *saleMoves[0].RefID != res.SaleID {
		t.Fatalf("unexpected sale move: %+v", saleMoves[0])
	}
}

func TestLedgerReplaysToStock(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := adminCtx()

	if _, err := svc.ApplyMove(ctx, domain.StockMoveRequest{ProductID: 1, QtyChange: 5, Reason: "receive"}); err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if _, err := svc.ApplyMove(ctx, domain.StockMoveRequest{ProductID: 1, QtyChange: -2, Reason: "ADJUST", Note: "broken pack"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	res, err := svc.Checkout(ctx, domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 4}}, Payments: cash(5000)})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if _, err := svc.VoidPaidSale(ctx, domain.VoidPaidRequest{SaleID: res.SaleID}); err != nil {
		t.Fatalf("void paid failed: %v", err)
	}
	if _, err := svc.SetStock(ctx, domain.SetStockRequest{ProductID: 1, NewQty: 4, Note: "opname"}); err != nil {
		t.Fatalf("set stock failed: %v", err)
	}

	var sum int64
	for _, m := range movesOf(t, svc, 1) {
		sum += m.QtyChange
	}
	if got := stockOf(t, svc, 1); got != sum || got != 4 {
		t.Fatalf("stock %d does not match ledger sum %d", got, sum)
	}

	drift, err := svc.ReconcileStock(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("expected no drift, got %+v", drift)
	}
}

func TestApplyMoveRejectsNegativeStockWithoutSideEffects(t *testing.T) {
	svc, _ := newScenarioService(t)
	before := len(movesOf(t, svc, 1))

	_, err := svc.ApplyMove(adminCtx(), domain.StockMoveRequest{ProductID: 1, QtyChange: -11, Reason: "ADJUST", Note: "count"})
	requireKind(t, err, apperror.KindNegativeStock)

	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("expected stock 10 after rejected move, got %d", got)
	}
	if after := len(movesOf(t, svc, 1)); after != before {
		t.Fatalf("expected no new moves, had %d now %d", before, after)
	}
}

func TestApplyMoveValidation(t *testing.T) {
	svc, _ := newScenarioService(t)

	_, err := svc.ApplyMove(cashierCtx(), domain.StockMoveRequest{ProductID: 1, QtyChange: 1, Reason: "RECEIVE"})
	requireKind(t, err, apperror.KindForbidden)

	_, err = svc.ApplyMove(adminCtx(), domain.StockMoveRequest{ProductID: 1, QtyChange: 0.4, Reason: "RECEIVE"})
	requireKind(t, err, apperror.KindValidation)

	_, err = svc.ApplyMove(adminCtx(), domain.StockMoveRequest{ProductID: 1, QtyChange: 1, Reason: "GIFT"})
	requireKind(t, err, apperror.KindValidation)

	_, err = svc.ApplyMove(adminCtx(), domain.StockMoveRequest{ProductID: 1, QtyChange: -1, Reason: "ADJUST"})
	requireKind(t, err, apperror.KindValidation)

	_, err = svc.ApplyMove(adminCtx(), domain.StockMoveRequest{ProductID: 99, QtyChange: 1, Reason: "RECEIVE"})
	requireKind(t, err, apperror.KindNotFound)
}

func TestCheckoutOutOfStockWritesNothing(t *testing.T) {
	svc, _ := newScenarioService(t)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 6}, {ProductID: 1, Qty: 5}},
		Payments: cash(20000),
	})
	requireKind(t, err, apperror.KindOutOfStock)

	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}
	sales, err := svc.ListRecentSales(context.Background(), domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sales, got %d", len(sales))
	}
}

func TestCheckoutValidationOrder(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := cashierCtx()

	cases := []struct {
		name string
		req  domain.CheckoutRequest
		kind apperror.Kind
	}{
		{"no cart", domain.CheckoutRequest{Payments: cash(1000)}, apperror.KindValidation},
		{"no payment", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}}, apperror.KindValidation},
		{"zero qty", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 0.5}}, Payments: cash(1000)}, apperror.KindValidation},
		{"unknown product", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 42, Qty: 1}}, Payments: cash(1000)}, apperror.KindNotFound},
		{"zero payment", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}, Payments: cash(0)}, apperror.KindValidation},
		{"short payment", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 2}}, Payments: cash(1500)}, apperror.KindInsufficientPayment},
		{"override by cashier", domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}, Payments: cash(1000), StockOverride: true, OverrideReason: "x"}, apperror.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Checkout(ctx, tc.req)
			requireKind(t, err, tc.kind)
		})
	}

	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestHoldThenCheckoutConvertsSameSale(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := cashierCtx()

	held, err := svc.HoldSale(ctx, domain.HoldSaleRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 2}},
		Customer: domain.Customer{Name: "Bu Sri"},
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if held.Sale.Status != domain.SaleStatusHeld || held.Sale.Total != 2000 {
		t.Fatalf("unexpected held sale: %+v", held.Sale)
	}
	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("hold must not touch stock, got %d", got)
	}

	list, err := svc.ListHeldSales(ctx, nil, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one held sale, got %d (%v)", len(list), err)
	}

	saleID := held.Sale.ID
	res, err := svc.Checkout(ctx, domain.CheckoutRequest{SaleID: &saleID, Payments: cash(5000)})
	if err != nil {
		t.Fatalf("checkout held failed: %v", err)
	}
	if res.SaleID != saleID || res.Change != 3000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Sale.CustomerName != "Bu Sri" {
		t.Fatalf("expected customer kept from held sale, got %q", res.Sale.CustomerName)
	}
	if got := stockOf(t, svc, 1); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{SaleID: &saleID, Payments: cash(5000)})
	requireKind(t, err, apperror.KindConflict)
	if got := stockOf(t, svc, 1); got != 8 {
		t.Fatalf("second checkout must not deduct, got %d", got)
	}
}

func TestVoidHeldSale(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := cashierCtx()

	held, err := svc.HoldSale(ctx, domain.HoldSaleRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := svc.VoidSale(ctx, held.Sale.ID); err != nil {
		t.Fatalf("void failed: %v", err)
	}
	requireKind(t, svc.VoidSale(ctx, held.Sale.ID), apperror.KindConflict)

	bundle, err := svc.GetSale(ctx, held.Sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if bundle.Sale.Status != domain.SaleStatusVoid {
		t.Fatalf("expected VOID, got %s", bundle.Sale.Status)
	}
}

func TestVoidPaidSaleRestocksOnce(t *testing.T) {
	svc, _ := newScenarioService(t)

	res, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 3}}, Payments: cash(3000)})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	_, err = svc.VoidPaidSale(cashierCtx(), domain.VoidPaidRequest{SaleID: res.SaleID})
	requireKind(t, err, apperror.KindForbidden)

	bundle, err := svc.VoidPaidSale(adminCtx(), domain.VoidPaidRequest{SaleID: res.SaleID, Note: "customer returned"})
	if err != nil {
		t.Fatalf("void paid failed: %v", err)
	}
	if bundle.Sale.Status != domain.SaleStatusVoid {
		t.Fatalf("expected VOID, got %s", bundle.Sale.Status)
	}
	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	var returns int
	for _, m := range movesOf(t, svc, 1) {
		if m.Reason == domain.ReasonReturn {
			returns++
			if m.QtyChange != 3 || m.RefType != domain.RefTypeVoid || m.Note != "customer returned" {
				t.Fatalf("unexpected return move: %+v", m)
			}
		}
	}
	if returns != 1 {
		t.Fatalf("expected one RETURN move, got %d", returns)
	}

	_, err = svc.VoidPaidSale(adminCtx(), domain.VoidPaidRequest{SaleID: res.SaleID})
	requireKind(t, err, apperror.KindConflict)
	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("second void must not restock, got %d", got)
	}
}

func TestSetStockIsIdempotent(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := adminCtx()

	first, err := svc.SetStock(ctx, domain.SetStockRequest{ProductID: 1, NewQty: 25, Note: "opname"})
	if err != nil {
		t.Fatalf("set stock failed: %v", err)
	}
	if first.Stock != 25 || first.Move == nil || first.Move.QtyChange != 15 {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}
	count := len(movesOf(t, svc, 1))

	second, err := svc.SetStock(ctx, domain.SetStockRequest{ProductID: 1, NewQty: 25, Note: "opname"})
	if err != nil {
		t.Fatalf("repeat set stock failed: %v", err)
	}
	if second.Stock != 25 || second.Move != nil {
		t.Fatalf("expected no-op snapshot, got %+v", second)
	}
	if got := len(movesOf(t, svc, 1)); got != count {
		t.Fatalf("expected no extra move, had %d now %d", count, got)
	}

	_, err = svc.SetStock(ctx, domain.SetStockRequest{ProductID: 1, NewQty: -1})
	requireKind(t, err, apperror.KindValidation)
}

func TestShiftLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningCash: 200000}); err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningCash: 100})
	requireKind(t, err, apperror.KindConflict)

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ClosingCash: 350000, Note: "selesai"})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed || closed.ClosedAt == nil || closed.ClosingCash == nil || *closed.ClosingCash != 350000 {
		t.Fatalf("unexpected closed shift: %+v", closed)
	}

	open, err := svc.MyOpenShift(ctx)
	if err != nil {
		t.Fatalf("my open shift failed: %v", err)
	}
	if open != nil {
		t.Fatalf("expected no open shift, got %+v", open)
	}

	_, err = svc.CloseShift(ctx, domain.ShiftCloseRequest{})
	requireKind(t, err, apperror.KindNotFound)

	// another user keeps an independent shift
	if _, err := svc.OpenShift(adminCtx(), domain.ShiftOpenRequest{}); err != nil {
		t.Fatalf("admin open shift failed: %v", err)
	}
}

func TestRequireOpenShiftGatesCheckout(t *testing.T) {
	svc, repo := newScenarioService(t)
	svc = New(repo, nil, Options{RequireOpenShift: true, BcryptCost: bcrypt.MinCost})
	ctx := cashierCtx()
	req := domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}, Payments: cash(1000)}

	_, err := svc.Checkout(ctx, req)
	requireKind(t, err, apperror.KindConflict)

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{}); err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if _, err := svc.Checkout(ctx, req); err != nil {
		t.Fatalf("checkout with open shift failed: %v", err)
	}
}

func TestStockOverrideCheckoutAndVoid(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := adminCtx()
	req := domain.CheckoutRequest{
		Items:         []domain.CartItem{{ProductID: 1, Qty: 12}},
		Payments:      cash(12000),
		StockOverride: true,
	}

	_, err := svc.Checkout(ctx, req)
	requireKind(t, err, apperror.KindValidation)

	req.OverrideReason = "stok fisik belum diinput"
	res, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("override checkout failed: %v", err)
	}
	if !res.Sale.StockOverride || res.Sale.OverrideUserID == nil || *res.Sale.OverrideUserID != 1 {
		t.Fatalf("unexpected override fields: %+v", res.Sale)
	}
	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("override must not touch stock, got %d", got)
	}

	if _, err := svc.VoidPaidSale(ctx, domain.VoidPaidRequest{SaleID: res.SaleID}); err != nil {
		t.Fatalf("void override sale failed: %v", err)
	}
	if got := stockOf(t, svc, 1); got != 10 {
		t.Fatalf("void of override sale must not restock, got %d", got)
	}

	markers := map[string]domain.StockMove{}
	for _, m := range movesOf(t, svc, 1) {
		if m.QtyChange == 0 {
			markers[m.Reason] = m
		}
	}
	if m, ok := markers[domain.ReasonStockOverride]; !ok || m.Note != req.OverrideReason {
		t.Fatalf("missing override marker: %+v", markers)
	}
	if m, ok := markers[domain.ReasonMove]; !ok || m.Note != "void override sale" {
		t.Fatalf("missing void marker: %+v", markers)
	}
}

func TestProductCatalogRules(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := adminCtx()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Barcode: "899000000001", Name: "Dup", Price: 100})
	if e, ok := apperror.As(err); !ok || e.Code != apperror.CodeDuplicateBarcode {
		t.Fatalf("expected DUPLICATE_BARCODE, got %v", err)
	}

	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: 1, Qty: 1}}, Payments: cash(1000)}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	requireKind(t, svc.DeleteProduct(ctx, 1), apperror.KindConflict)

	fresh, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Barcode: "899000000002", Name: "Garam", Price: 500})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	price := int64(700)
	updated, err := svc.UpdateProduct(ctx, fresh.ID, domain.ProductPatch{Price: &price})
	if err != nil || updated.Price != 700 {
		t.Fatalf("update failed: %+v %v", updated, err)
	}
	if err := svc.DeleteProduct(ctx, fresh.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestAuthenticateLocksAfterFiveFailures(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.Authenticate(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	for i := 1; i <= 4; i++ {
		_, err := svc.Authenticate(ctx, "admin", "wrong")
		if e, ok := apperror.As(err); !ok || e.Code != apperror.CodeInvalidCredentials {
			t.Fatalf("attempt %d: expected INVALID_CREDENTIALS, got %v", i, err)
		}
	}
	_, err := svc.Authenticate(ctx, "admin", "wrong")
	if e, ok := apperror.As(err); !ok || e.Code != apperror.CodeAccountLocked {
		t.Fatalf("expected ACCOUNT_LOCKED on fifth failure, got %v", err)
	}

	_, err = svc.Authenticate(ctx, "admin", "admin123")
	if e, ok := apperror.As(err); !ok || e.Code != apperror.CodeAccountLocked {
		t.Fatalf("expected lock to hold for the correct password, got %v", err)
	}

	now = now.Add(11 * time.Minute)
	user, err := svc.Authenticate(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("login after lock expiry failed: %v", err)
	}
	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		t.Fatalf("expected counters reset, got %+v", user)
	}

	_, err = svc.Authenticate(ctx, "nobody", "x")
	if apperror.KindOf(err) != apperror.KindUnauthenticated {
		t.Fatalf("expected unauthenticated for unknown user, got %v", err)
	}
}

func TestAmountsRejectInt64Overflow(t *testing.T) {
	svc := newTestService()
	before, err := svc.ListRecentSales(context.Background(), domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}

	_, err = svc.HoldSale(cashierCtx(), domain.HoldSaleRequest{
		Items: []domain.CartItem{{ProductID: 1, Qty: 1e17}},
	})
	requireKind(t, err, apperror.KindValidation)

	one := int64(1)
	_, err = svc.Checkout(adminCtx(), domain.CheckoutRequest{
		Items: []domain.CartItem{
			{ProductID: 1, Qty: 4e18, Price: &one},
			{ProductID: 2, Qty: 4e18, Price: &one},
			{ProductID: 3, Qty: 4e18, Price: &one},
		},
		Payments:       cash(1000),
		StockOverride:  true,
		OverrideReason: "opname",
	})
	requireKind(t, err, apperror.KindValidation)

	_, err = svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:    []domain.CartItem{{ProductID: 1, Qty: 1}},
		Payments: []domain.Payment{{Method: "CASH", Amount: 5e18}, {Method: "QRIS", Amount: 5e18}},
	})
	requireKind(t, err, apperror.KindValidation)

	after, err := svc.ListRecentSales(context.Background(), domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected no new sales, had %d now %d", len(before), len(after))
	}
	for _, id := range []int64{1, 2, 3} {
		if got := stockOf(t, svc, id); got != 120 {
			t.Fatalf("expected product %d stock 120, got %d", id, got)
		}
	}
}

func TestReceiveRejectsStockOverflow(t *testing.T) {
	svc, _ := newScenarioService(t)
	ctx := adminCtx()

	for i := 0; i < 2; i++ {
		if _, err := svc.ApplyMove(ctx, domain.StockMoveRequest{ProductID: 1, QtyChange: 4e18, Reason: "RECEIVE"}); err != nil {
			t.Fatalf("receive %d failed: %v", i, err)
		}
	}
	_, err := svc.ApplyMove(ctx, domain.StockMoveRequest{ProductID: 1, QtyChange: 4e18, Reason: "RECEIVE"})
	requireKind(t, err, apperror.KindValidation)

	if got := stockOf(t, svc, 1); got != 8e18+10 {
		t.Fatalf("expected stock to stay at %d, got %d", int64(8e18+10), got)
	}
}

func TestStockOverrideApproverMustBeActiveAdmin(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	req := func(approver int64) domain.CheckoutRequest {
		return domain.CheckoutRequest{
			Items:          []domain.CartItem{{ProductID: 1, Qty: 200}},
			Payments:       cash(700000),
			StockOverride:  true,
			OverrideReason: "barang datang sore",
			OverrideUserID: &approver,
		}
	}

	_, err := svc.Checkout(ctx, req(2))
	requireKind(t, err, apperror.KindValidation)

	_, err = svc.Checkout(ctx, req(99))
	requireKind(t, err, apperror.KindValidation)

	res, err := svc.Checkout(ctx, req(1))
	if err != nil {
		t.Fatalf("override approved by admin failed: %v", err)
	}
	if res.Sale.OverrideUserID == nil || *res.Sale.OverrideUserID != 1 {
		t.Fatalf("expected approver 1, got %+v", res.Sale.OverrideUserID)
	}
}
