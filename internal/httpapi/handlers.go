package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	user, err := a.service.CurrentUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.PasswordChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := a.service.ChangeOwnPassword(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		products, err := a.service.ListProducts(r.Context(), query.Get("q"), parsePositiveLimit(query.Get("limit"), 200, 1000))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, products)
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, product)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleProductByBarcode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	product, err := a.service.GetProductByBarcode(r.Context(), r.PathValue("barcode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var patch domain.ProductPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, patch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, product)
	case http.MethodDelete:
		if err := a.service.DeleteProduct(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, true)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	snapshot, err := a.service.GetStock(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snapshot)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	query := r.URL.Query()
	threshold := int64(-1)
	if raw := strings.TrimSpace(query.Get("threshold")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, r, apperror.Validation("threshold must be >= 0"))
			return
		}
		threshold = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apperror.Validation("offset must be a number"))
			return
		}
		offset = parsed
	}

	products, err := a.service.ListLowStock(r.Context(), threshold, parsePositiveLimit(query.Get("limit"), 200, 500), offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, products)
}

func (a *API) handleStockMoves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	productID, err := queryID(r, "product_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}

	moves, err := a.service.ListStockMoves(r.Context(), domain.StockMoveFilter{
		ProductID: productID,
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, moves)
}

func (a *API) handleApplyMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.StockMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snapshot, err := a.service.ApplyMove(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snapshot)
}

func (a *API) handleSetStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.SetStockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snapshot, err := a.service.SetStock(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snapshot)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	drift, err := a.service.ReconcileStock(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"consistent": len(drift) == 0, "drift": drift})
}

func (a *API) handleHoldSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.HoldSaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bundle, err := a.service.HoldSale(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, bundle)
}

func (a *API) handleHeldSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sales, err := a.service.ListHeldSales(r.Context(), userID, parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sales)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (a *API) handleRecentSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	sales, err := a.service.ListRecentSales(r.Context(), domain.SaleFilter{
		From:   from,
		To:     to,
		Status: r.URL.Query().Get("status"),
		Limit:  parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sales)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	bundle, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, bundle)
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.service.VoidSale(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"sale_id": id, "status": domain.SaleStatusVoid})
}

func (a *API) handleVoidPaidSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	bundle, err := a.service.VoidPaidSale(r.Context(), domain.VoidPaidRequest{SaleID: id, Note: body.Note})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, bundle)
}

func (a *API) handleShifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	shifts, err := a.service.ListShifts(r.Context(), parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, shifts)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ShiftOpenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, shift)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ShiftCloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shift, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, shift)
}

func (a *API) handleShiftMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	shift, err := a.service.MyOpenShift(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, shift)
}

func (a *API) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	filter, ok := reportFilter(w, r, 0, 0)
	if !ok {
		return
	}
	summary, err := a.service.ReportSummary(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (a *API) handleReportSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	filter, ok := reportFilter(w, r, 200, 500)
	if !ok {
		return
	}
	sales, err := a.service.ReportSales(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sales)
}

func (a *API) handleReportTopProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	filter, ok := reportFilter(w, r, 30, 200)
	if !ok {
		return
	}
	top, err := a.service.ReportTopProducts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, top)
}

// handleReportExport streams a report as CSV or XLSX. Exports only read
// committed report projections.
func (a *API) handleReportExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	query := r.URL.Query()
	kind := strings.ToLower(strings.TrimSpace(query.Get("kind")))
	if kind == "" {
		kind = exportSales
	}
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format == "" {
		format = formatCSV
	}
	if format != formatCSV && format != formatXLSX {
		writeError(w, r, apperror.Validationf("Unsupported format: %s", format))
		return
	}

	var (
		t  table
		ok bool
	)
	switch kind {
	case exportSales:
		filter, valid := reportFilter(w, r, 500, 500)
		if !valid {
			return
		}
		sales, err := a.service.ReportSales(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t, ok = salesTable(sales, a.money), true
	case exportTopProducts:
		filter, valid := reportFilter(w, r, 200, 200)
		if !valid {
			return
		}
		top, err := a.service.ReportTopProducts(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t, ok = topProductsTable(top, a.money), true
	}
	if !ok {
		writeError(w, r, apperror.Validationf("Unsupported report kind: %s", kind))
		return
	}

	var (
		payload     []byte
		err         error
		contentType string
	)
	if format == formatXLSX {
		payload, err = t.xlsx()
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	} else {
		payload, err = t.csv()
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		writeError(w, r, apperror.Internal(err))
		return
	}

	filename := fmt.Sprintf("%s_%s.%s", kind, time.Now().UTC().Format("20060102_150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		users, err := a.service.ListUsers(r.Context(), query.Get("q"), parsePositiveLimit(query.Get("limit"), 200, 500))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, users)
	case http.MethodPost:
		var req domain.UserCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		user, err := a.service.CreateUser(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, user)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleUserPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req domain.PasswordResetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := a.service.ResetPassword(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (a *API) handleUserActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req domain.UserActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := a.service.SetUserActive(r.Context(), id, req.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}
	from, to, ok := timeRange(w, r)
	if !ok {
		return
	}
	entries, err := a.service.ListAudit(r.Context(), domain.AuditFilter{
		Action: r.URL.Query().Get("action"),
		From:   from,
		To:     to,
		Limit:  parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func timeRange(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	from, err := queryTime(r, "from", false)
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}
	to, err := queryTime(r, "to", true)
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}
	return from, to, true
}

func reportFilter(w http.ResponseWriter, r *http.Request, fallback int, max int) (domain.ReportFilter, bool) {
	from, to, ok := timeRange(w, r)
	if !ok {
		return domain.ReportFilter{}, false
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		writeError(w, r, err)
		return domain.ReportFilter{}, false
	}
	filter := domain.ReportFilter{From: from, To: to, UserID: userID}
	if fallback > 0 {
		filter.Limit = parsePositiveLimit(r.URL.Query().Get("limit"), fallback, max)
	}
	return filter, true
}
