package domain

import (
	"strings"
	"time"
)

// Money amounts (price, cost, total, paid, change, cash counts) are integer
// minor currency units throughout.

const (
	RoleAdmin   = "ADMIN"
	RoleCashier = "CASHIER"
)

const (
	SaleStatusHeld = "HELD"
	SaleStatusPaid = "PAID"
	SaleStatusVoid = "VOID"
)

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

const (
	ReasonSale          = "SALE"
	ReasonReturn        = "RETURN"
	ReasonReceive       = "RECEIVE"
	ReasonAdjust        = "ADJUST"
	ReasonSetStock      = "SET_STOCK"
	ReasonStockOverride = "STOCK_OVERRIDE"
	ReasonMove          = "MOVE"
)

const (
	RefTypeManual  = "MANUAL"
	RefTypeSale    = "SALE"
	RefTypeVoid    = "VOID"
	RefTypeInitial = "INITIAL"
)

const (
	AuditStockMove   = "STOCK_MOVE"
	AuditVoidSale    = "VOID_SALE"
	AuditAuthLogin   = "AUTH_LOGIN"
	AuditAuthLocked  = "AUTH_LOCKED"
	AuditSeedAdmin   = "SEED_ADMIN"
	AuditShiftOpen   = "SHIFT_OPEN"
	AuditShiftClose  = "SHIFT_CLOSE"
	AuditUserCreate  = "USER_CREATE"
	AuditUserReset   = "USER_PASSWORD_RESET"
	AuditUserActive  = "USER_SET_ACTIVE"
	AuditProductEdit = "PRODUCT_UPDATE"
)

const DefaultPaymentMethod = "CASH"

var stockReasons = map[string]struct{}{
	ReasonSale:          {},
	ReasonReturn:        {},
	ReasonReceive:       {},
	ReasonAdjust:        {},
	ReasonSetStock:      {},
	ReasonStockOverride: {},
	ReasonMove:          {},
}

// NormalizeReason upper-cases and trims a stock move reason.
func NormalizeReason(reason string) string {
	return strings.ToUpper(strings.TrimSpace(reason))
}

// IsStockReason reports whether reason (already normalized) is in the closed
// set of movement reasons.
func IsStockReason(reason string) bool {
	_, ok := stockReasons[reason]
	return ok
}

// NormalizeRole maps any unknown role to CASHIER.
func NormalizeRole(role string) string {
	r := strings.ToUpper(strings.TrimSpace(role))
	if r != RoleAdmin && r != RoleCashier {
		return RoleCashier
	}
	return r
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type Product struct {
	ID        int64     `json:"id" db:"id"`
	Barcode   string    `json:"barcode" db:"barcode"`
	Name      string    `json:"name" db:"name"`
	Cost      int64     `json:"cost" db:"cost"`
	Price     int64     `json:"price" db:"price"`
	Stock     int64     `json:"stock" db:"stock"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ProductCreateRequest struct {
	Barcode      string `json:"barcode"`
	Name         string `json:"name"`
	Cost         int64  `json:"cost"`
	Price        int64  `json:"price"`
	InitialStock int64  `json:"initial_stock"`
}

// ProductPatch updates catalog fields only. Stock changes go through the
// stock endpoints so every change lands in the movement ledger.
type ProductPatch struct {
	Barcode *string `json:"barcode,omitempty"`
	Name    *string `json:"name,omitempty"`
	Cost    *int64  `json:"cost,omitempty"`
	Price   *int64  `json:"price,omitempty"`
}

type StockMove struct {
	ID             int64     `json:"id" db:"id"`
	ProductID      int64     `json:"product_id" db:"product_id"`
	QtyChange      int64     `json:"qty_change" db:"qty_change"`
	Reason         string    `json:"reason" db:"reason"`
	RefType        string    `json:"ref_type" db:"ref_type"`
	RefID          *int64    `json:"ref_id,omitempty" db:"ref_id"`
	UserID         *int64    `json:"user_id,omitempty" db:"user_id"`
	Note           string    `json:"note,omitempty" db:"note"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ProductName    string    `json:"product_name,omitempty" db:"product_name"`
	ProductBarcode string    `json:"product_barcode,omitempty" db:"product_barcode"`
}

type StockMoveRequest struct {
	ProductID int64   `json:"product_id"`
	QtyChange float64 `json:"qty_change"`
	Reason    string  `json:"reason"`
	RefType   string  `json:"ref_type,omitempty"`
	RefID     *int64  `json:"ref_id,omitempty"`
	Note      string  `json:"note,omitempty"`
}

type SetStockRequest struct {
	ProductID int64   `json:"product_id"`
	NewQty    float64 `json:"new_qty"`
	Reason    string  `json:"reason,omitempty"`
	RefType   string  `json:"ref_type,omitempty"`
	RefID     *int64  `json:"ref_id,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// StockSnapshot is a product's stock after a stock operation. Move is nil when
// the operation changed nothing.
type StockSnapshot struct {
	ProductID int64      `json:"product_id"`
	Barcode   string     `json:"barcode"`
	Name      string     `json:"name"`
	Stock     int64      `json:"stock"`
	Move      *StockMove `json:"move,omitempty"`
}

type StockMoveFilter struct {
	ProductID *int64
	From      *time.Time
	To        *time.Time
	Limit     int
}

// StockDrift is a product whose materialized stock disagrees with the sum of
// its movement ledger.
type StockDrift struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	Ledger    int64  `json:"ledger"`
}

type Payment struct {
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Sale struct {
	ID             int64     `json:"id" db:"id"`
	UserID         *int64    `json:"user_id,omitempty" db:"user_id"`
	Total          int64     `json:"total" db:"total"`
	PaymentMethod  string    `json:"payment_method,omitempty" db:"payment_method"`
	Paid           int64     `json:"paid" db:"paid"`
	Change         int64     `json:"change" db:"change_due"`
	Status         string    `json:"status" db:"status"`
	CustomerName   string    `json:"customer_name,omitempty" db:"customer_name"`
	CustomerPhone  string    `json:"customer_phone,omitempty" db:"customer_phone"`
	Note           string    `json:"note,omitempty" db:"note"`
	PaymentsJSON   string    `json:"-" db:"payments_json"`
	Payments       []Payment `json:"payments,omitempty" db:"-"`
	StockOverride  bool      `json:"stock_override" db:"stock_override"`
	OverrideUserID *int64    `json:"override_user_id,omitempty" db:"override_user_id"`
	OverrideReason string    `json:"override_reason,omitempty" db:"override_reason"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// SaleItem snapshots the product at sale time; later catalog edits never
// change it.
type SaleItem struct {
	ID        int64  `json:"id" db:"id"`
	SaleID    int64  `json:"sale_id" db:"sale_id"`
	ProductID int64  `json:"product_id" db:"product_id"`
	Barcode   string `json:"barcode" db:"barcode"`
	Name      string `json:"name" db:"name"`
	Qty       int64  `json:"qty" db:"qty"`
	Price     int64  `json:"price" db:"price"`
	Cost      int64  `json:"cost" db:"cost"`
	LineTotal int64  `json:"line_total" db:"line_total"`
}

type SaleBundle struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

type CartItem struct {
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
	Price     *int64  `json:"price,omitempty"`
}

type HoldSaleRequest struct {
	Items    []CartItem `json:"cart_items"`
	Customer Customer   `json:"customer"`
	Note     string     `json:"note,omitempty"`
}

type CheckoutRequest struct {
	Items          []CartItem `json:"cart_items"`
	SaleID         *int64     `json:"sale_id,omitempty"`
	Payments       []Payment  `json:"payments"`
	Customer       Customer   `json:"customer"`
	Note           string     `json:"note,omitempty"`
	StockOverride  bool       `json:"stock_override"`
	OverrideUserID *int64     `json:"override_user_id,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`
}

type CheckoutResult struct {
	SaleID        int64      `json:"sale_id"`
	Total         int64      `json:"total"`
	Paid          int64      `json:"paid"`
	Change        int64      `json:"change"`
	PaymentMethod string     `json:"payment_method"`
	Sale          Sale       `json:"sale"`
	Items         []SaleItem `json:"items"`
}

type VoidPaidRequest struct {
	SaleID int64  `json:"sale_id"`
	Note   string `json:"note,omitempty"`
}

type SaleFilter struct {
	From   *time.Time
	To     *time.Time
	Status string
	Limit  int
}

type Shift struct {
	ID          int64      `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	OpeningCash int64      `json:"opening_cash" db:"opening_cash"`
	ClosingCash *int64     `json:"closing_cash,omitempty" db:"closing_cash"`
	Note        string     `json:"note,omitempty" db:"note"`
	Status      string     `json:"status" db:"status"`
	OpenedAt    time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

type ShiftOpenRequest struct {
	OpeningCash int64  `json:"opening_cash"`
	Note        string `json:"note,omitempty"`
}

type ShiftCloseRequest struct {
	ClosingCash int64  `json:"closing_cash"`
	Note        string `json:"note,omitempty"`
}

type User struct {
	ID                 int64      `json:"id" db:"id"`
	Username           string     `json:"username" db:"username"`
	Role               string     `json:"role" db:"role"`
	PasswordHash       string     `json:"-" db:"password_hash"`
	Active             bool       `json:"is_active" db:"is_active"`
	MustChangePassword bool       `json:"must_change_password" db:"must_change_password"`
	FailedAttempts     int        `json:"failed_attempts" db:"failed_attempts"`
	LockedUntil        *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type PasswordResetRequest struct {
	NewPassword string `json:"new_password"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserActiveRequest struct {
	Active bool `json:"is_active"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

type AuditLog struct {
	ID        int64     `json:"id" db:"id"`
	UserID    *int64    `json:"user_id,omitempty" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	Meta      string    `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	Action string
	From   *time.Time
	To     *time.Time
	Limit  int
}

type ReportFilter struct {
	From   *time.Time
	To     *time.Time
	UserID *int64
	Limit  int
}

type ReportSummary struct {
	GrossSales   int64 `json:"gross_sales" db:"gross_sales"`
	Transactions int64 `json:"transactions" db:"transactions"`
}

type TopProduct struct {
	ProductID int64  `json:"product_id" db:"product_id"`
	Name      string `json:"name" db:"name"`
	Barcode   string `json:"barcode" db:"barcode"`
	QtySold   int64  `json:"qty_sold" db:"qty_sold"`
	Revenue   int64  `json:"revenue" db:"revenue"`
	CostTotal int64  `json:"cost_total" db:"cost_total"`
	Profit    int64  `json:"profit" db:"profit"`
}
