package store

import (
	"context"
	"errors"

	"kasirpos/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrRollbackOnly is returned by the outermost unit when a nested unit
	// failed and the caller swallowed the error.
	ErrRollbackOnly = errors.New("atomic unit marked rollback-only")
)

// Repository is the ledger store. Every method runs inside the atomic unit
// found in ctx, or auto-commits on its own when there is none.
type Repository interface {
	// RunInTx runs fn inside an atomic unit. Nested calls join the unit that
	// is already in ctx; only the outermost call commits or rolls back.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	ProductStore
	StockMoveStore
	SaleStore
	ShiftStore
	UserStore
	AuditStore
	ReportStore

	Close() error
}

type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct writes catalog fields (barcode, name, cost, price). Stock
	// is left untouched.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ProductHasSales(ctx context.Context, id int64) (bool, error)
	// UpdateProductStock is reserved for the stock engine.
	UpdateProductStock(ctx context.Context, id int64, stock int64) error
}

type StockMoveStore interface {
	InsertStockMove(ctx context.Context, move domain.StockMove) (*domain.StockMove, error)
	ListStockMoves(ctx context.Context, filter domain.StockMoveFilter) ([]domain.StockMove, error)
	ListLowStock(ctx context.Context, threshold int64, limit int, offset int) ([]domain.Product, error)
	// StockMoveTotals returns the sum of qty_change per product id.
	StockMoveTotals(ctx context.Context) (map[int64]int64, error)
}

type SaleStore interface {
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	// ReplaceSaleItems deletes every item of the sale and inserts items.
	ReplaceSaleItems(ctx context.Context, saleID int64, items []domain.SaleItem) ([]domain.SaleItem, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	ListHeldSales(ctx context.Context, userID *int64, limit int) ([]domain.Sale, error)
	ListRecentSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
}

type ShiftStore interface {
	GetOpenShift(ctx context.Context, userID int64) (*domain.Shift, error)
	// InsertShift returns ErrDuplicate when the user already has an open shift.
	InsertShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	UpdateShift(ctx context.Context, shift domain.Shift) error
	ListShifts(ctx context.Context, limit int) ([]domain.Shift, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	InsertUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

type AuditStore interface {
	InsertAudit(ctx context.Context, entry domain.AuditLog) error
	ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
}

// ReportStore aggregates PAID sales only.
type ReportStore interface {
	ReportSummary(ctx context.Context, filter domain.ReportFilter) (domain.ReportSummary, error)
	ReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error)
	ReportTopProducts(ctx context.Context, filter domain.ReportFilter) ([]domain.TopProduct, error)
}
