package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

var saleColumns = []string{
	"id", "user_id", "total",
	"COALESCE(payment_method, '') AS payment_method",
	"paid", "change_due", "status",
	"COALESCE(customer_name, '') AS customer_name",
	"COALESCE(customer_phone, '') AS customer_phone",
	"COALESCE(note, '') AS note",
	"COALESCE(payments_json, '') AS payments_json",
	"stock_override", "override_user_id",
	"COALESCE(override_reason, '') AS override_reason",
	"created_at",
}

var saleItemColumns = []string{
	"id", "sale_id", "product_id",
	"COALESCE(barcode, '') AS barcode",
	"COALESCE(name, '') AS name",
	"qty", "price", "cost", "line_total",
}

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.CreatedAt = utc(sale.CreatedAt)
	id, err := s.insert(ctx, s.sb.Insert("sales").
		Columns(
			"user_id", "total", "payment_method", "paid", "change_due", "status",
			"customer_name", "customer_phone", "note", "payments_json",
			"stock_override", "override_user_id", "override_reason", "created_at",
		).
		Values(
			sale.UserID, sale.Total, nullIfEmpty(sale.PaymentMethod), sale.Paid, sale.Change, sale.Status,
			nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone), nullIfEmpty(sale.Note), nullIfEmpty(sale.PaymentsJSON),
			sale.StockOverride, sale.OverrideUserID, nullIfEmpty(sale.OverrideReason), sale.CreatedAt,
		))
	if err != nil {
		return nil, err
	}
	sale.ID = id
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	q := s.sb.Select(saleColumns...).From("sales").Where(squirrel.Eq{"id": id})
	if err := s.get(ctx, &sale, s.forUpdate(ctx, q)); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	affected, err := s.exec(ctx, s.sb.Update("sales").
		Set("user_id", sale.UserID).
		Set("total", sale.Total).
		Set("payment_method", nullIfEmpty(sale.PaymentMethod)).
		Set("paid", sale.Paid).
		Set("change_due", sale.Change).
		Set("status", sale.Status).
		Set("customer_name", nullIfEmpty(sale.CustomerName)).
		Set("customer_phone", nullIfEmpty(sale.CustomerPhone)).
		Set("note", nullIfEmpty(sale.Note)).
		Set("payments_json", nullIfEmpty(sale.PaymentsJSON)).
		Set("stock_override", sale.StockOverride).
		Set("override_user_id", sale.OverrideUserID).
		Set("override_reason", nullIfEmpty(sale.OverrideReason)).
		Where(squirrel.Eq{"id": sale.ID}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceSaleItems(ctx context.Context, saleID int64, items []domain.SaleItem) ([]domain.SaleItem, error) {
	saved := make([]domain.SaleItem, 0, len(items))
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, s.sb.Delete("sale_items").Where(squirrel.Eq{"sale_id": saleID})); err != nil {
			return err
		}
		for _, item := range items {
			item.SaleID = saleID
			id, err := s.insert(ctx, s.sb.Insert("sale_items").
				Columns("sale_id", "product_id", "barcode", "name", "qty", "price", "cost", "line_total").
				Values(saleID, item.ProductID, item.Barcode, item.Name, item.Qty, item.Price, item.Cost, item.LineTotal))
			if err != nil {
				return err
			}
			item.ID = id
			saved = append(saved, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0)
	q := s.sb.Select(saleItemColumns...).From("sale_items").Where(squirrel.Eq{"sale_id": saleID}).OrderBy("id ASC")
	if err := s.selectAll(ctx, &items, q); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListHeldSales(ctx context.Context, userID *int64, limit int) ([]domain.Sale, error) {
	q := s.sb.Select(saleColumns...).
		From("sales").
		Where(squirrel.Eq{"status": domain.SaleStatusHeld}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limitOr(limit, 50))
	if userID != nil {
		q = q.Where(squirrel.Eq{"user_id": *userID})
	}

	sales := make([]domain.Sale, 0)
	if err := s.selectAll(ctx, &sales, q); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListRecentSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	q := s.sb.Select(saleColumns...).
		From("sales").
		OrderBy("created_at DESC", "id DESC").
		Limit(limitOr(filter.Limit, 100))
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": filter.From.UTC()})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": filter.To.UTC()})
	}

	sales := make([]domain.Sale, 0)
	if err := s.selectAll(ctx, &sales, q); err != nil {
		return nil, err
	}
	return sales, nil
}
