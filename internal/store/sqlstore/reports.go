package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
)

func paidSalesWhere(alias string, filter domain.ReportFilter) squirrel.And {
	where := squirrel.And{squirrel.Eq{alias + "status": domain.SaleStatusPaid}}
	if filter.From != nil {
		where = append(where, squirrel.GtOrEq{alias + "created_at": filter.From.UTC()})
	}
	if filter.To != nil {
		where = append(where, squirrel.LtOrEq{alias + "created_at": filter.To.UTC()})
	}
	if filter.UserID != nil {
		where = append(where, squirrel.Eq{alias + "user_id": *filter.UserID})
	}
	return where
}

func (s *Store) ReportSummary(ctx context.Context, filter domain.ReportFilter) (domain.ReportSummary, error) {
	var summary domain.ReportSummary
	q := s.sb.Select(
		"CAST(COALESCE(SUM(total), 0) AS BIGINT) AS gross_sales",
		"COUNT(*) AS transactions",
	).From("sales").Where(paidSalesWhere("", filter))
	if err := s.get(ctx, &summary, q); err != nil {
		return domain.ReportSummary{}, err
	}
	return summary, nil
}

func (s *Store) ReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error) {
	q := s.sb.Select(saleColumns...).
		From("sales").
		Where(paidSalesWhere("", filter)).
		OrderBy("created_at DESC", "id DESC").
		Limit(limitOr(filter.Limit, 200))

	sales := make([]domain.Sale, 0)
	if err := s.selectAll(ctx, &sales, q); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ReportTopProducts(ctx context.Context, filter domain.ReportFilter) ([]domain.TopProduct, error) {
	q := s.sb.Select(
		"si.product_id AS product_id",
		"COALESCE(si.name, '') AS name",
		"COALESCE(si.barcode, '') AS barcode",
		"CAST(SUM(si.qty) AS BIGINT) AS qty_sold",
		"CAST(SUM(si.line_total) AS BIGINT) AS revenue",
		"CAST(SUM(si.cost * si.qty) AS BIGINT) AS cost_total",
		"CAST(SUM(si.line_total) - SUM(si.cost * si.qty) AS BIGINT) AS profit",
	).
		From("sale_items si").
		Join("sales s ON s.id = si.sale_id").
		Where(paidSalesWhere("s.", filter)).
		GroupBy("si.product_id", "si.name", "si.barcode").
		OrderBy("qty_sold DESC", "revenue DESC", "si.product_id ASC").
		Limit(limitOr(filter.Limit, 30))

	rows := make([]domain.TopProduct, 0)
	if err := s.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}
