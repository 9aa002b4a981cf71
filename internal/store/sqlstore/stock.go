package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
)

func (s *Store) InsertStockMove(ctx context.Context, move domain.StockMove) (*domain.StockMove, error) {
	move.CreatedAt = utc(move.CreatedAt)
	id, err := s.insert(ctx, s.sb.Insert("stock_moves").
		Columns("product_id", "qty_change", "reason", "ref_type", "ref_id", "user_id", "note", "created_at").
		Values(move.ProductID, move.QtyChange, move.Reason, nullIfEmpty(move.RefType), move.RefID, move.UserID, nullIfEmpty(move.Note), move.CreatedAt))
	if err != nil {
		return nil, err
	}
	move.ID = id
	return &move, nil
}

func (s *Store) ListStockMoves(ctx context.Context, filter domain.StockMoveFilter) ([]domain.StockMove, error) {
	q := s.sb.Select(
		"m.id", "m.product_id", "m.qty_change", "m.reason",
		"COALESCE(m.ref_type, '') AS ref_type", "m.ref_id", "m.user_id",
		"COALESCE(m.note, '') AS note", "m.created_at",
		"COALESCE(p.name, '') AS product_name", "COALESCE(p.barcode, '') AS product_barcode",
	).
		From("stock_moves m").
		LeftJoin("products p ON p.id = m.product_id").
		OrderBy("m.created_at DESC", "m.id DESC").
		Limit(limitOr(filter.Limit, 200))

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"m.product_id": *filter.ProductID})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"m.created_at": filter.From.UTC()})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"m.created_at": filter.To.UTC()})
	}

	moves := make([]domain.StockMove, 0)
	if err := s.selectAll(ctx, &moves, q); err != nil {
		return nil, err
	}
	return moves, nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int64, limit int, offset int) ([]domain.Product, error) {
	q := s.sb.Select(productColumns...).
		From("products").
		Where(squirrel.LtOrEq{"stock": threshold}).
		OrderBy("stock ASC", "name ASC").
		Limit(limitOr(limit, 200))
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	products := make([]domain.Product, 0)
	if err := s.selectAll(ctx, &products, q); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) StockMoveTotals(ctx context.Context) (map[int64]int64, error) {
	var rows []struct {
		ProductID int64 `db:"product_id"`
		Total     int64 `db:"total"`
	}
	q := s.sb.Select("product_id", "CAST(COALESCE(SUM(qty_change), 0) AS BIGINT) AS total").From("stock_moves").GroupBy("product_id")
	if err := s.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}

	totals := make(map[int64]int64, len(rows))
	for _, row := range rows {
		totals[row.ProductID] = row.Total
	}
	return totals, nil
}
