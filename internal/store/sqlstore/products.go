package sqlstore

import (
	"context"
	"errors"
	"strings"

	"github.com/Masterminds/squirrel"

	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

var productColumns = []string{"id", "barcode", "name", "cost", "price", "stock", "created_at"}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	q := s.sb.Select(productColumns...).From("products").Where(squirrel.Eq{"id": id})
	if err := s.get(ctx, &p, s.forUpdate(ctx, q)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var p domain.Product
	q := s.sb.Select(productColumns...).From("products").Where(squirrel.Eq{"barcode": barcode})
	if err := s.get(ctx, &p, q); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	q := s.sb.Select(productColumns...).From("products").OrderBy("id DESC").Limit(limitOr(limit, 200))
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where(squirrel.Or{s.like("name", query), s.like("barcode", query)})
	}

	products := make([]domain.Product, 0)
	if err := s.selectAll(ctx, &products, q); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.CreatedAt = utc(product.CreatedAt)
	id, err := s.insert(ctx, s.sb.Insert("products").
		Columns("barcode", "name", "cost", "price", "stock", "created_at").
		Values(product.Barcode, product.Name, product.Cost, product.Price, product.Stock, product.CreatedAt))
	if err != nil {
		return nil, err
	}
	product.ID = id
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	affected, err := s.exec(ctx, s.sb.Update("products").
		Set("barcode", product.Barcode).
		Set("name", product.Name).
		Set("cost", product.Cost).
		Set("price", product.Price).
		Where(squirrel.Eq{"id": product.ID}))
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	affected, err := s.exec(ctx, s.sb.Delete("products").Where(squirrel.Eq{"id": id}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ProductHasSales(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := s.get(ctx, &found, s.sb.Select("1").From("sale_items").Where(squirrel.Eq{"product_id": id}).Limit(1))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UpdateProductStock(ctx context.Context, id int64, stock int64) error {
	affected, err := s.exec(ctx, s.sb.Update("products").Set("stock", stock).Where(squirrel.Eq{"id": id}))
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
