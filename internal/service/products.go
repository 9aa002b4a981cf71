package service

import (
	"context"
	"errors"
	"strings"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
	"kasirpos/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, strings.TrimSpace(query), clampLimit(limit, 200, 1000))
	if err != nil {
		return nil, engineErr(err)
	}
	return products, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, apperror.Validation("barcode is required")
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, apperror.NotFoundMessage("Product not found").WithDetail("barcode", barcode)
		}
		return domain.Product{}, engineErr(err)
	}
	return *product, nil
}

// CreateProduct adds a catalog entry. Initial stock enters through a RECEIVE
// move in the same unit so the ledger replays to the stored quantity.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, apperror.Validation("name is required")
	}
	if req.Barcode == "" {
		return domain.Product{}, apperror.Validation("barcode is required")
	}
	if req.Price <= 0 {
		return domain.Product{}, apperror.Validation("price must be > 0")
	}
	if req.Cost < 0 {
		return domain.Product{}, apperror.Validation("cost must be >= 0")
	}
	if req.InitialStock < 0 {
		return domain.Product{}, apperror.Validation("initialStock must be >= 0")
	}

	var created domain.Product
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.repo.CreateProduct(ctx, domain.Product{
			Barcode:   req.Barcode,
			Name:      req.Name,
			Cost:      req.Cost,
			Price:     req.Price,
			CreatedAt: s.now(),
		})
		if err != nil {
			return productErr(err, 0)
		}
		created = *product

		if req.InitialStock > 0 {
			snapshot, err := s.applyMove(ctx, move{
				productID: product.ID,
				delta:     req.InitialStock,
				reason:    domain.ReasonReceive,
				refType:   domain.RefTypeInitial,
				userID:    actorID(ctx),
				note:      "initial stock",
			})
			if err != nil {
				return err
			}
			created.Stock = snapshot.Stock
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, engineErr(err)
	}
	return created, nil
}

// UpdateProduct patches catalog fields. Stock is never written here.
func (s *Service) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if id <= 0 {
		return domain.Product{}, apperror.Validation("id is required")
	}

	var saved domain.Product
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			return productErr(err, id)
		}

		updated := *existing
		if patch.Barcode != nil {
			barcode := strings.TrimSpace(*patch.Barcode)
			if barcode == "" {
				return apperror.Validation("barcode is required")
			}
			updated.Barcode = barcode
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperror.Validation("name is required")
			}
			updated.Name = name
		}
		if patch.Price != nil {
			if *patch.Price <= 0 {
				return apperror.Validation("price must be > 0")
			}
			updated.Price = *patch.Price
		}
		if patch.Cost != nil {
			if *patch.Cost < 0 {
				return apperror.Validation("cost must be >= 0")
			}
			updated.Cost = *patch.Cost
		}

		product, err := s.repo.UpdateProduct(ctx, updated)
		if err != nil {
			return productErr(err, id)
		}

		s.logAudit(ctx, domain.AuditProductEdit, map[string]any{
			"productId": product.ID,
			"barcode":   product.Barcode,
			"oldPrice":  existing.Price,
			"price":     product.Price,
			"cost":      product.Cost,
		})
		saved = *product
		return nil
	})
	if err != nil {
		return domain.Product{}, engineErr(err)
	}
	return saved, nil
}

// DeleteProduct removes a product that never appeared on a sale. Its stock
// moves stay in the ledger.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if id <= 0 {
		return apperror.Validation("id is required")
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetProduct(ctx, id); err != nil {
			return productErr(err, id)
		}
		used, err := s.repo.ProductHasSales(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return apperror.Conflict("Cannot delete product: it has sales history")
		}
		return productErr(s.repo.DeleteProduct(ctx, id), id)
	})
	return engineErr(err)
}

func productErr(err error, id int64) error {
	if errors.Is(err, store.ErrDuplicate) {
		return apperror.Duplicate(apperror.CodeDuplicateBarcode, "Barcode already exists")
	}
	return storeErr(err, "Product", id)
}
