package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Service validates and coordinates catalog operations.
type Service struct {
	repo *Repository
}

// NewService builds Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// ListProducts returns a filtered product page with its exact total.
func (s *Service) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filter)
}

// GetProduct fetches one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: product id", ErrValidation)
	}
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct validates and inserts a product.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	if p.StockType == "" {
		p.StockType = StockTypeStocked
	}
	p.IsActive = true
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct validates and rewrites a product.
func (s *Service) UpdateProduct(ctx context.Context, p Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: product id", ErrValidation)
	}
	if err := validateProduct(p); err != nil {
		return err
	}
	return s.repo.UpdateProduct(ctx, p)
}

// GetVariant fetches one variant.
func (s *Service) GetVariant(ctx context.Context, id int64) (Variant, error) {
	if id <= 0 {
		return Variant{}, fmt.Errorf("%w: variant id", ErrValidation)
	}
	return s.repo.GetVariant(ctx, id)
}

// ListVariants lists a product's variants.
func (s *Service) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id", ErrValidation)
	}
	return s.repo.ListVariants(ctx, productID)
}

// CreateVariant validates and inserts a variant. The parent product must exist.
func (s *Service) CreateVariant(ctx context.Context, v Variant) (Variant, error) {
	if v.ProductID <= 0 || v.SKU == "" {
		return Variant{}, fmt.Errorf("%w: variant requires product and sku", ErrValidation)
	}
	if v.ReorderPoint < 0 {
		return Variant{}, fmt.Errorf("%w: reorder point must be >= 0", ErrValidation)
	}
	// empty stock type inherits the product's
	if v.StockType != "" && !v.StockType.Valid() {
		return Variant{}, fmt.Errorf("%w: unknown stock type %q", ErrValidation, v.StockType)
	}
	if _, err := s.repo.GetProduct(ctx, v.ProductID); err != nil {
		return Variant{}, err
	}
	v.IsActive = true
	return s.repo.CreateVariant(ctx, v)
}

// ListLocations lists locations, optionally for one warehouse.
func (s *Service) ListLocations(ctx context.Context, warehouseID int64) ([]Location, error) {
	return s.repo.ListLocations(ctx, warehouseID)
}

// CreateLot registers a batch identity for perishable tracking.
func (s *Service) CreateLot(ctx context.Context, lot Lot) (Lot, error) {
	if lot.LotNumber == "" {
		return Lot{}, fmt.Errorf("%w: lot number required", ErrValidation)
	}
	return s.repo.CreateLot(ctx, lot)
}

func validateProduct(p Product) error {
	if p.SKU == "" || p.Name == "" {
		return fmt.Errorf("%w: sku and name required", ErrValidation)
	}
	if p.ReorderPoint < 0 {
		return fmt.Errorf("%w: reorder point must be >= 0", ErrValidation)
	}
	if p.UnitCost.IsNegative() {
		return fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
	}
	if p.StockType != "" && !p.StockType.Valid() {
		return fmt.Errorf("%w: unknown stock type %q", ErrValidation, p.StockType)
	}
	return nil
}

func parseCost(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	cost, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("catalog: parse cost: %w", err)
	}
	return cost, nil
}
