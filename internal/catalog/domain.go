// Package catalog holds the master data the ledger references: products,
// variants, warehouses, locations, categories and lots.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StockType controls whether reorder alerts apply to an item.
type StockType string

const (
	// StockTypeStocked items are replenished against a reorder point.
	StockTypeStocked StockType = "STOCKED"
	// StockTypeMadeToOrder items are produced on demand and never alerted.
	StockTypeMadeToOrder StockType = "MADE_TO_ORDER"
	// StockTypeDropShip items ship straight from the supplier.
	StockTypeDropShip StockType = "DROP_SHIP"
)

// Valid reports whether the stock type is one of the known values.
func (t StockType) Valid() bool {
	switch t {
	case StockTypeStocked, StockTypeMadeToOrder, StockTypeDropShip:
		return true
	}
	return false
}

// Product is a sellable item.
type Product struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	CategoryID   int64           `json:"category_id"`
	StockType    StockType       `json:"stock_type"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ReorderPoint float64         `json:"reorder_point"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Variant narrows a product by option values and may override its SKU, cost
// and reorder point. A zero UnitCost means "inherit from the product".
type Variant struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	SKU           string          `json:"sku"`
	OptionSummary string          `json:"option_summary"`
	StockType     StockType       `json:"stock_type"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReorderPoint  float64         `json:"reorder_point"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Category groups products for filtering and reporting.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Warehouse is a physical site holding locations.
type Warehouse struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Location is a bin within a warehouse. Every balance and movement endpoint
// references exactly one location.
type Location struct {
	ID          int64  `json:"id"`
	WarehouseID int64  `json:"warehouse_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
}

// Lot is an optional batch identity for perishable tracking.
type Lot struct {
	ID             int64     `json:"id"`
	LotNumber      string    `json:"lot_number"`
	ExpiryDate     time.Time `json:"expiry_date"`
	ManufacturedAt time.Time `json:"manufactured_at"`
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search     string
	CategoryID int64
	ActiveOnly bool
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates a missing catalog record.
	ErrNotFound = errors.New("catalog: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("catalog: invalid input")
)
