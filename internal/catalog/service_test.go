package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		product Product
	}{
		{"missing sku", Product{Name: "Widget"}},
		{"missing name", Product{SKU: "WID-1"}},
		{"negative reorder point", Product{SKU: "WID-1", Name: "Widget", ReorderPoint: -1}},
		{"negative cost", Product{SKU: "WID-1", Name: "Widget", UnitCost: decimal.NewFromInt(-5)}},
		{"unknown stock type", Product{SKU: "WID-1", Name: "Widget", StockType: "CONSIGNMENT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateProduct(ctx, tc.product)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateVariantValidation(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	_, err := svc.CreateVariant(ctx, Variant{SKU: "WID-1-RED"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateVariant(ctx, Variant{ProductID: 1, SKU: "WID-1-RED", ReorderPoint: -2})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateVariant(ctx, Variant{ProductID: 1, SKU: "WID-1-RED", StockType: "BULK"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStockTypeValid(t *testing.T) {
	require.True(t, StockTypeStocked.Valid())
	require.True(t, StockTypeMadeToOrder.Valid())
	require.True(t, StockTypeDropShip.Valid())
	require.False(t, StockType("").Valid())
	require.False(t, StockType("BULK").Valid())
}
