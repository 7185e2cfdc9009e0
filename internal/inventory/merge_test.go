package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMergeVariantsRewritesAndFolds(t *testing.T) {
	repo := newFakeLedger()
	repo.variants[100] = VariantRef{ID: 100, ProductID: 1, IsActive: true}
	repo.variants[200] = VariantRef{ID: 200, ProductID: 1, IsActive: true}
	svc := newTestService(repo, true)
	ctx := context.Background()

	// Source holds stock at two locations, one overlapping the target.
	_, err := svc.PostNew(ctx, PostInput{Type: MovementTypeReceive, Lines: []LineInput{
		{ProductID: 1, VariantID: 100, ToLocationID: 10, Qty: 4, UnitCost: decimal.RequireFromString("2")},
		{ProductID: 1, VariantID: 100, ToLocationID: 11, Qty: 6, UnitCost: decimal.RequireFromString("2")},
	}})
	require.NoError(t, err)
	_, err = svc.PostNew(ctx, PostInput{Type: MovementTypeReceive, Lines: []LineInput{
		{ProductID: 1, VariantID: 200, ToLocationID: 10, Qty: 3, UnitCost: decimal.RequireFromString("2")},
	}})
	require.NoError(t, err)

	result, err := svc.MergeVariants(ctx, 100, 200, 7)
	require.NoError(t, err)
	require.Equal(t, int64(100), result.SourceVariantID)
	require.Equal(t, int64(200), result.TargetVariantID)
	require.Equal(t, int64(2), result.LinesRewritten)
	require.Equal(t, 2, result.BalancesMoved)

	// Source balances are gone, target absorbed them.
	for key := range repo.balances {
		require.NotEqual(t, int64(100), key.VariantID)
	}
	require.InDelta(t, 7, repo.balances[BalanceKey{ProductID: 1, VariantID: 200, LocationID: 10}].Qty, 1e-9)
	require.InDelta(t, 6, repo.balances[BalanceKey{ProductID: 1, VariantID: 200, LocationID: 11}].Qty, 1e-9)

	// Ledger lines carry the rewrite marker and the target variant.
	var tagged int
	for _, lines := range repo.lines {
		for _, line := range lines {
			require.NotEqual(t, int64(100), line.VariantID)
			if line.RewriteTag == MergeRewriteTag {
				tagged++
				require.Equal(t, int64(200), line.VariantID)
			}
		}
	}
	require.Equal(t, 2, tagged)

	require.False(t, repo.variants[100].IsActive)
	require.True(t, repo.variants[200].IsActive)
}

func TestMergeVariantsGuards(t *testing.T) {
	repo := newFakeLedger()
	repo.variants[100] = VariantRef{ID: 100, ProductID: 1, IsActive: true}
	repo.variants[300] = VariantRef{ID: 300, ProductID: 2, IsActive: true}
	svc := newTestService(repo, true)
	ctx := context.Background()

	_, err := svc.MergeVariants(ctx, 100, 100, 7)
	require.ErrorIs(t, err, ErrMerge)

	_, err = svc.MergeVariants(ctx, 100, 300, 7)
	require.ErrorIs(t, err, ErrMerge)

	_, err = svc.MergeVariants(ctx, 100, 999, 7)
	require.ErrorIs(t, err, ErrMerge)

	// Nothing was retired by the failed attempts.
	require.True(t, repo.variants[100].IsActive)
	require.True(t, repo.variants[300].IsActive)
}
