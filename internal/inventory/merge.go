package inventory

import (
	"context"
	"fmt"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// VariantRef is the slice of variant data the merge needs.
type VariantRef struct {
	ID        int64
	ProductID int64
	IsActive  bool
}

// MergeResult summarises what a variant merge changed.
type MergeResult struct {
	SourceVariantID int64 `json:"source_variant_id"`
	TargetVariantID int64 `json:"target_variant_id"`
	LinesRewritten  int64 `json:"lines_rewritten"`
	BalancesMoved   int   `json:"balances_moved"`
}

// MergeVariants consolidates a duplicate variant into a canonical one. All of
// the source's ledger lines are rewritten to the target and tagged
// MERGE_REWRITE, its balances are folded into the target's (added where the
// target already holds stock at a location, moved otherwise), and the source
// is soft-retired. The whole merge is one transaction.
func (s *Service) MergeVariants(ctx context.Context, sourceID, targetID, actorID int64) (MergeResult, error) {
	if sourceID == 0 || targetID == 0 {
		return MergeResult{}, fmt.Errorf("%w: source and target required", ErrMerge)
	}
	if sourceID == targetID {
		return MergeResult{}, fmt.Errorf("%w: source and target are the same variant", ErrMerge)
	}
	var result MergeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetVariantForMerge(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("%w: source variant %d: %v", ErrMerge, sourceID, err)
		}
		target, err := tx.GetVariantForMerge(ctx, targetID)
		if err != nil {
			return fmt.Errorf("%w: target variant %d: %v", ErrMerge, targetID, err)
		}
		if source.ProductID != target.ProductID {
			return fmt.Errorf("%w: variants belong to different products", ErrMerge)
		}

		rewritten, err := tx.ReassignMovementLines(ctx, sourceID, targetID, MergeRewriteTag)
		if err != nil {
			return err
		}

		balances, err := tx.ListVariantBalances(ctx, sourceID)
		if err != nil {
			return err
		}
		for _, balance := range balances {
			if err := tx.FoldBalanceInto(ctx, balance, targetID); err != nil {
				return err
			}
		}

		if err := tx.RetireVariant(ctx, sourceID); err != nil {
			return err
		}
		result = MergeResult{
			SourceVariantID: sourceID,
			TargetVariantID: targetID,
			LinesRewritten:  rewritten,
			BalancesMoved:   len(balances),
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "VARIANT_MERGE",
			Entity:   "variant",
			EntityID: fmt.Sprintf("%d", sourceID),
			OldData:  map[string]any{"variant_id": sourceID},
			NewData: map[string]any{
				"variant_id":      targetID,
				"lines_rewritten": result.LinesRewritten,
				"balances_moved":  result.BalancesMoved,
				"rewrite_tag":     MergeRewriteTag,
			},
		})
	}
	return result, nil
}
