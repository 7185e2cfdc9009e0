// Package inventory implements the stock ledger: movement posting, balances,
// point-in-time replay, variant merge and the low-stock query.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementTypeReceive represents inbound goods, e.g. a GRN posting.
	MovementTypeReceive MovementType = "RECEIVE"
	// MovementTypeIssue represents outbound goods.
	MovementTypeIssue MovementType = "ISSUE"
	// MovementTypeTransfer moves stock between two locations.
	MovementTypeTransfer MovementType = "TRANSFER"
	// MovementTypeAdjust corrects a balance up or down.
	MovementTypeAdjust MovementType = "ADJUST"
	// MovementTypeReturn represents goods coming back into stock.
	MovementTypeReturn MovementType = "RETURN"
)

// MovementStatus enumerates the movement document lifecycle. Only POSTED
// movements affect balances and the ledger replay.
type MovementStatus string

const (
	MovementStatusDraft     MovementStatus = "DRAFT"
	MovementStatusPosted    MovementStatus = "POSTED"
	MovementStatusCancelled MovementStatus = "CANCELLED"
)

// MergeRewriteTag marks movement lines whose variant reference was rewritten
// by a variant merge. Lines carrying it are the audited exception to the
// immutable-ledger rule.
const MergeRewriteTag = "MERGE_REWRITE"

// Movement models the header of one posting document.
type Movement struct {
	ID        int64          `json:"id"`
	Number    string         `json:"number"`
	Type      MovementType   `json:"type"`
	Status    MovementStatus `json:"status"`
	Note      string         `json:"note"`
	RefModule string         `json:"ref_module"`
	RefID     string         `json:"ref_id"`
	PostedAt  time.Time      `json:"posted_at"`
	CreatedBy int64          `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}

// MovementLine is one ledger row. Once its movement is POSTED the line is
// immutable; corrections happen through new compensating movements. VariantID,
// FromLocationID, ToLocationID and LotID use zero for "none".
type MovementLine struct {
	ID             int64           `json:"id"`
	MovementID     int64           `json:"movement_id"`
	ProductID      int64           `json:"product_id"`
	VariantID      int64           `json:"variant_id"`
	FromLocationID int64           `json:"from_location_id"`
	ToLocationID   int64           `json:"to_location_id"`
	Qty            float64         `json:"qty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	LotID          int64           `json:"lot_id"`
	OrderRef       string          `json:"order_ref"`
	RewriteTag     string          `json:"rewrite_tag,omitempty"`
}

// BalanceKey identifies one stock balance aggregate.
type BalanceKey struct {
	ProductID  int64 `json:"product_id"`
	VariantID  int64 `json:"variant_id"`
	LocationID int64 `json:"location_id"`
}

// StockBalance is the current on-hand aggregate for one key. It is a
// materialised cache of the ledger; any divergence from replay is a bug.
type StockBalance struct {
	BalanceKey
	Qty       float64         `json:"qty"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PostInput describes a movement batch to create and post.
type PostInput struct {
	Number    string
	Type      MovementType
	Note      string
	ActorID   int64
	RefModule string
	RefID     string
	Lines     []LineInput
}

// LineInput describes one requested movement line.
type LineInput struct {
	ProductID      int64
	VariantID      int64
	FromLocationID int64
	ToLocationID   int64
	Qty            float64
	UnitCost       decimal.Decimal
	LotID          int64
	OrderRef       string
}

// StockCardEntry is a chronological ledger listing row for one balance key.
type StockCardEntry struct {
	Number     string          `json:"number"`
	Type       MovementType    `json:"type"`
	PostedAt   time.Time       `json:"posted_at"`
	QtyIn      float64         `json:"qty_in"`
	QtyOut     float64         `json:"qty_out"`
	BalanceQty float64         `json:"balance_qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Note       string          `json:"note"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	ProductID  int64
	VariantID  int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
}

var (
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrNegativeStock is returned when a movement would drive a balance
	// negative and the engine is configured to forbid that.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidState occurs when a movement is posted or cancelled from a
	// status that forbids it.
	ErrInvalidState = errors.New("inventory: invalid state transition")
	// ErrNotFound indicates a missing movement or balance.
	ErrNotFound = errors.New("inventory: not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrUnknownRef indicates a line referencing a missing product, variant
	// or location, or a variant that belongs to another product.
	ErrUnknownRef = errors.New("inventory: unknown reference")
	// ErrMerge indicates an invalid variant merge request.
	ErrMerge = errors.New("inventory: merge rejected")
)

// balanceEffect is one signed contribution a line makes to a balance key.
type balanceEffect struct {
	key      BalanceKey
	delta    float64
	unitCost decimal.Decimal
}

// lineEffects resolves a line into its balance contributions. The rule is
// uniform for live posting and replay: a set from-location is debited by qty,
// a set to-location credited by qty. Which endpoints must be set depends on
// the movement type; ADJUST takes exactly one, so a downward adjustment is an
// ADJUST line with only the from-location set.
func lineEffects(t MovementType, line MovementLine) ([]balanceEffect, error) {
	if line.Qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if line.ProductID == 0 {
		return nil, fmt.Errorf("%w: product required", ErrValidation)
	}
	hasFrom := line.FromLocationID != 0
	hasTo := line.ToLocationID != 0

	switch t {
	case MovementTypeReceive, MovementTypeReturn:
		if !hasTo || hasFrom {
			return nil, fmt.Errorf("%w: %s requires a destination location only", ErrValidation, t)
		}
	case MovementTypeIssue:
		if !hasFrom || hasTo {
			return nil, fmt.Errorf("%w: ISSUE requires a source location only", ErrValidation)
		}
	case MovementTypeTransfer:
		if !hasFrom || !hasTo {
			return nil, fmt.Errorf("%w: TRANSFER requires source and destination", ErrValidation)
		}
		if line.FromLocationID == line.ToLocationID {
			return nil, fmt.Errorf("%w: TRANSFER source and destination must differ", ErrValidation)
		}
	case MovementTypeAdjust:
		if hasFrom == hasTo {
			return nil, fmt.Errorf("%w: ADJUST requires exactly one location", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown movement type %q", ErrValidation, t)
	}

	var effects []balanceEffect
	if hasFrom {
		effects = append(effects, balanceEffect{
			key:      BalanceKey{ProductID: line.ProductID, VariantID: line.VariantID, LocationID: line.FromLocationID},
			delta:    -line.Qty,
			unitCost: line.UnitCost,
		})
	}
	if hasTo {
		effects = append(effects, balanceEffect{
			key:      BalanceKey{ProductID: line.ProductID, VariantID: line.VariantID, LocationID: line.ToLocationID},
			delta:    line.Qty,
			unitCost: line.UnitCost,
		})
	}
	return effects, nil
}
