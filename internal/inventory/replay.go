package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// SnapshotRow is one (product, variant, location) result of a point-in-time
// replay, joined with the metadata reporting needs.
type SnapshotRow struct {
	ProductID     int64           `json:"product_id" db:"product_id"`
	VariantID     int64           `json:"variant_id" db:"variant_id"`
	LocationID    int64           `json:"location_id" db:"location_id"`
	SKU           string          `json:"sku" db:"sku"`
	ProductName   string          `json:"product_name" db:"product_name"`
	VariantSKU    string          `json:"variant_sku" db:"variant_sku"`
	CategoryName  string          `json:"category_name" db:"category_name"`
	WarehouseName string          `json:"warehouse_name" db:"warehouse_name"`
	LocationCode  string          `json:"location_code" db:"location_code"`
	Qty           float64         `json:"qty" db:"qty"`
	UnitCost      decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	AvgCost       decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// Value is the row's valuation, qty times the effective unit cost. The
// effective cost prefers the variant's cost over the product's, and falls
// back to the ledger's moving-average cost when neither is set.
func (r SnapshotRow) Value() decimal.Decimal {
	cost := r.UnitCost
	if cost.IsZero() {
		cost = r.AvgCost
	}
	return cost.Mul(decimal.NewFromFloat(r.Qty))
}

// SnapshotFilter narrows a snapshot after replay.
type SnapshotFilter struct {
	CategoryID  int64
	WarehouseID int64
	Search      string
}

// SnapshotSummary is the pure aggregate view of a snapshot.
type SnapshotSummary struct {
	SKUCount   int             `json:"sku_count"`
	TotalQty   float64         `json:"total_qty"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// MonthSummary is one point of the month-over-month trend series.
type MonthSummary struct {
	Year    int             `json:"year"`
	Month   time.Month      `json:"month"`
	Summary SnapshotSummary `json:"summary"`
}

// DriftRow reports a divergence between the replayed ledger and the balance
// cache for one key. Any drift is a bug in posting, not in replay.
type DriftRow struct {
	BalanceKey
	LedgerQty  float64 `json:"ledger_qty"`
	BalanceQty float64 `json:"balance_qty"`
}

// ReplayRepository reads the ledger and the balance cache. It never mutates.
type ReplayRepository interface {
	// BalancesAt replays every POSTED movement line posted strictly before
	// cutoff and returns the nonzero per-key sums, joined with metadata.
	BalancesAt(ctx context.Context, cutoff time.Time, filter SnapshotFilter) ([]SnapshotRow, error)
	// CurrentBalances returns the live balance cache in the same row shape.
	CurrentBalances(ctx context.Context) ([]SnapshotRow, error)
}

// ReplayEngine reconstructs stock on hand at arbitrary historical cutoffs.
type ReplayEngine struct {
	repo   ReplayRepository
	logger *slog.Logger
}

// NewReplayEngine builds ReplayEngine.
func NewReplayEngine(repo ReplayRepository, logger *slog.Logger) *ReplayEngine {
	return &ReplayEngine{repo: repo, logger: logger}
}

// SnapshotAt returns the detailed per-location stock listing as of cutoff.
func (e *ReplayEngine) SnapshotAt(ctx context.Context, cutoff time.Time, filter SnapshotFilter) ([]SnapshotRow, error) {
	if cutoff.IsZero() {
		return nil, fmt.Errorf("%w: cutoff required", ErrValidation)
	}
	return e.repo.BalancesAt(ctx, cutoff, filter)
}

// SummaryAt returns the aggregate snapshot view. It aggregates the same rows
// SnapshotAt returns, so the two views cannot disagree.
func (e *ReplayEngine) SummaryAt(ctx context.Context, cutoff time.Time) (SnapshotSummary, error) {
	rows, err := e.SnapshotAt(ctx, cutoff, SnapshotFilter{})
	if err != nil {
		return SnapshotSummary{}, err
	}
	return summarise(rows), nil
}

// MonthEndSummary replays the ledger as of the first instant after the given
// month, i.e. all movements posted within it count.
func (e *ReplayEngine) MonthEndSummary(ctx context.Context, year int, month time.Month) (SnapshotSummary, error) {
	cutoff := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return e.SummaryAt(ctx, cutoff)
}

// TrendSeries computes months consecutive month-end summaries ending with the
// month containing end. The replays run concurrently; each is read-only.
func (e *ReplayEngine) TrendSeries(ctx context.Context, end time.Time, months int) ([]MonthSummary, error) {
	if months <= 0 || months > 36 {
		return nil, fmt.Errorf("%w: months must be between 1 and 36", ErrValidation)
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	series := make([]MonthSummary, months)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < months; i++ {
		point := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i-months+1, 0)
		idx := i
		g.Go(func() error {
			summary, err := e.MonthEndSummary(gctx, point.Year(), point.Month())
			if err != nil {
				return err
			}
			series[idx] = MonthSummary{Year: point.Year(), Month: point.Month(), Summary: summary}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// Reconcile compares a replay at "now" against the balance cache and returns
// every key where they disagree. An empty result is the healthy state.
func (e *ReplayEngine) Reconcile(ctx context.Context) ([]DriftRow, error) {
	ledger, err := e.repo.BalancesAt(ctx, time.Now().UTC(), SnapshotFilter{})
	if err != nil {
		return nil, err
	}
	live, err := e.repo.CurrentBalances(ctx)
	if err != nil {
		return nil, err
	}

	type pair struct{ ledger, balance float64 }
	byKey := make(map[BalanceKey]*pair, len(ledger))
	for _, row := range ledger {
		key := BalanceKey{ProductID: row.ProductID, VariantID: row.VariantID, LocationID: row.LocationID}
		byKey[key] = &pair{ledger: row.Qty}
	}
	for _, row := range live {
		key := BalanceKey{ProductID: row.ProductID, VariantID: row.VariantID, LocationID: row.LocationID}
		if p, ok := byKey[key]; ok {
			p.balance = row.Qty
		} else {
			byKey[key] = &pair{balance: row.Qty}
		}
	}

	var drift []DriftRow
	for key, p := range byKey {
		if math.Abs(p.ledger-p.balance) > 1e-6 {
			drift = append(drift, DriftRow{BalanceKey: key, LedgerQty: p.ledger, BalanceQty: p.balance})
		}
	}
	sort.Slice(drift, func(i, j int) bool {
		if drift[i].ProductID != drift[j].ProductID {
			return drift[i].ProductID < drift[j].ProductID
		}
		if drift[i].VariantID != drift[j].VariantID {
			return drift[i].VariantID < drift[j].VariantID
		}
		return drift[i].LocationID < drift[j].LocationID
	})
	if len(drift) > 0 && e.logger != nil {
		e.logger.Warn("ledger drift detected", slog.Int("keys", len(drift)))
	}
	return drift, nil
}

func summarise(rows []SnapshotRow) SnapshotSummary {
	skus := make(map[string]struct{}, len(rows))
	summary := SnapshotSummary{TotalValue: decimal.Zero}
	for _, row := range rows {
		sku := row.SKU
		if row.VariantSKU != "" {
			sku = row.VariantSKU
		}
		skus[sku] = struct{}{}
		summary.TotalQty += row.Qty
		summary.TotalValue = summary.TotalValue.Add(row.Value())
	}
	summary.SKUCount = len(skus)
	return summary
}
