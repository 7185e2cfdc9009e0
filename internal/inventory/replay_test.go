package inventory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeReplayRepo struct {
	mu      sync.Mutex
	rows    []SnapshotRow
	current []SnapshotRow
	cutoffs []time.Time
}

func (f *fakeReplayRepo) BalancesAt(ctx context.Context, cutoff time.Time, filter SnapshotFilter) ([]SnapshotRow, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, cutoff)
	f.mu.Unlock()
	return f.rows, nil
}

func (f *fakeReplayRepo) CurrentBalances(ctx context.Context) ([]SnapshotRow, error) {
	return f.current, nil
}

func snapshotFixture() []SnapshotRow {
	return []SnapshotRow{
		{ProductID: 1, LocationID: 10, SKU: "WID-1", ProductName: "Widget", WarehouseName: "Main", LocationCode: "A-01", Qty: 10, UnitCost: decimal.RequireFromString("2.50")},
		{ProductID: 1, VariantID: 100, LocationID: 10, SKU: "WID-1", VariantSKU: "WID-1-RED", ProductName: "Widget", WarehouseName: "Main", LocationCode: "A-01", Qty: 4, UnitCost: decimal.RequireFromString("3.00")},
		{ProductID: 2, LocationID: 11, SKU: "GAD-2", ProductName: "Gadget", WarehouseName: "Main", LocationCode: "B-02", Qty: 1, UnitCost: decimal.RequireFromString("10.00")},
	}
}

func TestSummaryAggregatesSnapshotRows(t *testing.T) {
	repo := &fakeReplayRepo{rows: snapshotFixture()}
	engine := NewReplayEngine(repo, nil)

	summary, err := engine.SummaryAt(context.Background(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Variant SKUs count separately from their parent product SKU.
	require.Equal(t, 3, summary.SKUCount)
	require.InDelta(t, 15, summary.TotalQty, 1e-9)
	// 10*2.50 + 4*3.00 + 1*10.00
	require.True(t, summary.TotalValue.Equal(decimal.RequireFromString("47.00")), "got %s", summary.TotalValue)
}

func TestValueFallsBackToAvgCost(t *testing.T) {
	// no catalog cost set, valuation uses the ledger's moving average
	row := SnapshotRow{Qty: 4, AvgCost: decimal.RequireFromString("1.25")}
	require.True(t, row.Value().Equal(decimal.RequireFromString("5.00")), "got %s", row.Value())

	// a catalog cost wins over the average
	row.UnitCost = decimal.RequireFromString("2.00")
	require.True(t, row.Value().Equal(decimal.RequireFromString("8.00")), "got %s", row.Value())
}

func TestSummaryRequiresCutoff(t *testing.T) {
	engine := NewReplayEngine(&fakeReplayRepo{}, nil)
	_, err := engine.SnapshotAt(context.Background(), time.Time{}, SnapshotFilter{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMonthEndCutoffIncludesWholeMonth(t *testing.T) {
	repo := &fakeReplayRepo{}
	engine := NewReplayEngine(repo, nil)

	_, err := engine.MonthEndSummary(context.Background(), 2026, time.February)
	require.NoError(t, err)
	require.Len(t, repo.cutoffs, 1)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), repo.cutoffs[0])
}

func TestTrendSeriesOrderAndWindow(t *testing.T) {
	repo := &fakeReplayRepo{rows: snapshotFixture()}
	engine := NewReplayEngine(repo, nil)

	series, err := engine.TrendSeries(context.Background(), time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC), 3)
	require.NoError(t, err)
	require.Len(t, series, 3)
	require.Equal(t, time.June, series[0].Month)
	require.Equal(t, time.July, series[1].Month)
	require.Equal(t, time.August, series[2].Month)
	for _, point := range series {
		require.Equal(t, 2026, point.Year)
		require.InDelta(t, 15, point.Summary.TotalQty, 1e-9)
	}

	_, err = engine.TrendSeries(context.Background(), time.Time{}, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestReconcileFindsDrift(t *testing.T) {
	ledger := []SnapshotRow{
		{ProductID: 1, LocationID: 10, Qty: 10},
		{ProductID: 2, LocationID: 11, Qty: 5},
	}
	current := []SnapshotRow{
		{ProductID: 1, LocationID: 10, Qty: 10},
		{ProductID: 2, LocationID: 11, Qty: 7},
		{ProductID: 3, LocationID: 12, Qty: 1},
	}
	engine := NewReplayEngine(&fakeReplayRepo{rows: ledger, current: current}, nil)

	drift, err := engine.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 2)

	require.Equal(t, int64(2), drift[0].ProductID)
	require.InDelta(t, 5, drift[0].LedgerQty, 1e-9)
	require.InDelta(t, 7, drift[0].BalanceQty, 1e-9)

	require.Equal(t, int64(3), drift[1].ProductID)
	require.InDelta(t, 0, drift[1].LedgerQty, 1e-9)
	require.InDelta(t, 1, drift[1].BalanceQty, 1e-9)
}

func TestReconcileCleanWhenInSync(t *testing.T) {
	rows := snapshotFixture()
	engine := NewReplayEngine(&fakeReplayRepo{rows: rows, current: rows}, nil)

	drift, err := engine.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, drift)
}

func TestWriteSnapshotCSV(t *testing.T) {
	var buf bytes.Buffer
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteSnapshotCSV(&buf, cutoff, snapshotFixture()))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "# Report: Stock Snapshot\r\n"))
	require.Contains(t, out, "# As Of: 2026-08-01T00:00:00Z | Rows: 3")
	require.Contains(t, out, "SKU,Product,Variant SKU,Category,Warehouse,Location,Qty,Unit Cost,Value")
	require.Contains(t, out, "WID-1,Widget,WID-1-RED,,Main,A-01,4,3.00,12.00")
	require.Contains(t, out, "Totals,,Value,,,,,,47.00")

	lines := strings.Split(strings.TrimRight(out, "\r\n"), "\r\n")
	// 2 comments + header + 3 rows + blank + 3 totals.
	require.Len(t, lines, 10)
}
