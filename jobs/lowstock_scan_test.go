package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	jobmetrics "github.com/meridian-ims/meridian-ims/internal/jobs"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

type staticLowStock struct {
	rows []inventory.LowStockRow
}

func (s staticLowStock) List(_ context.Context, filter inventory.LowStockFilter) ([]inventory.LowStockRow, shared.Pagination, error) {
	return s.rows, shared.NewPagination(1, filter.PerPage, len(s.rows)), nil
}

type staticRecipients struct {
	ids []int64
}

func (s staticRecipients) ApproverIDs(_ context.Context) ([]int64, error) {
	return s.ids, nil
}

type capturingPublisher struct {
	published []notify.Notification
}

func (p *capturingPublisher) Publish(_ context.Context, n notify.Notification) error {
	p.published = append(p.published, n)
	return nil
}

func TestLowStockScanNotifiesApprovers(t *testing.T) {
	engine := staticLowStock{rows: []inventory.LowStockRow{
		{ProductID: 1, SKU: "WID-001", VariantSKU: "WID-001-RED", LocationCode: "A-01", Qty: 2, ReorderPoint: 10},
		{ProductID: 2, SKU: "GAD-002", LocationCode: "B-03", Qty: 4, ReorderPoint: 5},
	}}
	publisher := &capturingPublisher{}
	scanner := NewLowStockScanner(engine, staticRecipients{ids: []int64{71, 72}}, publisher,
		jobmetrics.NewMetrics(prometheus.NewRegistry()), discardLogger())

	task, err := NewLowStockScanTask(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, scanner.Handle(context.Background(), task))

	require.Len(t, publisher.published, 1)
	alert := publisher.published[0]
	require.Equal(t, notify.EventLowStock, alert.EventType)
	require.Equal(t, []int64{71, 72}, alert.TargetUserIDs)
	require.Contains(t, alert.Message, "2 items")
	require.Contains(t, alert.Message, "WID-001-RED")
}

func TestLowStockScanCleanRunStaysQuiet(t *testing.T) {
	publisher := &capturingPublisher{}
	scanner := NewLowStockScanner(staticLowStock{}, staticRecipients{}, publisher,
		jobmetrics.NewMetrics(prometheus.NewRegistry()), discardLogger())

	task, err := NewLowStockScanTask(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, scanner.Handle(context.Background(), task))
	require.Empty(t, publisher.published)
}
