package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	jobmetrics "github.com/meridian-ims/meridian-ims/internal/jobs"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RecipientSource resolves which users receive replenishment alerts.
type RecipientSource interface {
	ApproverIDs(ctx context.Context) ([]int64, error)
}

// LowStockLister lists items at or below their reorder point. Satisfied by
// the inventory low-stock engine.
type LowStockLister interface {
	List(ctx context.Context, filter inventory.LowStockFilter) ([]inventory.LowStockRow, shared.Pagination, error)
}

// LowStockScanner sweeps the balance cache for items at or below their
// reorder point and raises one digest notification per run.
type LowStockScanner struct {
	engine     LowStockLister
	recipients RecipientSource
	publisher  notify.Publisher
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
}

// NewLowStockScanner constructs LowStockScanner.
func NewLowStockScanner(engine LowStockLister, recipients RecipientSource, publisher notify.Publisher, metrics *jobmetrics.Metrics, logger *slog.Logger) *LowStockScanner {
	return &LowStockScanner{engine: engine, recipients: recipients, publisher: publisher, metrics: metrics, logger: logger}
}

// Handle processes TaskLowStockScan tasks.
func (s *LowStockScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := s.metrics.Track("low_stock_scan")
	rows, page, err := s.engine.List(ctx, inventory.LowStockFilter{PerPage: 50})
	if err != nil {
		return tracker.End(err)
	}
	s.metrics.SetLowStock(page.Total)
	if page.Total == 0 {
		s.logger.Info("low stock sweep clean")
		return tracker.End(nil)
	}
	targets, err := s.recipients.ApproverIDs(ctx)
	if err != nil {
		return tracker.End(err)
	}
	message := fmt.Sprintf("%d items at or below their reorder point", page.Total)
	if len(rows) > 0 {
		message = fmt.Sprintf("%s, worst: %s at %s (%.0f on hand)",
			message, displaySKU(rows[0]), rows[0].LocationCode, rows[0].Qty)
	}
	err = s.publisher.Publish(ctx, notify.Notification{
		EventType:     notify.EventLowStock,
		Title:         "Low stock alert",
		Message:       message,
		URL:           "/inventory/low-stock",
		TargetUserIDs: targets,
	})
	return tracker.End(err)
}

func displaySKU(row inventory.LowStockRow) string {
	if row.VariantSKU != "" {
		return row.VariantSKU
	}
	return row.SKU
}
