package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	jobmetrics "github.com/meridian-ims/meridian-ims/internal/jobs"
)

// Reconciler runs the nightly ledger-versus-balance sweep. Drift is reported,
// never auto-corrected; a diverged balance means a bug that needs a human.
type Reconciler struct {
	replay  *inventory.ReplayEngine
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewReconciler constructs Reconciler.
func NewReconciler(replay *inventory.ReplayEngine, metrics *jobmetrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{replay: replay, metrics: metrics, logger: logger}
}

// Handle processes TaskLedgerReconcile tasks.
func (r *Reconciler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := r.metrics.Track("ledger_reconcile")
	drift, err := r.replay.Reconcile(ctx)
	if err != nil {
		return tracker.End(err)
	}
	r.metrics.AddDrift(len(drift))
	if len(drift) == 0 {
		r.logger.Info("ledger reconcile clean",
			slog.Time("scheduled_for", payload.ScheduledFor))
		return tracker.End(nil)
	}
	for _, row := range drift {
		r.logger.Error("balance drift",
			slog.Int64("product_id", row.ProductID),
			slog.Int64("variant_id", row.VariantID),
			slog.Int64("location_id", row.LocationID),
			slog.Float64("ledger_qty", row.LedgerQty),
			slog.Float64("balance_qty", row.BalanceQty))
	}
	return tracker.End(nil)
}
