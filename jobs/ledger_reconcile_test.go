package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	jobmetrics "github.com/meridian-ims/meridian-ims/internal/jobs"
)

type splitBrainRepo struct {
	ledger  []inventory.SnapshotRow
	current []inventory.SnapshotRow
}

func (r splitBrainRepo) BalancesAt(_ context.Context, _ time.Time, _ inventory.SnapshotFilter) ([]inventory.SnapshotRow, error) {
	return r.ledger, nil
}

func (r splitBrainRepo) CurrentBalances(_ context.Context) ([]inventory.SnapshotRow, error) {
	return r.current, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileHandleReportsDrift(t *testing.T) {
	repo := splitBrainRepo{
		ledger:  []inventory.SnapshotRow{{ProductID: 1, LocationID: 10, Qty: 5}},
		current: []inventory.SnapshotRow{{ProductID: 1, LocationID: 10, Qty: 3}},
	}
	replay := inventory.NewReplayEngine(repo, discardLogger())
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reconciler := NewReconciler(replay, metrics, discardLogger())

	task, err := NewLedgerReconcileTask(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, reconciler.Handle(context.Background(), task))
}

func TestReconcileHandleCleanRun(t *testing.T) {
	rows := []inventory.SnapshotRow{{ProductID: 1, LocationID: 10, Qty: 5}}
	replay := inventory.NewReplayEngine(splitBrainRepo{ledger: rows, current: rows}, discardLogger())
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reconciler := NewReconciler(replay, metrics, discardLogger())

	task, err := NewLedgerReconcileTask(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, reconciler.Handle(context.Background(), task))
}

func TestReconcileHandleRejectsBadPayload(t *testing.T) {
	replay := inventory.NewReplayEngine(splitBrainRepo{}, discardLogger())
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reconciler := NewReconciler(replay, metrics, discardLogger())

	err := reconciler.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
