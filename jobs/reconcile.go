package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/importdesk/importdesk/internal/inventory"
	jobmetrics "github.com/importdesk/importdesk/internal/jobs"
)

const reconcileConcurrency = 4

// Reconciler verifies the inventory ledger for one item or for everything.
type Reconciler interface {
	Reconcile(ctx context.Context, itemID string, gdID int64) (inventory.ReconcileReport, error)
}

// ReconcileJob runs ledger reconciliation and reports mismatches.
type ReconcileJob struct {
	Service Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(service Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the reconcile job.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("inventory reconcile: dependencies not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run reconciles the requested items concurrently and merges the reports.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (report inventory.ReconcileReport, resultErr error) {
	tracker := j.Metrics.Track(TaskInventoryReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	items := payload.ItemIDs
	if len(items) == 0 {
		items = []string{""}
	}

	start := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, itemID := range items {
		g.Go(func() error {
			r, err := j.Service.Reconcile(gctx, itemID, payload.GDID)
			if err != nil {
				j.log().Error("reconcile item", slog.String("item_id", itemID), slog.Any("error", err))
				return err
			}
			mu.Lock()
			report.Checked += r.Checked
			report.Discrepancies = append(report.Discrepancies, r.Discrepancies...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return inventory.ReconcileReport{}, err
	}

	j.Metrics.AddDiscrepancies(len(report.Discrepancies))
	level := slog.LevelInfo
	if len(report.Discrepancies) > 0 {
		level = slog.LevelWarn
	}
	j.log().Log(ctx, level, "inventory reconciled",
		slog.Int("checked", report.Checked),
		slog.Int("discrepancies", len(report.Discrepancies)),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryReconcile))
	}
	return slog.Default().With(slog.String("job", TaskInventoryReconcile))
}
