package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/inventory"
	jobmetrics "github.com/importdesk/importdesk/internal/jobs"
	_ "github.com/importdesk/importdesk/testing"
)

type fakeReconciler struct {
	mu      sync.Mutex
	calls   []string
	reports map[string]inventory.ReconcileReport
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, itemID string, _ int64) (inventory.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	if f.err != nil {
		return inventory.ReconcileReport{}, f.err
	}
	return f.reports[itemID], nil
}

type fakePurger struct {
	olderThan time.Duration
	purged    int64
	err       error
}

func (f *fakePurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.purged, f.err
}

func mismatch(itemID string) inventory.Discrepancy {
	return inventory.Discrepancy{
		LedgerTotals: inventory.LedgerTotals{ItemID: itemID, GDID: 1, Stocked: 10, Remaining: 8},
		Difference:   -2,
	}
}

// gathered sums every counter series by metric name.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
		}
	}
	return out
}

func TestReconcileJobMergesReports(t *testing.T) {
	rec := &fakeReconciler{reports: map[string]inventory.ReconcileReport{
		"A": {Checked: 2, Discrepancies: []inventory.Discrepancy{mismatch("A")}},
		"B": {Checked: 1},
		"C": {Checked: 3, Discrepancies: []inventory.Discrepancy{mismatch("C")}},
	}}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewReconcileJob(rec, nil, metrics)

	task, err := NewReconcileTask(ReconcilePayload{ItemIDs: []string{"A", "B", "C"}})
	require.NoError(t, err)
	require.Equal(t, TaskInventoryReconcile, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))

	require.ElementsMatch(t, []string{"A", "B", "C"}, rec.calls)

	report, err := job.Run(context.Background(), ReconcilePayload{ItemIDs: []string{"A", "B", "C"}})
	require.NoError(t, err)
	require.Equal(t, 6, report.Checked)
	require.Len(t, report.Discrepancies, 2)

	require.InDelta(t, 4, gathered(t, reg)["importdesk_inventory_discrepancies_total"], 1e-9)
}

func TestReconcileJobEmptyPayloadChecksEverything(t *testing.T) {
	rec := &fakeReconciler{}
	job := NewReconcileJob(rec, nil, nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, nil)))
	require.Equal(t, []string{""}, rec.calls)
}

func TestReconcileJobFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewReconcileJob(&fakeReconciler{err: boom}, nil, nil)
	task, err := NewReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewReconcileJob(&fakeReconciler{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *ReconcileJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, nil)))
}

func TestCleanupJob(t *testing.T) {
	purger := &fakePurger{purged: 4}
	reg := prometheus.NewRegistry()
	job := NewCleanupJob(purger, nil, jobmetrics.NewMetrics(reg))

	task, err := NewCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, purger.olderThan)

	task, err = NewCleanupTask(0)
	require.NoError(t, err)
	var payload CleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, defaultRetention, payload.Retention)

	purger.err = errors.New("timeout")
	require.Error(t, job.Handle(context.Background(), task))

	values := gathered(t, reg)
	require.InDelta(t, 4, values["importdesk_idempotency_keys_purged_total"], 1e-9)
	require.InDelta(t, 1, values["importdesk_jobs_failures_total"], 1e-9)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

func TestHealthReportsUnknownQueueAsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })

	r := chi.NewRouter()
	NewHandler(inspector, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "queue unavailable", body.Title)
	require.Equal(t, http.StatusServiceUnavailable, body.Status)
}
