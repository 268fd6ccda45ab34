package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/jobs"
)

type stubReconciler struct {
	report inventory.ReconcileReport
	err    error
	itemID string
}

func (s *stubReconciler) Reconcile(_ context.Context, itemID string, _ int64) (inventory.ReconcileReport, error) {
	s.itemID = itemID
	return s.report, s.err
}

func TestReconcileCommandClean(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stub := &stubReconciler{report: inventory.ReconcileReport{Checked: 1200}}
	code := ReconcileCommand(context.Background(), stub, ReconcileOptions{ItemID: "GD-1-6403-1", Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code)
	require.Equal(t, "GD-1-6403-1", stub.itemID)
	require.Contains(t, stdout.String(), "Checked 1,200")
	require.Empty(t, stderr.String())
}

func TestReconcileCommandReportsMismatchesAsJSON(t *testing.T) {
	var stdout bytes.Buffer
	stub := &stubReconciler{report: inventory.ReconcileReport{
		Checked: 2,
		Discrepancies: []inventory.Discrepancy{
			{LedgerTotals: inventory.LedgerTotals{ItemID: "B", GDID: 2, Stocked: 5, Remaining: 4}, Difference: -1},
			{LedgerTotals: inventory.LedgerTotals{ItemID: "A", GDID: 1, Stocked: 10, Consumed: 3, Remaining: 8}, Difference: 1},
		},
	}}
	code := ReconcileCommand(context.Background(), stub, ReconcileOptions{JSONOutput: true, Stdout: &stdout})
	require.Equal(t, 10, code)

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Discrepancies, 2)
	require.Equal(t, "A", summary.Discrepancies[0].ItemID)
	require.InDelta(t, 7, summary.Discrepancies[0].Expected, 1e-9)
}

func TestReconcileCommandErrors(t *testing.T) {
	var stderr bytes.Buffer
	code := ReconcileCommand(context.Background(), &stubReconciler{err: errors.New("db down")}, ReconcileOptions{Stdout: &bytes.Buffer{}, Stderr: &stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "db down")

	code = ReconcileCommand(context.Background(), &stubReconciler{}, ReconcileOptions{GDID: -1, Stdout: &bytes.Buffer{}, Stderr: &stderr})
	require.Equal(t, 1, code)
}

func TestPrintInvoiceGroupsThousands(t *testing.T) {
	var out bytes.Buffer
	err := PrintInvoice(&out, sales.InvoiceWithItems{
		Invoice: sales.Invoice{
			Number:     "INV-20240301-0001",
			CustomerID: 3,
			GDID:       7,
			TaxSection: "236H",
			GrossTotal: 1234.5,
			SalesTax:   188.31,
			IsPaid:     true,
			CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Items: []sales.InvoiceItem{{ItemID: "GD-7-6403-1", QuantitySold: 30, SaleRate: 35}},
	})
	require.NoError(t, err)

	text := out.String()
	require.Contains(t, text, "INV-20240301-0001")
	require.Contains(t, text, "[PAID]")
	require.Contains(t, text, "1,234.50")
	require.Contains(t, text, "1,050.00")
}

func TestTaskFor(t *testing.T) {
	task, err := TaskFor(jobs.TaskInventoryReconcile, []string{"X"})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskInventoryReconcile, task.Type())

	task, err = TaskFor(jobs.TaskIdempotencyCleanup, nil)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())

	_, err = TaskFor("mail:send", nil)
	require.Error(t, err)
}
