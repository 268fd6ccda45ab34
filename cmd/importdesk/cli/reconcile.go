package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/importdesk/importdesk/internal/inventory"
)

// Reconciler verifies the inventory ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, itemID string, gdID int64) (inventory.ReconcileReport, error)
}

// ReconcileOptions defines the flags of the reconcile command.
type ReconcileOptions struct {
	ItemID     string
	GDID       int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON form of a reconcile run.
type ReconcileSummary struct {
	OK            bool                `json:"ok"`
	Checked       int                 `json:"checked"`
	Discrepancies []ReconcileMismatch `json:"discrepancies"`
}

// ReconcileMismatch reports one (item, GD) pair out of balance.
type ReconcileMismatch struct {
	ItemID    string  `json:"item_id"`
	GDID      int64   `json:"gd_id"`
	Expected  float64 `json:"expected"`
	Remaining float64 `json:"remaining"`
}

// ReconcileCommand runs reconciliation synchronously and prints the outcome.
// It exits 10 when any discrepancy is found.
func ReconcileCommand(ctx context.Context, svc Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.GDID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: --gd must not be negative")
		return 1
	}
	report, err := svc.Reconcile(ctx, opts.ItemID, opts.GDID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	summary := buildReconcileSummary(report)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildReconcileSummary(report inventory.ReconcileReport) ReconcileSummary {
	mismatches := make([]ReconcileMismatch, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		mismatches = append(mismatches, ReconcileMismatch{
			ItemID:    d.ItemID,
			GDID:      d.GDID,
			Expected:  d.Expected(),
			Remaining: d.Remaining,
		})
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].ItemID == mismatches[j].ItemID {
			return mismatches[i].GDID < mismatches[j].GDID
		}
		return mismatches[i].ItemID < mismatches[j].ItemID
	})
	return ReconcileSummary{OK: len(mismatches) == 0, Checked: report.Checked, Discrepancies: mismatches}
}

func renderReconcileHuman(out io.Writer, summary ReconcileSummary) {
	p := message.NewPrinter(language.English)
	_, _ = p.Fprintf(out, "Checked %d item/GD pair(s)\n", summary.Checked)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Batches agree with the inventory log.")
		return
	}
	_, _ = p.Fprintf(out, "%d discrepancy(ies):\n", len(summary.Discrepancies))
	for _, m := range summary.Discrepancies {
		_, _ = p.Fprintf(out, " - %s in GD %d: expected %.2f, remaining %.2f\n", m.ItemID, m.GDID, m.Expected, m.Remaining)
	}
}
