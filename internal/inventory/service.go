package inventory

import (
	"context"
	"log/slog"
	"math"

	"github.com/importdesk/importdesk/internal/shared"
)

const (
	defaultCardLimit = 200
	maxCardLimit     = 1000
)

// ReadRepository serves queries outside any write transaction.
type ReadRepository interface {
	ListBatches(ctx context.Context, itemID string, gdID int64) ([]Batch, error)
	StockCard(ctx context.Context, filter StockCardFilter) ([]LogEntry, error)
	LedgerTotals(ctx context.Context, itemID string, gdID int64) ([]LedgerTotals, error)
}

// Service answers stock queries and verifies the ledger.
type Service struct {
	repo   ReadRepository
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo ReadRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Batches lists live batches of an item in FIFO order. gdID 0 spans all GDs.
func (s *Service) Batches(ctx context.Context, itemID string, gdID int64) ([]Batch, error) {
	if itemID == "" {
		return nil, validationItem()
	}
	batches, err := s.repo.ListBatches(ctx, itemID, gdID)
	if err != nil {
		return nil, err
	}
	sortFIFO(batches)
	return batches, nil
}

// StockCard lists ledger movements for an item.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]LogEntry, error) {
	if filter.ItemID == "" {
		return nil, validationItem()
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultCardLimit
	}
	if filter.Limit > maxCardLimit {
		filter.Limit = maxCardLimit
	}
	return s.repo.StockCard(ctx, filter)
}

// Reconcile compares live batch quantities with stocked - consumed + restocked
// from the log. Empty itemID and zero gdID check every pair.
func (s *Service) Reconcile(ctx context.Context, itemID string, gdID int64) (ReconcileReport, error) {
	totals, err := s.repo.LedgerTotals(ctx, itemID, gdID)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Checked: len(totals)}
	for _, t := range totals {
		diff := t.Remaining - t.Expected()
		if math.Abs(diff) <= 1e-6 {
			continue
		}
		report.Discrepancies = append(report.Discrepancies, Discrepancy{LedgerTotals: t, Difference: diff})
		s.logger.WarnContext(ctx, "inventory ledger mismatch",
			slog.String("item_id", t.ItemID),
			slog.Int64("gd_id", t.GDID),
			slog.Float64("expected", t.Expected()),
			slog.Float64("remaining", t.Remaining))
	}
	return report, nil
}

func validationItem() error {
	return shared.Validation(ErrItemRequired, "item id required")
}
