package ar

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/shared"
	"github.com/importdesk/importdesk/internal/shared/money"
)

// Service handles payment allocation.
type Service struct {
	uow    UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(uow UnitOfWork, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AllocateCustomerPayment spreads a payment over the customer's unpaid
// invoices oldest first. An invoice whose due is fully covered is marked
// paid; the first one that is not receives the remainder and allocation
// stops. Any surplus is added to the customer's credit.
func (s *Service) AllocateCustomerPayment(ctx context.Context, input AllocateInput) (AllocationResult, error) {
	if input.CustomerID == 0 {
		return AllocationResult{}, shared.Validation(ErrInvalidPayment, "customer id required")
	}
	amount := money.Round2(input.Amount)
	if !(amount > 0) || math.IsInf(input.Amount, 0) {
		return AllocationResult{}, shared.Validation(ErrInvalidPayment, "amount %v must be at least one cent", input.Amount)
	}
	if input.PaidOn.IsZero() {
		input.PaidOn = s.now()
	}

	var result AllocationResult
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Customers().GetForUpdate(ctx, input.CustomerID); err != nil {
			return err
		}
		paymentID, err := tx.Payments().InsertPayment(ctx, Payment{
			CustomerID: input.CustomerID,
			For:        PaymentForCustomer,
			Amount:     amount,
			Mode:       input.Mode,
			ReceiptRef: input.ReceiptRef,
			PaidOn:     input.PaidOn,
		})
		if err != nil {
			return err
		}
		result = AllocationResult{PaymentID: paymentID, Allocations: []Allocation{}}

		unpaid, err := tx.Invoices().ListUnpaid(ctx, input.CustomerID, true)
		if err != nil {
			return err
		}
		remaining := amount
		info := sales.PaymentInfo{
			BankOrCash: input.Mode,
			PayerName:  input.PayerName,
			PaidOn:     input.PaidOn,
			ReceiptRef: input.ReceiptRef,
		}
		for _, inv := range unpaid {
			if remaining <= 0 {
				break
			}
			allocated, err := tx.Payments().AllocatedTotal(ctx, inv.Number)
			if err != nil {
				return err
			}
			due := money.Round2(inv.GrossTotal - allocated)
			alloc := Allocation{PaymentID: paymentID, InvoiceNumber: inv.Number, Due: due}
			if remaining >= due {
				alloc.Amount = math.Max(due, 0)
				alloc.Settled = true
				if err := tx.Invoices().MarkPaid(ctx, inv.Number, info); err != nil {
					return err
				}
			} else {
				alloc.Amount = remaining
			}
			if alloc.Amount > 0 {
				if err := tx.Payments().InsertAllocation(ctx, alloc); err != nil {
					return err
				}
			}
			remaining = money.Round2(remaining - alloc.Amount)
			result.Allocations = append(result.Allocations, alloc)
			if !alloc.Settled {
				break
			}
		}
		result.Unallocated = remaining
		if remaining > 0 {
			return tx.Customers().AddCredit(ctx, input.CustomerID, remaining)
		}
		return nil
	})
	if err != nil {
		return AllocationResult{}, shared.Persistence(err)
	}

	s.logger.InfoContext(ctx, "customer payment allocated",
		slog.Int64("customer_id", input.CustomerID),
		slog.Int64("payment_id", result.PaymentID),
		slog.Float64("amount", amount),
		slog.Int("invoices", len(result.Allocations)),
		slog.Float64("unallocated", result.Unallocated))
	return result, nil
}

// RecordInvoicePayment pays a single invoice. Covering the outstanding due
// marks the invoice paid and any surplus becomes customer credit; a smaller
// amount is kept as a partial allocation.
func (s *Service) RecordInvoicePayment(ctx context.Context, input InvoicePaymentInput) (Allocation, error) {
	number := strings.TrimSpace(input.InvoiceNumber)
	if number == "" {
		return Allocation{}, shared.Validation(ErrInvalidPayment, "invoice number required")
	}
	if input.Amount < 0 || math.IsNaN(input.Amount) || math.IsInf(input.Amount, 0) {
		return Allocation{}, shared.Validation(ErrInvalidPayment, "amount must not be negative")
	}
	// Zero settles the outstanding due; anything else must be a whole cent.
	settle := input.Amount == 0
	if !settle && money.Round2(input.Amount) == 0 {
		return Allocation{}, shared.Validation(ErrInvalidPayment, "amount %v must be at least one cent", input.Amount)
	}
	if input.PaidOn.IsZero() {
		input.PaidOn = s.now()
	}

	var (
		alloc   Allocation
		surplus float64
	)
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if inv.IsPaid {
			return shared.Conflict(ErrAlreadyPaid, "invoice %s is paid", number)
		}
		allocated, err := tx.Payments().AllocatedTotal(ctx, number)
		if err != nil {
			return err
		}
		due := money.Round2(inv.GrossTotal - allocated)
		amount := money.Round2(input.Amount)
		if settle {
			amount = math.Max(due, 0)
		}

		alloc = Allocation{InvoiceNumber: number, Due: due}
		if amount > 0 {
			alloc.PaymentID, err = tx.Payments().InsertPayment(ctx, Payment{
				CustomerID:    inv.CustomerID,
				For:           PaymentForInvoice,
				InvoiceNumber: number,
				Amount:        amount,
				Mode:          input.Mode,
				ReceiptRef:    input.ReceiptRef,
				PaidOn:        input.PaidOn,
			})
			if err != nil {
				return err
			}
		}
		alloc.Amount = math.Min(amount, math.Max(due, 0))
		if alloc.Amount > 0 {
			if err := tx.Payments().InsertAllocation(ctx, alloc); err != nil {
				return err
			}
		}
		if amount < due {
			return nil
		}
		alloc.Settled = true
		if err := tx.Invoices().MarkPaid(ctx, number, sales.PaymentInfo{
			BankOrCash: input.Mode,
			PayerName:  input.PayerName,
			PaidOn:     input.PaidOn,
			ReceiptRef: input.ReceiptRef,
		}); err != nil {
			return err
		}
		surplus = money.Round2(amount - alloc.Amount)
		if surplus > 0 {
			return tx.Customers().AddCredit(ctx, inv.CustomerID, surplus)
		}
		return nil
	})
	if err != nil {
		return Allocation{}, shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "invoice payment recorded",
		slog.String("invoice_number", number),
		slog.Float64("amount", alloc.Amount),
		slog.Bool("settled", alloc.Settled),
		slog.Float64("credit", surplus))
	return alloc, nil
}

// CalculateAging groups a customer's outstanding invoices by age. asOf
// defaults to now.
func (s *Service) CalculateAging(ctx context.Context, customerID int64, asOf time.Time) (AgingBucket, error) {
	if customerID == 0 {
		return AgingBucket{}, shared.Validation(ErrInvalidPayment, "customer id required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	var bucket AgingBucket
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Customers().Get(ctx, customerID); err != nil {
			return err
		}
		invoices, err := tx.Invoices().ListUnpaid(ctx, customerID, false)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			allocated, err := tx.Payments().AllocatedTotal(ctx, inv.Number)
			if err != nil {
				return err
			}
			outstanding := money.Round2(inv.GrossTotal - allocated)
			if outstanding <= 0 {
				continue
			}
			days := int(asOf.Sub(inv.CreatedAt).Hours() / 24)
			switch {
			case days <= 0:
				bucket.Current += outstanding
			case days <= 30:
				bucket.Bucket30 += outstanding
			case days <= 60:
				bucket.Bucket60 += outstanding
			case days <= 90:
				bucket.Bucket90 += outstanding
			default:
				bucket.Bucket120 += outstanding
			}
		}
		return nil
	})
	if err != nil {
		return AgingBucket{}, shared.Persistence(err)
	}
	return AgingBucket{
		Current:   money.Round2(bucket.Current),
		Bucket30:  money.Round2(bucket.Bucket30),
		Bucket60:  money.Round2(bucket.Bucket60),
		Bucket90:  money.Round2(bucket.Bucket90),
		Bucket120: money.Round2(bucket.Bucket120),
	}, nil
}
