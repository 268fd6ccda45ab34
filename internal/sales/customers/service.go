package customers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/importdesk/importdesk/internal/shared"
)

// Service manages customer master data.
type Service struct {
	repo   TxRepository
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo TxRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Create registers a customer with a zero balance.
func (s *Service) Create(ctx context.Context, req CreateCustomerRequest) (Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Customer{}, shared.Validation(ErrInvalidCustomer, "name required")
	}
	if req.CreditLimit < 0 {
		return Customer{}, shared.Validation(ErrInvalidCustomer, "credit limit must not be negative")
	}
	c := Customer{Name: name, Filer: req.Filer, CreditLimit: req.CreditLimit}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return Customer{}, shared.Persistence(err)
	}
	s.logger.InfoContext(ctx, "customer created", slog.Int64("customer_id", id), slog.Bool("filer", c.Filer))
	return s.Get(ctx, id)
}

// Get loads a customer.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Customer{}, shared.Persistence(err)
	}
	return c, nil
}

// List returns a page of customers.
func (s *Service) List(ctx context.Context, req ListCustomersRequest) ([]Customer, error) {
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	out, err := s.repo.List(ctx, req.Limit, req.Offset)
	if err != nil {
		return nil, shared.Persistence(err)
	}
	return out, nil
}
