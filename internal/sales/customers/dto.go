package customers

// CreateCustomerRequest is the JSON payload for POST /customers.
type CreateCustomerRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Filer       bool    `json:"filer"`
	CreditLimit float64 `json:"credit_limit" validate:"gte=0"`
}

// ListCustomersRequest pages through customers.
type ListCustomersRequest struct {
	Limit  int
	Offset int
}
