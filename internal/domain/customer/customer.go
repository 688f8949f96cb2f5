package customer

// Customer is the provider-agnostic customer record. ID is issued by the
// provider and only meaningful within that provider's namespace.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateRequest is the normalized input of CreateCustomer.
type CreateRequest struct {
	Email          string            `json:"email" validate:"omitempty,email"`
	Name           string            `json:"name,omitempty" validate:"max=256"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// UpdateRequest is the normalized input of UpdateCustomer. Nil fields are left
// unchanged at the provider.
type UpdateRequest struct {
	ID       string            `json:"id" validate:"required"`
	Email    *string           `json:"email,omitempty" validate:"omitempty,email"`
	Name     *string           `json:"name,omitempty" validate:"omitempty,max=256"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
