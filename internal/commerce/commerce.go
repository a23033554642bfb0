// Package commerce provides a thin REST client for the externally-owned
// commerce backend (carts, orders, customers, variants, prices). The backend
// owns all persistence; this service only reads carts and drives the
// documented mutation primitives (cart completion, customer registration,
// price upserts) through their HTTP contracts.
package commerce

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the backend has no record for the requested resource.
var ErrNotFound = errors.New("commerce: not found")

// Cart is the externally-owned cart aggregate, read-only to this service.
type Cart struct {
	ID           string
	Email        string
	Total        decimal.Decimal
	CurrencyCode string
}

// Customer is a customer profile owned by the backend. HasAccount
// distinguishes full accounts from guest profiles created at checkout.
type Customer struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	HasAccount bool      `json:"has_account"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Variant is a catalog variant with its free-form metadata map. The pricing
// workflow reads the usd_value metadata key; everything else is opaque.
type Variant struct {
	ID       string         `json:"id"`
	SKU      string         `json:"sku,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// PriceUpdate is an upsert instruction for a single variant price. It is a
// transient computation result, never persisted by this service.
type PriceUpdate struct {
	VariantID    string          `json:"variant_id"`
	CurrencyCode string          `json:"currency_code"`
	Amount       decimal.Decimal `json:"amount"`
}

// Backend groups the cart and order primitives the payment flows depend on.
type Backend interface {
	GetCart(ctx context.Context, id string) (*Cart, error)
	CompleteCart(ctx context.Context, id string) (orderID string, err error)
	FindOrderByCartToken(ctx context.Context, token string) (orderID string, err error)
}

// Accounts groups the customer/credential primitives the OTP flows depend on.
type Accounts interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, firstName, lastName string) (*Customer, error)
	UpdatePassword(ctx context.Context, email, password string) error
	RegisterCredential(ctx context.Context, email, password string) (identityID string, err error)
	LinkCredential(ctx context.Context, identityID, customerID string) error
	MarkRegistered(ctx context.Context, customerID string) error
}

// Catalog groups the variant/price primitives the pricing workflow depends on.
type Catalog interface {
	ListVariants(ctx context.Context) ([]Variant, error)
	UpsertPrice(ctx context.Context, update PriceUpdate) error
}
