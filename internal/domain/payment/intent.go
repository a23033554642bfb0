// Package payment implements the two halves of the gateway integration: the
// payment-intent creator that turns a cart into a hosted invoice, and the IPN
// webhook that completes the cart into an order exactly once.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/gateway"
	"github.com/solemart/checkout-api/internal/rates"
)

// ErrGatewayUnavailable wraps any gateway-side failure during invoice
// creation. Handlers map it to upstream-error semantics (5xx), distinct from
// the 4xx validation errors below.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// BelowMinimumError rejects an amount under the gateway's payable floor. It
// is raised before any call to the gateway.
type BelowMinimumError struct {
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("amount %s is below the %s minimum", e.Amount, e.Minimum)
}

// InvoiceCreator is the gateway primitive the intent service drives.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
}

// CartReader is the commerce backend subset the intent service reads.
type CartReader interface {
	GetCart(ctx context.Context, id string) (*commerce.Cart, error)
}

// IntentConfig holds the static knobs for invoice creation.
type IntentConfig struct {
	// ReferenceCurrency is what the gateway prices invoices in, normally USD.
	ReferenceCurrency string
	// MinAmount is the smallest invoice the gateway accepts, in the
	// reference currency.
	MinAmount decimal.Decimal
	// IPNCallbackURL receives the gateway's asynchronous notifications.
	IPNCallbackURL string
	SuccessURL     string
	CancelURL      string
}

// IntentService creates hosted invoices for carts.
type IntentService struct {
	carts   CartReader
	rate    rates.Source
	gateway InvoiceCreator
	cfg     IntentConfig
	lg      *zap.Logger
}

// NewIntentService wires the intent service. The rate source should already
// carry the static fallback; the service treats rate lookups as infallible.
func NewIntentService(carts CartReader, rate rates.Source, gw InvoiceCreator, cfg IntentConfig, lg *zap.Logger) *IntentService {
	return &IntentService{
		carts:   carts,
		rate:    rate,
		gateway: gw,
		cfg:     cfg,
		lg:      lg,
	}
}

// Create fetches the cart, converts its total into the reference currency
// when needed, enforces the minimum payable amount, and requests a hosted
// invoice carrying the cart id as the correlation token.
//
// payCurrency optionally pins the settlement asset the buyer pre-selected.
func (s *IntentService) Create(ctx context.Context, cartID, payCurrency string) (*gateway.Invoice, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch cart")
	}

	amount := cart.Total
	if !strings.EqualFold(cart.CurrencyCode, s.cfg.ReferenceCurrency) {
		rate, err := s.rate.Rate(ctx)
		if err != nil {
			// Unreachable with a fallback-wrapped source; kept so a bare
			// source still fails closed.
			return nil, errors.Wrap(err, "fetch rate")
		}
		if !rate.IsPositive() {
			// A zero rate means the live lookup failed with no static
			// fallback configured. Failing beats dividing by zero.
			return nil, errors.Errorf("unusable exchange rate %s", rate)
		}
		// Round half-up to cents. Decimal.Round rounds half away from zero,
		// which is half-up for the positive amounts handled here.
		amount = cart.Total.Div(rate).Round(2)
	}

	if amount.LessThan(s.cfg.MinAmount) {
		return nil, &BelowMinimumError{Amount: amount, Minimum: s.cfg.MinAmount}
	}

	inv, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		PriceAmount:      amount,
		PriceCurrency:    strings.ToLower(s.cfg.ReferenceCurrency),
		OrderID:          cart.ID,
		OrderDescription: "Cart " + cart.ID,
		PayCurrency:      strings.ToLower(payCurrency),
		IPNCallback:      s.cfg.IPNCallbackURL,
		SuccessURL:       s.cfg.SuccessURL,
		CancelURL:        s.cfg.CancelURL,
	})
	if err != nil {
		s.lg.Error("Invoice creation failed",
			zap.String("cart_id", cart.ID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return nil, errors.Wrapf(ErrGatewayUnavailable, "create invoice for cart %s: %v", cart.ID, err)
	}

	s.lg.Info("Invoice created",
		zap.String("cart_id", cart.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("amount", amount.String()),
		zap.String("currency", s.cfg.ReferenceCurrency),
	)
	return inv, nil
}
