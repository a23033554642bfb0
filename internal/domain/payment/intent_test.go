package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/gateway"
)

// --- Mock implementations ---

type mockCartReader struct {
	carts map[string]*commerce.Cart
}

func (m *mockCartReader) GetCart(_ context.Context, id string) (*commerce.Cart, error) {
	c, ok := m.carts[id]
	if !ok {
		return nil, commerce.ErrNotFound
	}
	return c, nil
}

type mockRateSource struct {
	rate decimal.Decimal
	err  error
}

func (m *mockRateSource) Rate(_ context.Context) (decimal.Decimal, error) {
	return m.rate, m.err
}

type mockGateway struct {
	calls   []gateway.InvoiceRequest
	invoice *gateway.Invoice
	err     error
}

func (m *mockGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.invoice, nil
}

// --- Helpers ---

func testIntentConfig() IntentConfig {
	return IntentConfig{
		ReferenceCurrency: "USD",
		MinAmount:         decimal.NewFromInt(2),
		IPNCallbackURL:    "https://shop.example/api/payments/webhook",
		SuccessURL:        "https://shop.example/checkout/success",
		CancelURL:         "https://shop.example/checkout/cancel",
	}
}

func newCart(id, currency string, total int64) *commerce.Cart {
	return &commerce.Cart{
		ID:           id,
		Total:        decimal.NewFromInt(total),
		CurrencyCode: currency,
	}
}

// --- Tests ---

func TestCreate_ConvertsAndCreatesInvoice(t *testing.T) {
	gw := &mockGateway{invoice: &gateway.Invoice{ID: "inv_1", InvoiceURL: "https://pay.example/inv_1"}}
	svc := NewIntentService(
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "IRR", 6_400_000)}},
		&mockRateSource{rate: decimal.NewFromInt(1_600_000)},
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	inv, err := svc.Create(context.Background(), "cart_1", "")
	require.NoError(t, err)
	assert.Equal(t, "inv_1", inv.ID)

	require.Len(t, gw.calls, 1)
	req := gw.calls[0]
	assert.Equal(t, "4", req.PriceAmount.String())
	assert.Equal(t, "usd", req.PriceCurrency)
	assert.Equal(t, "cart_1", req.OrderID)
	assert.Equal(t, "https://shop.example/api/payments/webhook", req.IPNCallback)
	assert.Empty(t, req.PayCurrency)
}

func TestCreate_PinsPayCurrency(t *testing.T) {
	gw := &mockGateway{invoice: &gateway.Invoice{ID: "inv_1", InvoiceURL: "https://pay.example/inv_1"}}
	svc := NewIntentService(
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "USD", 10)}},
		&mockRateSource{rate: decimal.NewFromInt(1)},
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "cart_1", "TRX")
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "trx", gw.calls[0].PayCurrency)
}

func TestCreate_RoundsHalfUp(t *testing.T) {
	gw := &mockGateway{invoice: &gateway.Invoice{ID: "inv_1", InvoiceURL: "u"}}
	svc := NewIntentService(
		// 5_000_000 / 1_600_000 = 3.125 -> 3.13
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "IRR", 5_000_000)}},
		&mockRateSource{rate: decimal.NewFromInt(1_600_000)},
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "cart_1", "")
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "3.13", gw.calls[0].PriceAmount.String())
}

func TestCreate_BelowMinimumNoGatewayCall(t *testing.T) {
	gw := &mockGateway{invoice: &gateway.Invoice{ID: "inv_1", InvoiceURL: "u"}}
	svc := NewIntentService(
		// 1_500_000 / 1_600_000 = 0.9375 -> 0.94, below the $2 floor.
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "IRR", 1_500_000)}},
		&mockRateSource{rate: decimal.NewFromInt(1_600_000)},
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "cart_1", "")

	var belowMin *BelowMinimumError
	require.ErrorAs(t, err, &belowMin)
	assert.Equal(t, "0.94", belowMin.Amount.String())
	assert.Empty(t, gw.calls, "gateway must not be called for amounts below the floor")
}

func TestCreate_ReferenceCurrencySkipsConversion(t *testing.T) {
	gw := &mockGateway{invoice: &gateway.Invoice{ID: "inv_1", InvoiceURL: "u"}}
	rateSrc := &mockRateSource{err: errors.New("rate source must not be used")}
	svc := NewIntentService(
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "USD", 25)}},
		rateSrc,
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "cart_1", "")
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "25", gw.calls[0].PriceAmount.String())
}

func TestCreate_CartNotFound(t *testing.T) {
	svc := NewIntentService(
		&mockCartReader{carts: map[string]*commerce.Cart{}},
		&mockRateSource{rate: decimal.NewFromInt(1)},
		&mockGateway{},
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "missing", "")
	assert.ErrorIs(t, err, commerce.ErrNotFound)
}

func TestCreate_GatewayFailure(t *testing.T) {
	gw := &mockGateway{err: errors.New("boom")}
	svc := NewIntentService(
		&mockCartReader{carts: map[string]*commerce.Cart{"cart_1": newCart("cart_1", "USD", 10)}},
		&mockRateSource{rate: decimal.NewFromInt(1)},
		gw,
		testIntentConfig(),
		zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "cart_1", "")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}
