package pricing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solemart/checkout-api/internal/commerce"
)

func testParams() Params {
	return Params{
		Rate:         decimal.NewFromInt(650_000),
		Margin:       decimal.RequireFromString("1.035"),
		RoundingUnit: decimal.NewFromInt(50_000),
		CurrencyCode: "IRR",
	}
}

func TestBuildUpdates_ComputesTarget(t *testing.T) {
	// 10 * 650000 * 1.035 = 6_727_500; ceil to the next 50_000 -> 6_750_000.
	variants := []commerce.Variant{
		{ID: "var_1", Metadata: map[string]any{"usd_value": "10"}},
	}

	updates, skipped := BuildUpdates(variants, testParams())

	require.Len(t, updates, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "var_1", updates[0].VariantID)
	assert.Equal(t, "IRR", updates[0].CurrencyCode)
	assert.True(t, updates[0].Amount.Equal(decimal.NewFromInt(6_750_000)),
		"got %s", updates[0].Amount)
}

func TestBuildUpdates_ExactMultipleNotBumped(t *testing.T) {
	// 10 * 650000 * 1 = 6_500_000, already a multiple of the unit.
	p := testParams()
	p.Margin = decimal.NewFromInt(1)
	variants := []commerce.Variant{
		{ID: "var_1", Metadata: map[string]any{"usd_value": "10"}},
	}

	updates, _ := BuildUpdates(variants, p)

	require.Len(t, updates, 1)
	assert.True(t, updates[0].Amount.Equal(decimal.NewFromInt(6_500_000)),
		"got %s", updates[0].Amount)
}

func TestBuildUpdates_MetadataTypeCoercion(t *testing.T) {
	variants := []commerce.Variant{
		{ID: "var_str", Metadata: map[string]any{"usd_value": "10"}},
		{ID: "var_num", Metadata: map[string]any{"usd_value": json.Number("10")}},
		{ID: "var_f64", Metadata: map[string]any{"usd_value": float64(10)}},
		{ID: "var_int", Metadata: map[string]any{"usd_value": 10}},
	}

	updates, skipped := BuildUpdates(variants, testParams())

	require.Len(t, updates, 4)
	assert.Zero(t, skipped)
	for _, u := range updates {
		assert.True(t, u.Amount.Equal(decimal.NewFromInt(6_750_000)), "%s got %s", u.VariantID, u.Amount)
	}
}

func TestBuildUpdates_SkipsUnusableVariants(t *testing.T) {
	variants := []commerce.Variant{
		{ID: "var_missing", Metadata: map[string]any{}},
		{ID: "var_nil_meta"},
		{ID: "var_text", Metadata: map[string]any{"usd_value": "not a number"}},
		{ID: "var_zero", Metadata: map[string]any{"usd_value": "0"}},
		{ID: "var_negative", Metadata: map[string]any{"usd_value": "-5"}},
		{ID: "var_ok", Metadata: map[string]any{"usd_value": "10"}},
	}

	updates, skipped := BuildUpdates(variants, testParams())

	require.Len(t, updates, 1, "unusable variants must not abort the batch")
	assert.Equal(t, 5, skipped)
	assert.Equal(t, "var_ok", updates[0].VariantID)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, testParams().Validate())

	bad := testParams()
	bad.Rate = decimal.Zero
	assert.Error(t, bad.Validate())

	bad = testParams()
	bad.Margin = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())

	bad = testParams()
	bad.RoundingUnit = decimal.Zero
	assert.Error(t, bad.Validate())

	bad = testParams()
	bad.CurrencyCode = ""
	assert.Error(t, bad.Validate())
}

type mockCatalog struct {
	mu       sync.Mutex
	upserted []commerce.PriceUpdate
	failOn   string
}

func (m *mockCatalog) ListVariants(_ context.Context) ([]commerce.Variant, error) {
	return nil, nil
}

func (m *mockCatalog) UpsertPrice(_ context.Context, update commerce.PriceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if update.VariantID == m.failOn {
		return errors.New("backend rejected price")
	}
	m.upserted = append(m.upserted, update)
	return nil
}

func TestApply_WritesAllUpdates(t *testing.T) {
	catalog := &mockCatalog{}
	updates := []commerce.PriceUpdate{
		{VariantID: "var_1", CurrencyCode: "IRR", Amount: decimal.NewFromInt(6_750_000)},
		{VariantID: "var_2", CurrencyCode: "IRR", Amount: decimal.NewFromInt(1_300_000)},
		{VariantID: "var_3", CurrencyCode: "IRR", Amount: decimal.NewFromInt(700_000)},
	}

	err := Apply(context.Background(), catalog, updates, 2)

	require.NoError(t, err)
	assert.Len(t, catalog.upserted, 3)
}

func TestApply_PropagatesFailure(t *testing.T) {
	catalog := &mockCatalog{failOn: "var_2"}
	updates := []commerce.PriceUpdate{
		{VariantID: "var_1", Amount: decimal.NewFromInt(1)},
		{VariantID: "var_2", Amount: decimal.NewFromInt(2)},
	}

	err := Apply(context.Background(), catalog, updates, 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "var_2")
}
