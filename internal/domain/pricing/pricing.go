// Package pricing converts per-variant usd_value metadata into local-currency
// price upserts. The computation is pure: nothing is written until the caller
// applies the resulting instructions against the pricing backend.
package pricing

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/solemart/checkout-api/internal/commerce"
)

// metadataKey is the variant metadata field holding the USD base price.
const metadataKey = "usd_value"

// Params are the inputs to one recompute pass.
type Params struct {
	// Rate is the local-currency price of one USD.
	Rate decimal.Decimal
	// Margin is a multiplicative markup, e.g. 1.035 for 3.5%.
	Margin decimal.Decimal
	// RoundingUnit is the granularity prices are rounded to. Rounding is
	// always UP: the margin is protected, never eroded by rounding.
	RoundingUnit decimal.Decimal
	// CurrencyCode denominates the emitted prices.
	CurrencyCode string
}

// Validate rejects parameter sets that would produce nonsense prices.
func (p Params) Validate() error {
	if !p.Rate.IsPositive() {
		return errors.New("rate must be positive")
	}
	if !p.Margin.IsPositive() {
		return errors.New("margin must be positive")
	}
	if !p.RoundingUnit.IsPositive() {
		return errors.New("rounding unit must be positive")
	}
	if p.CurrencyCode == "" {
		return errors.New("currency code required")
	}
	return nil
}

// BuildUpdates computes one upsert instruction per variant carrying a usable
// usd_value. Variants with a missing, non-numeric, or non-positive usd_value
// are skipped without aborting the batch; the skip count is returned for
// reporting.
//
// target = ceil(usd_value * rate * margin / unit) * unit
func BuildUpdates(variants []commerce.Variant, p Params) ([]commerce.PriceUpdate, int) {
	updates := make([]commerce.PriceUpdate, 0, len(variants))
	skipped := 0

	for _, v := range variants {
		usd, ok := usdValue(v.Metadata)
		if !ok || !usd.IsPositive() {
			skipped++
			continue
		}

		amount := usd.Mul(p.Rate).Mul(p.Margin).
			Div(p.RoundingUnit).Ceil().Mul(p.RoundingUnit)

		updates = append(updates, commerce.PriceUpdate{
			VariantID:    v.ID,
			CurrencyCode: p.CurrencyCode,
			Amount:       amount,
		})
	}
	return updates, skipped
}

// usdValue coerces the metadata entry into a decimal. Backends are sloppy
// about metadata types, so JSON numbers, json.Number, and numeric strings all
// count.
func usdValue(metadata map[string]any) (decimal.Decimal, bool) {
	raw, ok := metadata[metadataKey]
	if !ok {
		return decimal.Zero, false
	}

	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Zero, false
	}
}

// Apply writes the updates through the catalog client, at most parallel
// in-flight at a time. The first failure cancels the remaining upserts.
func Apply(ctx context.Context, catalog commerce.Catalog, updates []commerce.PriceUpdate, parallel int) error {
	if parallel < 1 {
		parallel = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, u := range updates {
		g.Go(func() error {
			if err := catalog.UpsertPrice(ctx, u); err != nil {
				return errors.Wrapf(err, "variant %s", u.VariantID)
			}
			return nil
		})
	}
	return g.Wait()
}
