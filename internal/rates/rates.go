// Package rates fetches the live local-currency exchange rate from a
// third-party market-data source, with a static fallback so invoice creation
// never fails on a rate lookup.
package rates

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source yields the current rate of the local currency against the reference
// currency (local units per one reference unit).
type Source interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// MarketClient fetches the rate from an HTTP ticker endpoint. The response is
// expected to be a JSON object carrying the price under a configurable key;
// unrelated keys are ignored.
type MarketClient struct {
	url      string
	priceKey string
	http     *http.Client
}

// NewMarketClient creates a MarketClient for the ticker at url. priceKey
// selects the JSON field holding the price; it defaults to "price".
func NewMarketClient(url, priceKey string, hc *http.Client) *MarketClient {
	if priceKey == "" {
		priceKey = "price"
	}
	return &MarketClient{url: url, priceKey: priceKey, http: hc}
}

// Rate fetches and parses the current market rate. Any failure (transport,
// non-2xx status, malformed body, non-numeric or non-positive price) is
// returned as an error; callers decide the fallback policy.
func (c *MarketClient) Rate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build rate request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch rate")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("rate source returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read rate response")
	}

	rate, err := c.parse(body)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse rate response")
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.Errorf("non-positive rate %s", rate)
	}
	return rate, nil
}

// parse extracts the price field. Market tickers are inconsistent about
// numeric encoding, so both JSON numbers and numeric strings are accepted.
func (c *MarketClient) parse(body []byte) (decimal.Decimal, error) {
	var raw string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != c.priceKey {
			return d.Skip()
		}
		switch d.Next() {
		case jx.Number:
			num, err := d.Num()
			if err != nil {
				return err
			}
			raw = num.String()
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			raw = s
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return decimal.Zero, err
	}
	if raw == "" {
		return decimal.Zero, errors.Errorf("missing %q field", c.priceKey)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "non-numeric rate %q", raw)
	}
	return rate, nil
}

// fallbackSource wraps a Source so lookups never fail: on any error it logs
// and substitutes the configured static rate.
type fallbackSource struct {
	src    Source
	static decimal.Decimal
	lg     *zap.Logger
}

// WithFallback returns a Source that delegates to src and substitutes the
// static rate on any failure. When src is nil the static rate is always used.
func WithFallback(src Source, static decimal.Decimal, lg *zap.Logger) Source {
	return &fallbackSource{src: src, static: static, lg: lg}
}

func (f *fallbackSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	if f.src == nil {
		return f.static, nil
	}
	rate, err := f.src.Rate(ctx)
	if err != nil {
		f.lg.Warn("Rate lookup failed, using static fallback",
			zap.Error(err),
			zap.String("fallback", f.static.String()),
		)
		return f.static, nil
	}
	return rate, nil
}
