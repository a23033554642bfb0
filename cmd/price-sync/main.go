// Command price-sync recomputes local-currency variant prices from their
// usd_value metadata and an exchange rate, then upserts them through the
// commerce backend.
//
// Variants come either from the backend (default) or from a gzipped catalog
// export via -catalog-file, which lets the recompute run offline. With
// -dry-run the computed prices are printed and nothing is written.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/domain/pricing"
	"github.com/solemart/checkout-api/internal/rates"
)

func main() {
	var (
		commerceURL   string
		commerceToken string
		rateFlag      string
		ratesURL      string
		priceKey      string
		margin        string
		unit          string
		currency      string
		catalogFile   string
		parallel      int
		dryRun        bool
		timeout       time.Duration
	)

	flag.StringVar(&commerceURL, "commerce-url", os.Getenv("CHECKOUT_COMMERCE_URL"), "commerce backend base URL")
	flag.StringVar(&commerceToken, "commerce-token", os.Getenv("CHECKOUT_COMMERCE_TOKEN"), "commerce backend admin token")
	flag.StringVar(&rateFlag, "rate", "", "exchange rate, local units per USD (overrides -rates-url)")
	flag.StringVar(&ratesURL, "rates-url", "", "market-data ticker URL to fetch the rate from")
	flag.StringVar(&priceKey, "rates-price-key", "price", "JSON field holding the price")
	flag.StringVar(&margin, "margin", "1.035", "multiplicative markup")
	flag.StringVar(&unit, "rounding-unit", "50000", "price rounding granularity, always rounded up")
	flag.StringVar(&currency, "currency", "IRR", "currency code for the emitted prices")
	flag.StringVar(&catalogFile, "catalog-file", "", "gzipped JSON catalog export (offline mode)")
	flag.IntVar(&parallel, "parallel", 4, "max concurrent price upserts")
	flag.BoolVar(&dryRun, "dry-run", false, "print updates without writing")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	lg := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, lg, params{
		commerceURL:   commerceURL,
		commerceToken: commerceToken,
		rate:          rateFlag,
		ratesURL:      ratesURL,
		priceKey:      priceKey,
		margin:        margin,
		unit:          unit,
		currency:      currency,
		catalogFile:   catalogFile,
		parallel:      parallel,
		dryRun:        dryRun,
		timeout:       timeout,
	}); err != nil {
		lg.Error("price sync failed", "err", err)
		os.Exit(1)
	}
}

type params struct {
	commerceURL   string
	commerceToken string
	rate          string
	ratesURL      string
	priceKey      string
	margin        string
	unit          string
	currency      string
	catalogFile   string
	parallel      int
	dryRun        bool
	timeout       time.Duration
}

func run(ctx context.Context, lg *slog.Logger, p params) error {
	hc := &http.Client{Timeout: p.timeout}

	rate, err := resolveRate(ctx, p, hc)
	if err != nil {
		return errors.Wrap(err, "resolve rate")
	}
	margin, err := decimal.NewFromString(p.margin)
	if err != nil {
		return errors.Wrap(err, "parse margin")
	}
	unit, err := decimal.NewFromString(p.unit)
	if err != nil {
		return errors.Wrap(err, "parse rounding unit")
	}

	prm := pricing.Params{
		Rate:         rate,
		Margin:       margin,
		RoundingUnit: unit,
		CurrencyCode: p.currency,
	}
	if err := prm.Validate(); err != nil {
		return errors.Wrap(err, "validate params")
	}

	var client *commerce.Client
	if !p.dryRun || p.catalogFile == "" {
		if p.commerceURL == "" {
			return errors.New("commerce backend URL required: pass -commerce-url or set CHECKOUT_COMMERCE_URL")
		}
		client = commerce.NewClient(p.commerceURL, p.commerceToken, hc)
	}

	var variants []commerce.Variant
	if p.catalogFile != "" {
		variants, err = readCatalogFile(p.catalogFile)
	} else {
		variants, err = client.ListVariants(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "load variants")
	}
	lg.Info("loaded variants", "count", len(variants), "rate", rate.String())

	updates, skipped := pricing.BuildUpdates(variants, prm)
	lg.Info("computed updates", "count", len(updates), "skipped", skipped)

	if p.dryRun {
		for _, u := range updates {
			fmt.Printf("%s\t%s\t%s\n", u.VariantID, u.CurrencyCode, u.Amount)
		}
		return nil
	}

	start := time.Now()
	if err := pricing.Apply(ctx, client, updates, p.parallel); err != nil {
		return errors.Wrap(err, "apply updates")
	}
	lg.Info("prices updated", "count", len(updates), "took", time.Since(start).String())
	return nil
}

// resolveRate prefers an explicit -rate, then a live lookup from -rates-url.
func resolveRate(ctx context.Context, p params, hc *http.Client) (decimal.Decimal, error) {
	if p.rate != "" {
		return decimal.NewFromString(p.rate)
	}
	if p.ratesURL == "" {
		return decimal.Zero, errors.New("pass -rate or -rates-url")
	}
	return rates.NewMarketClient(p.ratesURL, p.priceKey, hc).Rate(ctx)
}

// readCatalogFile loads variants from a gzipped JSON export, either a bare
// array or an object with a "variants" key.
func readCatalogFile(path string) ([]commerce.Variant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip stream")
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	dec.UseNumber()

	var doc struct {
		Variants []commerce.Variant `json:"variants"`
	}
	if err := dec.Decode(&doc); err == nil && len(doc.Variants) > 0 {
		return doc.Variants, nil
	}

	// Retry as a bare array.
	if _, err := f.Seek(0, 0); err != nil {
		return nil, errors.Wrap(err, "rewind catalog file")
	}
	gz, err = pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "reopen gzip stream")
	}
	defer gz.Close()

	dec = json.NewDecoder(gz)
	dec.UseNumber()

	var variants []commerce.Variant
	if err := dec.Decode(&variants); err != nil {
		return nil, errors.Wrap(err, "decode catalog file")
	}
	return variants, nil
}
