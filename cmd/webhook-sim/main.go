// Command webhook-sim signs and posts a synthetic payment notification to the
// IPN webhook endpoint, for local verification of the signature check and the
// idempotent completion path. Not part of the production surface.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/solemart/checkout-api/internal/domain/payment"
)

func main() {
	var (
		target   string
		secret   string
		cartID   string
		status   string
		amount   string
		currency string
		badSig   bool
	)

	flag.StringVar(&target, "url", "http://localhost:8080/api/payments/webhook", "webhook endpoint URL")
	flag.StringVar(&secret, "secret", os.Getenv("CHECKOUT_GATEWAY_IPNSECRET"), "shared IPN secret")
	flag.StringVar(&cartID, "cart", "", "cart id to embed as the correlation token")
	flag.StringVar(&status, "status", payment.StatusFinished, "payment status to report")
	flag.StringVar(&amount, "amount", "2.50", "price amount")
	flag.StringVar(&currency, "currency", "usd", "price currency")
	flag.BoolVar(&badSig, "bad-sig", false, "send a deliberately wrong signature")
	flag.Parse()

	lg := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if cartID == "" {
		lg.Error("missing -cart")
		os.Exit(1)
	}

	body, err := json.Marshal(map[string]any{
		"payment_id":     uuid.New().ID(),
		"payment_status": status,
		"order_id":       cartID,
		"price_amount":   json.Number(amount),
		"price_currency": currency,
	})
	if err != nil {
		lg.Error("encode notification", "err", err)
		os.Exit(1)
	}

	sig := payment.Sign(secret, body)
	if badSig {
		sig = payment.Sign(secret+"x", body)
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		lg.Error("build request", "err", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-nowpayments-sig", sig)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		lg.Error("post notification", "err", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("%s\n%s\n", resp.Status, respBody)
}
