// Package gateway provides a client for the hosted crypto payment gateway.
// The gateway issues invoices with a hosted checkout URL and notifies payment
// progress asynchronously through its IPN webhook.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// InvoiceRequest is the outbound invoice creation payload. OrderID carries
// the cart id as the correlation token; it comes back verbatim in the IPN
// notification.
type InvoiceRequest struct {
	PriceAmount      decimal.Decimal `json:"price_amount"`
	PriceCurrency    string          `json:"price_currency"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description,omitempty"`
	// PayCurrency pins the settlement asset when the buyer pre-selected one.
	// When empty the gateway presents its own selection UI.
	PayCurrency string `json:"pay_currency,omitempty"`
	IPNCallback string `json:"ipn_callback_url"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// Invoice is the gateway's record of a pending payment request. Immutable once
// issued; its terminal state is only ever observed through the webhook.
type Invoice struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

// Client calls the payment gateway REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a gateway Client. The supplied http.Client controls
// timeouts and proxy settings; it must not be nil.
func NewClient(baseURL, apiKey string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
	}
}

// CreateInvoice requests a hosted invoice from the gateway.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode invoice request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoice", bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, "build invoice request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "call gateway")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(msg)}
	}

	var inv Invoice
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return nil, errors.Wrap(err, "decode invoice response")
	}
	if inv.ID == "" || inv.InvoiceURL == "" {
		return nil, errors.New("gateway returned incomplete invoice")
	}
	return &inv, nil
}

// StatusError reports a non-2xx response from the gateway.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}
