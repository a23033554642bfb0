package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/domain/payment"
)

// SignatureHeader carries the gateway's HMAC-SHA512 over the raw IPN body.
const SignatureHeader = "x-nowpayments-sig"

// maxNotificationBytes bounds the webhook body read. Gateway notifications
// are well under 4 KiB.
const maxNotificationBytes = 64 << 10

type createInvoiceRequest struct {
	CartID      string `json:"cart_id"`
	PayCurrency string `json:"pay_currency,omitempty"`
}

type createInvoiceResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"payment_url"`
	InvoiceID  string `json:"invoice_id"`
}

// createInvoice handles POST /api/payments/invoice.
func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CartID == "" {
		writeError(w, http.StatusBadRequest, "cart_id required")
		return
	}

	inv, err := h.intents.Create(r.Context(), req.CartID, req.PayCurrency)
	if err != nil {
		var belowMin *payment.BelowMinimumError
		switch {
		case errors.As(err, &belowMin):
			writeError(w, http.StatusBadRequest, belowMin.Error())
		case errors.Is(err, commerce.ErrNotFound):
			writeError(w, http.StatusNotFound, "cart not found")
		case errors.Is(err, payment.ErrGatewayUnavailable):
			logInternal(r, "createInvoice", err)
			writeError(w, http.StatusBadGateway, "payment gateway is unavailable, try again later")
		default:
			logInternal(r, "createInvoice", err)
			writeError(w, http.StatusInternalServerError, "unexpected error")
		}
		return
	}

	writeJSON(w, http.StatusOK, createInvoiceResponse{
		Success:    true,
		PaymentURL: inv.InvoiceURL,
		InvoiceID:  inv.ID,
	})
}

// webhook handles POST /api/payments/webhook. Per the redelivery-avoidance
// policy, everything except a bad signature (401) and a missing or malformed
// payload (400) is acknowledged with 200, including swallowed internal
// failures.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	result, err := h.webhooks.Process(r.Context(), raw, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, payment.ErrMissingToken), errors.Is(err, payment.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logInternal(r, "webhook", err)
			writeError(w, http.StatusInternalServerError, "unexpected error")
		}
		return
	}

	switch {
	case result.AckedErr != nil:
		// Completion failed but the gateway must not redeliver; ops resolve
		// from the log and counter emitted by the service.
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	case result.OrderID != "":
		writeJSON(w, http.StatusOK, map[string]any{
			"received": true,
			"order_id": result.OrderID,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
