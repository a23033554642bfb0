// Package handler exposes the service's HTTP surface: invoice creation, the
// gateway IPN webhook, and the OTP handshake endpoints. Handlers decode JSON,
// delegate to the domain services, and map domain errors onto the HTTP error
// taxonomy. Error responses carry a human-readable message and never echo
// secrets or signatures.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/domain/otp"
	"github.com/solemart/checkout-api/internal/domain/payment"
)

// Handler holds the domain services behind the HTTP endpoints.
type Handler struct {
	intents  *payment.IntentService
	webhooks *payment.WebhookService
	otp      *otp.Service
}

// New constructs a Handler with the required domain services.
func New(intents *payment.IntentService, webhooks *payment.WebhookService, otpSvc *otp.Service) *Handler {
	return &Handler{
		intents:  intents,
		webhooks: webhooks,
		otp:      otpSvc,
	}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/payments/invoice", h.createInvoice)
	mux.HandleFunc("POST /api/payments/webhook", h.webhook)
	mux.HandleFunc("POST /api/auth/otp/request", h.otpRequest)
	mux.HandleFunc("POST /api/auth/otp/reset", h.otpReset)
	mux.HandleFunc("POST /api/auth/otp/register", h.otpRegister)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}

// logInternal logs an unexpected error with request context before the
// handler responds with a generic message.
func logInternal(r *http.Request, op string, err error) {
	zctx.From(r.Context()).Error("Handler error",
		zap.String("operation", op),
		zap.Error(err),
	)
}
