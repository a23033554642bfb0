package payment

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/solemart/checkout-api/internal/commerce"
)

// AckDespiteInternalError controls the webhook's response when cart
// completion fails after a verified terminal-success notification. When true
// (the shipped policy) the gateway still receives 200 OK, so it never storms
// an unrecoverable cart with redeliveries; resolution is deferred to manual
// ops, guided by the error log and the acked-error counter. Flipping this to
// false trades redelivery-driven retries for precise error semantics.
const AckDespiteInternalError = true

// Sentinel errors for notification triage.
var (
	// ErrMissingToken rejects a terminal-success notification without a
	// correlation token; there is nothing to complete.
	ErrMissingToken = errors.New("notification has no correlation token")
	// ErrMalformedPayload rejects a body that is not valid JSON.
	ErrMalformedPayload = errors.New("malformed notification payload")
)

// Gateway payment statuses. Only Finished settles funds; the failure statuses
// are terminal but trigger no mutation; everything else is in-flight and the
// gateway redelivers on change.
const (
	StatusWaiting       = "waiting"
	StatusConfirming    = "confirming"
	StatusConfirmed     = "confirmed"
	StatusSending       = "sending"
	StatusPartiallyPaid = "partially_paid"
	StatusFinished      = "finished"
	StatusFailed        = "failed"
	StatusRefunded      = "refunded"
	StatusExpired       = "expired"
)

var terminalFailure = map[string]bool{
	StatusFailed:   true,
	StatusRefunded: true,
	StatusExpired:  true,
}

// Notification is the gateway's IPN payload. Untrusted until the signature
// over the raw bytes checks out; duplicate delivery is expected.
type Notification struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	// OrderID carries the correlation token (the cart id).
	OrderID       string          `json:"order_id"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	PayCurrency   string          `json:"pay_currency"`
}

// Result describes the webhook outcome for an accepted notification.
type Result struct {
	// OrderID is set when an order exists for the correlation token, whether
	// created by this delivery or an earlier one.
	OrderID string
	// Duplicate reports that the order already existed.
	Duplicate bool
	// AckedErr holds a completion failure that was swallowed under
	// AckDespiteInternalError. The handler still responds 200.
	AckedErr error
}

// ClaimStore atomically claims a correlation token before cart completion.
// A backing unique constraint is what closes the duplicate-delivery race
// across service instances; the in-process singleflight group only covers one
// instance. A nil ClaimStore is valid for single-instance deployments.
type ClaimStore interface {
	// Claim records the token and the paid amount. It returns false when the
	// token was already claimed.
	Claim(ctx context.Context, token string, amount decimal.Decimal, currency string) (bool, error)
	// Confirm stores the order id on a claimed token.
	Confirm(ctx context.Context, token, orderID string) error
	// Release drops a claim whose completion failed, so a manually re-posted
	// notification can retry.
	Release(ctx context.Context, token string) error
}

// WebhookService verifies, triages, and idempotently applies IPN
// notifications.
type WebhookService struct {
	verifier *SignatureVerifier
	backend  commerce.Backend
	claims   ClaimStore // may be nil
	group    singleflight.Group
	ackedErr metric.Int64Counter
	lg       *zap.Logger
}

// NewWebhookService wires the webhook service. ackedErr counts completion
// failures swallowed under AckDespiteInternalError so operators can alert on
// them; pass a counter from a noop meter in tests.
func NewWebhookService(
	verifier *SignatureVerifier,
	backend commerce.Backend,
	claims ClaimStore,
	ackedErr metric.Int64Counter,
	lg *zap.Logger,
) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		backend:  backend,
		claims:   claims,
		ackedErr: ackedErr,
		lg:       lg,
	}
}

// Process handles one notification delivery.
//
// It returns an error only for the two reject paths: ErrBadSignature and
// ErrMissingToken/ErrMalformedPayload. Every other outcome, including an
// internal completion failure when AckDespiteInternalError is set, produces a
// Result the handler acknowledges with 200.
//
// Idempotency: at most one order is ever created per correlation token. The
// duplicate-check query short-circuits redeliveries; concurrent deliveries of
// the same token collapse onto one flight in-process, and the claim store's
// unique constraint covers concurrent deliveries across instances.
func (s *WebhookService) Process(ctx context.Context, raw []byte, signature string) (*Result, error) {
	if err := s.verifier.Verify(raw, signature); err != nil {
		return nil, err
	}

	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("payment.status", n.PaymentStatus),
		attribute.String("payment.cart_token", n.OrderID),
	)

	switch {
	case n.PaymentStatus == StatusFinished:
		// Fall through to completion below.
	case terminalFailure[n.PaymentStatus]:
		s.lg.Warn("Payment ended without settling",
			zap.String("status", n.PaymentStatus),
			zap.String("cart_token", n.OrderID),
		)
		return &Result{}, nil
	default:
		// In-flight status; the gateway redelivers on change.
		s.lg.Info("Payment status update",
			zap.String("status", n.PaymentStatus),
			zap.String("cart_token", n.OrderID),
		)
		return &Result{}, nil
	}

	if n.OrderID == "" {
		return nil, ErrMissingToken
	}

	v, err, _ := s.group.Do(n.OrderID, func() (any, error) {
		return s.complete(ctx, &n)
	})
	if err != nil {
		// Only reachable when AckDespiteInternalError is flipped off.
		return nil, err
	}
	return v.(*Result), nil
}

// complete runs the duplicate check, claim, and cart completion for a
// terminal-success notification. Exactly one goroutine per token runs here at
// a time.
func (s *WebhookService) complete(ctx context.Context, n *Notification) (*Result, error) {
	token := n.OrderID

	existing, err := s.backend.FindOrderByCartToken(ctx, token)
	switch {
	case err == nil:
		s.lg.Info("Duplicate settlement notification, order already exists",
			zap.String("cart_token", token),
			zap.String("order_id", existing),
		)
		return &Result{OrderID: existing, Duplicate: true}, nil
	case errors.Is(err, commerce.ErrNotFound):
		// No order yet; continue.
	default:
		return s.swallow(ctx, token, errors.Wrap(err, "duplicate check"))
	}

	if s.claims != nil {
		claimed, err := s.claims.Claim(ctx, token, n.PriceAmount, n.PriceCurrency)
		if err != nil {
			return s.swallow(ctx, token, errors.Wrap(err, "claim token"))
		}
		if !claimed {
			// Another instance owns this token. Report whatever order id is
			// visible; empty means that instance is still completing.
			orderID, _ := s.backend.FindOrderByCartToken(ctx, token)
			return &Result{OrderID: orderID, Duplicate: true}, nil
		}
	}

	orderID, err := s.backend.CompleteCart(ctx, token)
	if err != nil {
		if s.claims != nil {
			if relErr := s.claims.Release(ctx, token); relErr != nil {
				s.lg.Error("Failed to release claim", zap.String("cart_token", token), zap.Error(relErr))
			}
		}
		return s.swallow(ctx, token, errors.Wrap(err, "complete cart"))
	}

	if s.claims != nil {
		if err := s.claims.Confirm(ctx, token, orderID); err != nil {
			s.lg.Error("Failed to confirm claim",
				zap.String("cart_token", token),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}

	s.lg.Info("Cart completed",
		zap.String("cart_token", token),
		zap.String("order_id", orderID),
	)
	return &Result{OrderID: orderID}, nil
}

// swallow applies the AckDespiteInternalError policy to an internal failure.
// Under the shipped policy the failure is logged, counted, and acknowledged;
// the counter gives operators a signal that failures are being swallowed.
func (s *WebhookService) swallow(ctx context.Context, token string, err error) (*Result, error) {
	if !AckDespiteInternalError {
		return nil, err
	}
	s.lg.Error("Webhook completion failed, acknowledging anyway",
		zap.String("cart_token", token),
		zap.Error(err),
	)
	s.ackedErr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cart_token", token),
	))
	return &Result{AckedErr: err}, nil
}
