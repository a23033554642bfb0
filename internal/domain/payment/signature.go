package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrBadSignature indicates the notification signature did not match.
var ErrBadSignature = errors.New("invalid notification signature")

// SignatureVerifier authenticates IPN notifications by recomputing an
// HMAC-SHA512 over the raw payload with the shared secret.
//
// Enforcement is an explicit flag rather than something inferred from an
// environment name: disabling it accepts every notification and logs loudly
// on each mismatch. An empty secret also disables verification (the gateway
// account has no IPN secret configured yet); that weaker mode is flagged once
// at construction.
type SignatureVerifier struct {
	secret  []byte
	enforce bool
	lg      *zap.Logger
}

// NewSignatureVerifier creates a verifier with the shared IPN secret.
func NewSignatureVerifier(secret string, enforce bool, lg *zap.Logger) *SignatureVerifier {
	if secret == "" {
		lg.Warn("IPN secret is empty, notification signatures will NOT be verified")
	} else if !enforce {
		lg.Warn("Signature enforcement is DISABLED, mismatched notifications will be accepted")
	}
	return &SignatureVerifier{
		secret:  []byte(secret),
		enforce: enforce,
		lg:      lg,
	}
}

// Verify checks the received hex signature against the HMAC-SHA512 of the
// exact raw payload. The comparison is constant-time. Signature material is
// never logged above debug level.
func (v *SignatureVerifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return nil
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(payload)
	computed := mac.Sum(nil)

	received, err := hex.DecodeString(signature)
	if err == nil && hmac.Equal(computed, received) {
		return nil
	}

	v.lg.Warn("Notification signature mismatch",
		zap.Int("payload_bytes", len(payload)),
		zap.Bool("enforced", v.enforce),
	)
	v.lg.Debug("Signature detail",
		zap.String("computed", hex.EncodeToString(computed)),
		zap.String("received", signature),
	)

	if !v.enforce {
		return nil
	}
	return ErrBadSignature
}

// Sign computes the hex HMAC-SHA512 of payload with secret. Shared with the
// webhook simulation tool so both sides agree on the exact bytes signed.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
