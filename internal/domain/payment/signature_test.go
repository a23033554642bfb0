package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerify_ValidSignature(t *testing.T) {
	v := NewSignatureVerifier("topsecret", true, zap.NewNop())
	payload := []byte(`{"payment_status":"finished","order_id":"cart_1"}`)

	err := v.Verify(payload, Sign("topsecret", payload))
	require.NoError(t, err)
}

func TestVerify_MutatedPayload(t *testing.T) {
	v := NewSignatureVerifier("topsecret", true, zap.NewNop())
	payload := []byte(`{"payment_status":"finished","order_id":"cart_1"}`)
	sig := Sign("topsecret", payload)

	// Flip one bit of the signed payload.
	mutated := append([]byte(nil), payload...)
	mutated[0] ^= 0x01

	err := v.Verify(mutated, sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewSignatureVerifier("topsecret", true, zap.NewNop())
	payload := []byte(`{"payment_status":"finished"}`)

	err := v.Verify(payload, Sign("othersecret", payload))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_NonHexSignature(t *testing.T) {
	v := NewSignatureVerifier("topsecret", true, zap.NewNop())

	err := v.Verify([]byte(`{}`), "not-hex!!")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_EnforcementDisabled(t *testing.T) {
	v := NewSignatureVerifier("topsecret", false, zap.NewNop())
	payload := []byte(`{"payment_status":"finished"}`)

	// Mismatch is accepted when enforcement is off.
	err := v.Verify(payload, Sign("othersecret", payload))
	assert.NoError(t, err)
}

func TestVerify_EmptySecretFailOpen(t *testing.T) {
	v := NewSignatureVerifier("", true, zap.NewNop())

	err := v.Verify([]byte(`{}`), "anything")
	assert.NoError(t, err)
}
