package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solemart/checkout-api/internal/domain/otp"
)

func TestOTPStore_PutGetDelete(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Get(ctx, "user@example.com")
	assert.ErrorIs(t, err, otp.ErrNoRecord)

	rec := otp.Record{Code: "123456", ExpiresAt: now.Add(time.Minute), RequestedAt: now}
	require.NoError(t, s.Put(ctx, "user@example.com", rec))

	got, err := s.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)

	require.NoError(t, s.Delete(ctx, "user@example.com"))
	_, err = s.Get(ctx, "user@example.com")
	assert.ErrorIs(t, err, otp.ErrNoRecord)

	// Deleting a missing record is a no-op.
	assert.NoError(t, s.Delete(ctx, "user@example.com"))
}

func TestOTPStore_PutOverwrites(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, "user@example.com", otp.Record{Code: "111111", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Put(ctx, "user@example.com", otp.Record{Code: "222222", ExpiresAt: now.Add(time.Minute)}))

	got, err := s.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "222222", got.Code)
}

func TestOTPStore_GetReturnsExpired(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()

	rec := otp.Record{Code: "123456", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.Put(ctx, "user@example.com", rec))

	// Expiry is the service's call, not the store's.
	got, err := s.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)
}

func TestOTPStore_SweepDropsExpiredOnly(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, "stale@example.com", otp.Record{Code: "111111", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, s.Put(ctx, "live@example.com", otp.Record{Code: "222222", ExpiresAt: now.Add(time.Minute)}))

	s.sweep(now)

	_, err := s.Get(ctx, "stale@example.com")
	assert.ErrorIs(t, err, otp.ErrNoRecord)
	got, err := s.Get(ctx, "live@example.com")
	require.NoError(t, err)
	assert.Equal(t, "222222", got.Code)
}
