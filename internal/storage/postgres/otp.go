package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solemart/checkout-api/internal/domain/otp"
)

var _ otp.Store = (*OTPStore)(nil)

// OTPStore implements otp.Store backed by the otp_codes table. The email
// primary key upholds the one-live-record-per-email invariant; Put replaces
// via upsert.
type OTPStore struct {
	pool *pgxpool.Pool
}

// NewOTPStore returns an OTPStore that uses the given pool.
func NewOTPStore(pool *pgxpool.Pool) *OTPStore {
	return &OTPStore{pool: pool}
}

// Put stores rec for email, overwriting any existing record.
func (s *OTPStore) Put(ctx context.Context, email string, rec otp.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO otp_codes (email, code, expires_at, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code = EXCLUDED.code,
		    expires_at = EXCLUDED.expires_at,
		    requested_at = EXCLUDED.requested_at`,
		email, rec.Code, rec.ExpiresAt, rec.RequestedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "put code for %q", email)
	}
	return nil
}

// Get returns the record for email, or otp.ErrNoRecord.
func (s *OTPStore) Get(ctx context.Context, email string) (*otp.Record, error) {
	var rec otp.Record
	err := s.pool.QueryRow(ctx, `
		SELECT code, expires_at, requested_at
		FROM otp_codes WHERE email = $1`,
		email,
	).Scan(&rec.Code, &rec.ExpiresAt, &rec.RequestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, otp.ErrNoRecord
		}
		return nil, errors.Wrapf(err, "get code for %q", email)
	}
	return &rec, nil
}

// Delete removes the record for email. Deleting a missing record is a no-op.
func (s *OTPStore) Delete(ctx context.Context, email string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE email = $1`, email); err != nil {
		return errors.Wrapf(err, "delete code for %q", email)
	}
	return nil
}

// Sweep removes all expired records. Called periodically from the janitor.
func (s *OTPStore) Sweep(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE expires_at < now()`); err != nil {
		return errors.Wrap(err, "sweep expired codes")
	}
	return nil
}
