package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solemart/checkout-api/internal/domain/payment"
)

var _ payment.ClaimStore = (*ClaimStore)(nil)

// ClaimStore implements payment.ClaimStore on the completed_carts table. The
// cart_token primary key is the unique constraint that makes concurrent
// settlement deliveries across instances collapse to a single completion.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore returns a ClaimStore that uses the given pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Claim inserts a row for token. ON CONFLICT DO NOTHING turns a concurrent
// duplicate into zero affected rows rather than an error.
func (s *ClaimStore) Claim(ctx context.Context, token string, amount decimal.Decimal, currency string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO completed_carts (cart_token, amount, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_token) DO NOTHING`,
		token, amount, currency,
	)
	if err != nil {
		return false, errors.Wrapf(err, "claim token %q", token)
	}
	return tag.RowsAffected() == 1, nil
}

// Confirm records the order created for a claimed token.
func (s *ClaimStore) Confirm(ctx context.Context, token, orderID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE completed_carts SET order_id = $2 WHERE cart_token = $1`,
		token, orderID,
	)
	if err != nil {
		return errors.Wrapf(err, "confirm token %q", token)
	}
	return nil
}

// Release drops a claim whose completion failed, so a manually re-posted
// notification can try again.
func (s *ClaimStore) Release(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM completed_carts WHERE cart_token = $1 AND order_id IS NULL`,
		token,
	)
	if err != nil {
		return errors.Wrapf(err, "release token %q", token)
	}
	return nil
}
