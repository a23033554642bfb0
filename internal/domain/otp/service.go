package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/mailer"
)

// Verification errors. Both map to authentication-failure semantics (401);
// they are distinct so callers can render an accurate message.
var (
	ErrCodeMismatch = errors.New("verification code does not match")
	ErrCodeExpired  = errors.New("verification code has expired")
)

// ErrAlreadyRegistered rejects registration for an email that already has a
// full account (conflict, 409).
var ErrAlreadyRegistered = errors.New("account already registered")

// CooldownError rejects a re-request inside the resend window.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("code already sent, retry in %ds", int(e.RetryAfter.Seconds()))
}

// Config holds the handshake timing knobs.
type Config struct {
	// TTL is how long a code stays valid after issue.
	TTL time.Duration
	// Cooldown is the minimum interval between two requests for one email.
	Cooldown time.Duration
}

// Service runs the OTP handshake over an injected store, mail sender, and the
// commerce backend's account primitives.
type Service struct {
	store    Store
	mail     mailer.Sender
	accounts commerce.Accounts
	cfg      Config
	lg       *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewService wires the OTP service.
func NewService(store Store, mail mailer.Sender, accounts commerce.Accounts, cfg Config, lg *zap.Logger) *Service {
	return &Service{
		store:    store,
		mail:     mail,
		accounts: accounts,
		cfg:      cfg,
		lg:       lg,
		now:      time.Now,
	}
}

// Request issues a fresh code for email and dispatches it by mail, returning
// the code's expiry so the caller can render a countdown. A request inside
// the cooldown window fails with CooldownError; outside it, the previous code
// is overwritten and immediately invalid.
func (s *Service) Request(ctx context.Context, email string) (time.Time, error) {
	email = NormalizeEmail(email)
	now := s.now()

	existing, err := s.store.Get(ctx, email)
	switch {
	case err == nil:
		if wait := s.cfg.Cooldown - now.Sub(existing.RequestedAt); wait > 0 {
			return time.Time{}, &CooldownError{RetryAfter: wait.Round(time.Second)}
		}
	case errors.Is(err, ErrNoRecord):
		// First request for this email.
	default:
		return time.Time{}, errors.Wrap(err, "lookup code")
	}

	code, err := generateCode()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "generate code")
	}

	rec := Record{
		Code:        code,
		ExpiresAt:   now.Add(s.cfg.TTL),
		RequestedAt: now,
	}
	if err := s.store.Put(ctx, email, rec); err != nil {
		return time.Time{}, errors.Wrap(err, "store code")
	}

	if err := s.mail.SendOTP(ctx, email, code, s.cfg.TTL); err != nil {
		// Drop the unusable record so the user is not locked behind the
		// cooldown for a mail that never arrived.
		if delErr := s.store.Delete(ctx, email); delErr != nil {
			s.lg.Error("Failed to delete code after send failure", zap.Error(delErr))
		}
		return time.Time{}, errors.Wrap(err, "send code")
	}

	s.lg.Info("Verification code sent", zap.String("email", email))
	return rec.ExpiresAt, nil
}

// VerifyReset consumes a code and updates the password credential for the
// matching identity. The record is deleted before success returns, so a
// just-used code can never be replayed.
func (s *Service) VerifyReset(ctx context.Context, email, code, password string) error {
	email = NormalizeEmail(email)

	if err := s.check(ctx, email, code); err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, email, password); err != nil {
		return errors.Wrap(err, "update password")
	}
	if err := s.store.Delete(ctx, email); err != nil {
		return errors.Wrap(err, "consume code")
	}

	s.lg.Info("Password reset completed", zap.String("email", email))
	return nil
}

// VerifyRegister consumes a code and registers a full account for email. An
// existing guest profile is linked rather than duplicated, preserving its
// order history; an existing full account is a conflict.
func (s *Service) VerifyRegister(ctx context.Context, email, code, password, firstName, lastName string) (*commerce.Customer, error) {
	email = NormalizeEmail(email)

	if err := s.check(ctx, email, code); err != nil {
		return nil, err
	}

	customer, err := s.accounts.FindCustomerByEmail(ctx, email)
	switch {
	case err == nil:
		if customer.HasAccount {
			return nil, ErrAlreadyRegistered
		}
	case errors.Is(err, commerce.ErrNotFound):
		customer, err = s.accounts.CreateCustomer(ctx, email, firstName, lastName)
		if err != nil {
			return nil, errors.Wrap(err, "create customer")
		}
	default:
		return nil, errors.Wrap(err, "find customer")
	}

	identityID, err := s.accounts.RegisterCredential(ctx, email, password)
	if err != nil {
		return nil, errors.Wrap(err, "register credential")
	}
	if err := s.accounts.LinkCredential(ctx, identityID, customer.ID); err != nil {
		return nil, errors.Wrap(err, "link credential")
	}
	if err := s.accounts.MarkRegistered(ctx, customer.ID); err != nil {
		return nil, errors.Wrap(err, "mark registered")
	}
	customer.HasAccount = true

	if err := s.store.Delete(ctx, email); err != nil {
		return nil, errors.Wrap(err, "consume code")
	}

	s.lg.Info("Account registered", zap.String("email", email), zap.String("customer_id", customer.ID))
	return customer, nil
}

// check validates a submitted code without consuming it. An expired record is
// deleted on touch, even when the code matches.
func (s *Service) check(ctx context.Context, email, code string) error {
	rec, err := s.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return ErrCodeMismatch
		}
		return errors.Wrap(err, "lookup code")
	}

	if rec.Expired(s.now()) {
		if err := s.store.Delete(ctx, email); err != nil {
			s.lg.Error("Failed to delete expired code", zap.Error(err))
		}
		return ErrCodeExpired
	}
	if rec.Code != code {
		return ErrCodeMismatch
	}
	return nil
}

// generateCode produces a random 6-digit code, zero-padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
