// Package otp implements the three-step one-time-password handshake used for
// both password reset and account registration: request a code, verify it
// together with the new password, and consume it.
//
// Codes live in an injected Store with a short TTL. At most one live record
// exists per normalized email; a re-request overwrites, never appends.
package otp

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Store sentinel.
var ErrNoRecord = errors.New("no code requested for this email")

// Record is one live OTP for one email.
type Record struct {
	Code        string
	ExpiresAt   time.Time
	RequestedAt time.Time
}

// Expired reports whether the record is past its validity window.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is keyed, expiring storage for OTP records. Put overwrites any live
// record for the email. Get returns ErrNoRecord when nothing is stored;
// expiry semantics stay with the Service, which deletes expired records on
// touch. Implementations must be safe for concurrent use and, for
// multi-instance deployments, shared between instances.
type Store interface {
	Put(ctx context.Context, email string, rec Record) error
	Get(ctx context.Context, email string) (*Record, error)
	Delete(ctx context.Context, email string) error
}

// NormalizeEmail canonicalizes an email for use as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
