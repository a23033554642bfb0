// Package memory provides the in-process OTP store used for single-instance
// deployments. Multi-instance deployments must use the Postgres store so all
// instances see the same records.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/solemart/checkout-api/internal/domain/otp"
)

var _ otp.Store = (*OTPStore)(nil)

// OTPStore is a mutex-guarded map of live OTP records keyed by email.
type OTPStore struct {
	mu      sync.Mutex
	records map[string]otp.Record
}

// NewOTPStore creates an empty store.
func NewOTPStore() *OTPStore {
	return &OTPStore{records: make(map[string]otp.Record)}
}

// Put stores rec for email, overwriting any existing record.
func (s *OTPStore) Put(_ context.Context, email string, rec otp.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[email] = rec
	return nil
}

// Get returns the record for email, or otp.ErrNoRecord. Expired records are
// still returned; the service decides expiry semantics.
func (s *OTPStore) Get(_ context.Context, email string) (*otp.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		return nil, otp.ErrNoRecord
	}
	return &rec, nil
}

// Delete removes the record for email. Deleting a missing record is a no-op.
func (s *OTPStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
	return nil
}

// sweep drops records that expired before now.
func (s *OTPStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for email, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, email)
		}
	}
}

// StartJanitor launches a background goroutine that periodically removes
// expired records, so abandoned requests do not accumulate. It stops when ctx
// is cancelled.
func (s *OTPStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.sweep(now)
			}
		}
	}()
}
