package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/commerce"
)

// mockBackend is a thread-safe in-memory commerce.Backend. Completed carts
// become visible to FindOrderByCartToken, mirroring the real backend's
// metadata query.
type mockBackend struct {
	mu        sync.Mutex
	orders    map[string]string // cart token -> order id
	completed int
	failWith  error
}

func newMockBackend() *mockBackend {
	return &mockBackend{orders: map[string]string{}}
}

func (m *mockBackend) GetCart(_ context.Context, id string) (*commerce.Cart, error) {
	return &commerce.Cart{ID: id}, nil
}

func (m *mockBackend) CompleteCart(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	m.completed++
	orderID := fmt.Sprintf("order_%d", m.completed)
	m.orders[id] = orderID
	return orderID, nil
}

func (m *mockBackend) FindOrderByCartToken(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.orders[token]; ok {
		return id, nil
	}
	return "", commerce.ErrNotFound
}

type mockClaimStore struct {
	mu     sync.Mutex
	claims map[string]string // token -> order id ("" while in flight)
}

func newMockClaimStore() *mockClaimStore {
	return &mockClaimStore{claims: map[string]string{}}
}

func (m *mockClaimStore) Claim(_ context.Context, token string, _ decimal.Decimal, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[token]; ok {
		return false, nil
	}
	m.claims[token] = ""
	return true, nil
}

func (m *mockClaimStore) Confirm(_ context.Context, token, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[token] = orderID
	return nil
}

func (m *mockClaimStore) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, token)
	return nil
}

const testSecret = "ipn-secret"

func testCounter(t *testing.T) metric.Int64Counter {
	t.Helper()
	c, err := noop.NewMeterProvider().Meter("test").Int64Counter("acked")
	require.NoError(t, err)
	return c
}

func newTestWebhookService(backend commerce.Backend, claims ClaimStore, t *testing.T) *WebhookService {
	t.Helper()
	verifier := NewSignatureVerifier(testSecret, true, zap.NewNop())
	return NewWebhookService(verifier, backend, claims, testCounter(t), zap.NewNop())
}

func signedNotification(status, token string) (raw []byte, sig string) {
	raw = []byte(fmt.Sprintf(
		`{"payment_id":4945313521,"payment_status":%q,"order_id":%q,"price_amount":4,"price_currency":"usd","pay_amount":23.85,"pay_currency":"trx"}`,
		status, token,
	))
	return raw, Sign(testSecret, raw)
}

func TestProcess_BadSignature(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, nil, t)

	raw, _ := signedNotification(StatusFinished, "cart_1")
	_, err := svc.Process(context.Background(), raw, Sign("wrong-secret", raw))

	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Zero(t, backend.completed)
}

func TestProcess_MalformedPayload(t *testing.T) {
	svc := newTestWebhookService(newMockBackend(), nil, t)

	raw := []byte(`{"payment_status": finished}`)
	_, err := svc.Process(context.Background(), raw, Sign(testSecret, raw))

	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcess_InFlightStatusNoMutation(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, nil, t)

	for _, status := range []string{StatusWaiting, StatusConfirming, StatusConfirmed, StatusSending, StatusPartiallyPaid} {
		raw, sig := signedNotification(status, "cart_1")
		res, err := svc.Process(context.Background(), raw, sig)
		require.NoError(t, err, status)
		assert.Empty(t, res.OrderID, status)
	}
	assert.Zero(t, backend.completed)
}

func TestProcess_TerminalFailureAckedWithoutMutation(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, nil, t)

	for _, status := range []string{StatusFailed, StatusRefunded, StatusExpired} {
		raw, sig := signedNotification(status, "cart_1")
		res, err := svc.Process(context.Background(), raw, sig)
		require.NoError(t, err, status)
		assert.Empty(t, res.OrderID, status)
	}
	assert.Zero(t, backend.completed)
}

func TestProcess_FinishedWithoutToken(t *testing.T) {
	svc := newTestWebhookService(newMockBackend(), nil, t)

	raw, sig := signedNotification(StatusFinished, "")
	_, err := svc.Process(context.Background(), raw, sig)

	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestProcess_FinishedCompletesCart(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, nil, t)

	raw, sig := signedNotification(StatusFinished, "cart_1")
	res, err := svc.Process(context.Background(), raw, sig)

	require.NoError(t, err)
	assert.Equal(t, "order_1", res.OrderID)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, backend.completed)
}

func TestProcess_SequentialRedelivery(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, nil, t)

	raw, sig := signedNotification(StatusFinished, "cart_1")

	first, err := svc.Process(context.Background(), raw, sig)
	require.NoError(t, err)
	second, err := svc.Process(context.Background(), raw, sig)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, backend.completed, "redelivery must not create a second order")
}

func TestProcess_ConcurrentRedelivery(t *testing.T) {
	backend := newMockBackend()
	svc := newTestWebhookService(backend, newMockClaimStore(), t)

	raw, sig := signedNotification(StatusFinished, "cart_1")

	const deliveries = 16
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Process(context.Background(), raw, sig)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.completed, "concurrent deliveries must create exactly one order")
}

func TestProcess_ClaimHeldByAnotherInstance(t *testing.T) {
	backend := newMockBackend()
	claims := newMockClaimStore()
	svc := newTestWebhookService(backend, claims, t)

	// Simulate another instance holding the claim mid-completion.
	claimed, err := claims.Claim(context.Background(), "cart_1", decimal.NewFromInt(4), "usd")
	require.NoError(t, err)
	require.True(t, claimed)

	raw, sig := signedNotification(StatusFinished, "cart_1")
	res, err := svc.Process(context.Background(), raw, sig)

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Zero(t, backend.completed)
}

func TestProcess_CompletionFailureAcked(t *testing.T) {
	backend := newMockBackend()
	backend.failWith = errors.New("backend down")
	claims := newMockClaimStore()
	svc := newTestWebhookService(backend, claims, t)

	raw, sig := signedNotification(StatusFinished, "cart_1")
	res, err := svc.Process(context.Background(), raw, sig)

	require.NoError(t, err, "completion failures are swallowed and acked")
	require.NotNil(t, res.AckedErr)
	assert.Empty(t, res.OrderID)

	// The failed claim is released so a re-posted notification can retry.
	backend.failWith = nil
	res, err = svc.Process(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.Equal(t, "order_1", res.OrderID)
	assert.Nil(t, res.AckedErr)
}
