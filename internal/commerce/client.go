package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Compile-time checks ensuring Client satisfies the consumer interfaces.
var (
	_ Backend  = (*Client)(nil)
	_ Accounts = (*Client)(nil)
	_ Catalog  = (*Client)(nil)
)

// Client talks to the commerce backend's admin REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the backend at baseURL, authenticating with
// the given admin token. The supplied http.Client controls timeouts and proxy
// settings; it must not be nil.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Ping verifies the backend is reachable. Used as a readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

type cartEnvelope struct {
	Cart struct {
		ID           string          `json:"id"`
		Email        string          `json:"email"`
		Total        decimal.Decimal `json:"total"`
		CurrencyCode string          `json:"currency_code"`
	} `json:"cart"`
}

// GetCart fetches a cart by id. Returns ErrNotFound for unknown carts.
func (c *Client) GetCart(ctx context.Context, id string) (*Cart, error) {
	var env cartEnvelope
	if err := c.do(ctx, http.MethodGet, "/admin/carts/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, errors.Wrapf(err, "get cart %q", id)
	}
	return &Cart{
		ID:           env.Cart.ID,
		Email:        env.Cart.Email,
		Total:        env.Cart.Total,
		CurrencyCode: strings.ToUpper(env.Cart.CurrencyCode),
	}, nil
}

// CompleteCart converts a cart into an order and returns the new order id.
// The backend records the cart id in the order metadata, which is what
// FindOrderByCartToken queries.
func (c *Client) CompleteCart(ctx context.Context, id string) (string, error) {
	var resp struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/carts/"+url.PathEscape(id)+"/complete", nil, &resp); err != nil {
		return "", errors.Wrapf(err, "complete cart %q", id)
	}
	if resp.Order.ID == "" {
		return "", errors.Errorf("complete cart %q: backend returned no order id", id)
	}
	return resp.Order.ID, nil
}

// FindOrderByCartToken returns the id of an existing order whose metadata
// records the given cart token, or ErrNotFound when no such order exists.
func (c *Client) FindOrderByCartToken(ctx context.Context, token string) (string, error) {
	var resp struct {
		Orders []struct {
			ID string `json:"id"`
		} `json:"orders"`
	}
	path := "/admin/orders?metadata[cart_token]=" + url.QueryEscape(token) + "&limit=1"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", errors.Wrapf(err, "find order by cart token %q", token)
	}
	if len(resp.Orders) == 0 {
		return "", ErrNotFound
	}
	return resp.Orders[0].ID, nil
}

type customerEnvelope struct {
	Customer Customer `json:"customer"`
}

// FindCustomerByEmail looks up a customer profile (guest or registered) by
// email. Returns ErrNotFound when no profile exists.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var resp struct {
		Customers []Customer `json:"customers"`
	}
	path := "/admin/customers?email=" + url.QueryEscape(email) + "&limit=1"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "find customer %q", email)
	}
	if len(resp.Customers) == 0 {
		return nil, ErrNotFound
	}
	return &resp.Customers[0], nil
}

// CreateCustomer creates a new customer profile.
func (c *Client) CreateCustomer(ctx context.Context, email, firstName, lastName string) (*Customer, error) {
	req := map[string]string{
		"email":      email,
		"first_name": firstName,
		"last_name":  lastName,
	}
	var env customerEnvelope
	if err := c.do(ctx, http.MethodPost, "/admin/customers", req, &env); err != nil {
		return nil, errors.Wrapf(err, "create customer %q", email)
	}
	return &env.Customer, nil
}

// UpdatePassword replaces the password credential for the identity matching
// email.
func (c *Client) UpdatePassword(ctx context.Context, email, password string) error {
	req := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/admin/auth/password", req, nil); err != nil {
		return errors.Wrapf(err, "update password for %q", email)
	}
	return nil
}

// RegisterCredential creates a new password-credential identity for email and
// returns its identity id.
func (c *Client) RegisterCredential(ctx context.Context, email, password string) (string, error) {
	req := map[string]string{"email": email, "password": password}
	var resp struct {
		Identity struct {
			ID string `json:"id"`
		} `json:"identity"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/auth/register", req, &resp); err != nil {
		return "", errors.Wrapf(err, "register credential for %q", email)
	}
	return resp.Identity.ID, nil
}

// LinkCredential associates a credential identity with a customer profile via
// the identity's app metadata, preserving the profile's order history.
func (c *Client) LinkCredential(ctx context.Context, identityID, customerID string) error {
	req := map[string]any{
		"app_metadata": map[string]string{"customer_id": customerID},
	}
	path := "/admin/auth/identities/" + url.PathEscape(identityID)
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return errors.Wrapf(err, "link identity %q to customer %q", identityID, customerID)
	}
	return nil
}

// MarkRegistered flags a customer profile as having a full account.
func (c *Client) MarkRegistered(ctx context.Context, customerID string) error {
	req := map[string]bool{"has_account": true}
	path := "/admin/customers/" + url.PathEscape(customerID)
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return errors.Wrapf(err, "mark customer %q registered", customerID)
	}
	return nil
}

// ListVariants pages through all catalog variants.
func (c *Client) ListVariants(ctx context.Context) ([]Variant, error) {
	const pageSize = 200

	var all []Variant
	for offset := 0; ; offset += pageSize {
		var resp struct {
			Variants []Variant `json:"variants"`
			Count    int       `json:"count"`
		}
		path := fmt.Sprintf("/admin/product-variants?limit=%d&offset=%d", pageSize, offset)
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, errors.Wrap(err, "list variants")
		}
		all = append(all, resp.Variants...)
		if len(resp.Variants) < pageSize {
			return all, nil
		}
	}
}

// UpsertPrice creates or replaces the price for a variant in one currency.
func (c *Client) UpsertPrice(ctx context.Context, update PriceUpdate) error {
	path := "/admin/product-variants/" + url.PathEscape(update.VariantID) + "/prices"
	req := map[string]any{
		"currency_code": strings.ToLower(update.CurrencyCode),
		"amount":        update.Amount,
	}
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return errors.Wrapf(err, "upsert price for variant %q", update.VariantID)
	}
	return nil
}

// do performs a single JSON request against the backend. A nil in skips the
// request body; a nil out discards the response body. 404 maps to ErrNotFound
// and other non-2xx statuses to a StatusError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps backend error pages out of logs.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("commerce backend returned %d: %s", e.Status, e.Body)
}
