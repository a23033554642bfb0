// Package mailer sends transactional email through the hosted provider's
// REST API. Rendering and delivery are the provider's concern; this client
// only posts the message.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Sender dispatches one-time codes to customers.
type Sender interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// Client talks to the transactional email provider.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

// NewClient creates a mail Client sending from the given address. The
// supplied http.Client controls timeouts and proxy settings.
func NewClient(baseURL, apiKey, from string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		from:    from,
		http:    hc,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendOTP emails a one-time code with its validity window.
func (c *Client) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	msg := sendRequest{
		From:    c.from,
		To:      to,
		Subject: "Your verification code",
		Text: fmt.Sprintf(
			"Your verification code is %s. It expires in %d seconds.",
			code, int(ttl.Seconds()),
		),
	}

	buf, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode mail request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(buf))
	if err != nil {
		return errors.Wrap(err, "build mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send mail")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("mail provider returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
