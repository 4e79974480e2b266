// Package stripe is a minimal HTTP client for the Stripe-style checkout API,
// covering exactly the three calls the payment domain needs: create a
// checkout session, retrieve it, and create a refund.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/solecraft/checkout-service/internal/domain/payment"
)

const defaultBaseURL = "https://api.stripe.com"

var _ payment.Gateway = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// APIKey is the secret key sent as a bearer token.
	APIKey string
	// BaseURL overrides the API host, used by tests and sandboxes.
	BaseURL string
	// SuccessURL and CancelURL are where the gateway redirects the shopper.
	SuccessURL string
	CancelURL  string
	// Timeout bounds each API call. Defaults to 10s.
	Timeout time.Duration
}

// Client implements payment.Gateway over the Stripe REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// sessionResponse is the slice of the checkout-session resource we consume.
type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
}

// refundResponse is the slice of the refund resource we consume.
type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// errorResponse is the gateway's error envelope.
type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckoutSession creates a payment-mode checkout session with a single
// synthetic line item for the order total, correlated to the order through
// metadata on both the session and the payment intent.
func (c *Client) CreateCheckoutSession(ctx context.Context, p payment.CreateSessionParams) (*payment.GatewaySession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(p.Currency))
	form.Set("line_items[0][price_data][product_data][name]", "Order "+p.OrderID)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[orderId]", p.OrderID)
	form.Set("payment_intent_data[metadata][orderId]", p.OrderID)
	form.Set("success_url", c.cfg.SuccessURL)
	form.Set("cancel_url", c.cfg.CancelURL)

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, errors.New("checkout session has no redirect URL")
	}
	return &payment.GatewaySession{
		ID:            resp.ID,
		URL:           resp.URL,
		PaymentIntent: resp.PaymentIntent,
	}, nil
}

// GetSession retrieves a checkout session, primarily for its payment intent.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*payment.GatewaySession, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &payment.GatewaySession{
		ID:            resp.ID,
		URL:           resp.URL,
		PaymentIntent: resp.PaymentIntent,
	}, nil
}

// CreateRefund refunds a payment intent for the given minor-unit amount.
func (c *Client) CreateRefund(ctx context.Context, p payment.RefundParams) (*payment.GatewayRefund, error) {
	form := url.Values{}
	form.Set("payment_intent", p.PaymentIntent)
	form.Set("amount", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("metadata[orderId]", p.OrderID)

	var resp refundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, &resp); err != nil {
		return nil, err
	}
	return &payment.GatewayRefund{ID: resp.ID, Status: resp.Status}, nil
}

// do performs one form-encoded API call, decoding the gateway's error
// envelope into a payment.GatewayError on non-2xx responses.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error.Message == "" {
			return &payment.GatewayError{
				StatusCode: resp.StatusCode,
				Type:       "api_error",
				Message:    fmt.Sprintf("unexpected response: %s", http.StatusText(resp.StatusCode)),
			}
		}
		return &payment.GatewayError{
			StatusCode: resp.StatusCode,
			Type:       apiErr.Error.Type,
			Message:    apiErr.Error.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
