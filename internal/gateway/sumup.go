// Package gateway is the single trusted boundary to the payment provider's
// authoritative checkout state. Everything the redirect or webhook claims is
// re-derived through here before an order may become paid.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"jersey-events/internal/logger"
)

// Statuses the provider reports for a settled checkout. An explicit
// allow-list: anything else, including values we have never seen, is
// non-success.
var successStatuses = map[string]bool{
	"PAID":       true,
	"SUCCESSFUL": true,
}

// amountEpsilon tolerates one minor currency unit of rounding between our
// decimal total and the provider's reported amount.
var amountEpsilon = decimal.NewFromFloat(0.01)

// CheckoutStatus is the provider's authoritative view of one checkout.
type CheckoutStatus struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Raw      string          `json:"-"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// GetCheckoutStatus fetches the provider-side state of a checkout. Any
// transport failure, non-2xx response or malformed body comes back as an
// error; a caller must treat every error as payment-unverified, never as
// success.
func (c *Client) GetCheckoutStatus(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	url := fmt.Sprintf("%s/v0.1/checkouts/%s", c.baseURL, checkoutID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: checkout %s status call failed: %w", checkoutID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response for checkout %s: %w", checkoutID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway: checkout %s status call returned %d", checkoutID, resp.StatusCode)
	}

	var status CheckoutStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("gateway: malformed response for checkout %s: %w", checkoutID, err)
	}
	if status.Status == "" {
		return nil, fmt.Errorf("gateway: response for checkout %s carries no status", checkoutID)
	}
	status.Raw = string(body)
	return &status, nil
}

// VerifyPayment confirms both that the provider settled the checkout and that
// the settled amount matches the order total. An amount mismatch is a fraud
// signal in its own right, independent of status.
func (c *Client) VerifyPayment(ctx context.Context, checkoutID string, expectedAmount decimal.Decimal) (paymentConfirmed, amountMatches bool, err error) {
	status, err := c.GetCheckoutStatus(ctx, checkoutID)
	if err != nil {
		// Unverified, not failed. The payment may be genuine and only the
		// status call broken.
		c.logger.Error("GATEWAY", fmt.Sprintf("verification call for checkout %s failed: %v", checkoutID, err))
		return false, false, err
	}

	paymentConfirmed = successStatuses[status.Status]
	amountMatches = status.Amount.Sub(expectedAmount).Abs().LessThanOrEqual(amountEpsilon)

	if paymentConfirmed && !amountMatches {
		c.logger.Warn("GATEWAY", fmt.Sprintf("amount mismatch for checkout %s: provider=%s expected=%s",
			checkoutID, status.Amount.String(), expectedAmount.String()))
	}
	return paymentConfirmed, amountMatches, nil
}
