package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"jersey-events/internal/models"
)

// WebhookError carries both an operator-facing diagnosis and a safe public
// message for the HTTP response.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// webhookPayload is the provider's notification body. Untrusted: it only
// locates the checkout, it never authorises a paid transition.
type webhookPayload struct {
	EventID    string `json:"event_id"`
	ID         string `json:"id"`
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
}

func (w webhookPayload) checkoutRef() string {
	if w.CheckoutID != "" {
		return w.CheckoutID
	}
	return w.ID
}

func (w webhookPayload) eventRef() string {
	if w.EventID != "" {
		return w.EventID
	}
	return w.checkoutRef() + ":" + w.Status
}

// VerifyWebhookSignature checks the HMAC-SHA256 of the raw body against the
// shared secret. Constant-time compare; a missing secret is a configuration
// fault, never an open door.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// HandleWebhook admits a provider notification into the verification path.
// The signature check and replay guard run before anything in the body is
// believed; even then the embedded status only selects whether to verify,
// the provider status API remains the source of truth.
func (p *Pipeline) HandleWebhook(ctx context.Context, body []byte, signature, secret string) error {
	if secret == "" {
		p.logger.Error("WEBHOOK", "webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "webhook secret is not configured",
		}
	}

	if !VerifyWebhookSignature(body, signature, secret) {
		p.logger.LogSecurity("WEBHOOK_SIGNATURE", "webhook rejected: signature verification failed")
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: "webhook signature verification failed",
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("malformed webhook payload: %v", err),
		}
	}
	if payload.checkoutRef() == "" {
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: "webhook payload carries no checkout id",
		}
	}

	if p.replay != nil {
		first, err := p.replay.FirstSeen(ctx, payload.eventRef())
		if err != nil {
			// Fail open: the paid transition is idempotent, a replayed
			// webhook can at worst trigger a redundant verification.
			p.logger.Error("WEBHOOK", fmt.Sprintf("replay guard unavailable: %v", err))
		} else if !first {
			p.logger.Info("WEBHOOK", fmt.Sprintf("duplicate delivery for %s, ignoring", payload.eventRef()))
			return nil
		}
	}

	p.logger.Info("WEBHOOK", fmt.Sprintf("processing webhook for checkout %s (claimed status %q)", payload.checkoutRef(), payload.Status))

	order, err := p.orders.GetOrderByCheckoutID(ctx, payload.checkoutRef())
	if err != nil {
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusNotFound,
			PublicError:   "Unknown checkout",
			InternalError: fmt.Sprintf("no order for checkout %s: %v", payload.checkoutRef(), err),
		}
	}

	if order.IsPaid && order.Status.IsPaidTerminal() {
		p.logger.LogPayment("WEBHOOK", order.OrderNumber, "already paid, webhook is a no-op")
		return nil
	}

	if err := p.orders.MarkPendingVerification(ctx, order.OrderNumber, "provider webhook received"); err != nil {
		p.logger.Error("WEBHOOK", fmt.Sprintf("failed to mark order %s pending verification: %v", order.OrderNumber, err))
	}
	order.Status = models.OrderPendingVerification

	p.verifyAndTransition(ctx, order)
	return nil
}
