// Package reconcile turns untrusted "payment succeeded" signals (return
// redirects, provider webhooks) into an exactly-once paid transition backed by
// the provider's authoritative checkout state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"jersey-events/internal/logger"
	"jersey-events/internal/models"
	orderdb "jersey-events/internal/order/db"
)

type OrderStore interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*models.Order, error)
	GetOrderBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderNumber string) ([]models.OrderItem, error)
	MarkPendingVerification(ctx context.Context, orderNumber, note string) error
	MarkPaid(ctx context.Context, orderNumber string, at time.Time) (bool, error)
	CancelOrder(ctx context.Context, orderNumber string) (bool, error)
	AppendPaymentNote(ctx context.Context, orderNumber, note string) error
	GetCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error)
	GetActiveCheckoutForOrder(ctx context.Context, orderNumber string) (*models.Checkout, error)
	UpdateCheckoutStatus(ctx context.Context, checkoutID string, status models.CheckoutStatus, rawResponse string) error
}

type EventStore interface {
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

// PaymentVerifier is the trusted boundary to the provider, the only source
// of truth for "is this paid".
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, checkoutID string, expectedAmount decimal.Decimal) (paymentConfirmed, amountMatches bool, err error)
}

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, order models.Order, items []models.OrderItem) ([]models.Ticket, error)
}

type Notifier interface {
	SendOrderConfirmation(order models.Order, tickets []models.Ticket) error
	SendOrganizerNotification(order models.Order, event models.Event) error
	SendOperatorAlert(order models.Order, reason string) error
}

// EventPublisher streams lifecycle events; every publish is best-effort.
type EventPublisher interface {
	PublishPaymentConfirmed(order models.Order) error
	PublishTicketsIssued(order models.Order, tickets []models.Ticket) error
	PublishOrderCancelled(order models.Order) error
}

// ReplayGuard admits each webhook event id once within its window.
type ReplayGuard interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

type OutcomeKind string

const (
	// OutcomeSuccess: payment verified, order paid (now or previously).
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeProcessing: verification not yet conclusive; the buyer sees a
	// "we're confirming your payment" page, never an error.
	OutcomeProcessing OutcomeKind = "processing"
	OutcomeNotFound   OutcomeKind = "not_found"
	OutcomeCancelled  OutcomeKind = "cancelled"
)

type Outcome struct {
	Kind    OutcomeKind   `json:"kind"`
	Message string        `json:"message"`
	Order   *models.Order `json:"order,omitempty"`
}

const processingMessage = "We're confirming your payment with the provider. " +
	"This normally takes seconds but can take up to 2 hours. You'll receive your tickets by email once confirmed."

type Pipeline struct {
	orders   OrderStore
	events   EventStore
	verifier PaymentVerifier
	issuer   TicketIssuer
	notifier Notifier
	stream   EventPublisher
	replay   ReplayGuard
	logger   *logger.Logger
	now      func() time.Time
}

func NewPipeline(orders OrderStore, events EventStore, verifier PaymentVerifier, issuer TicketIssuer,
	notifier Notifier, stream EventPublisher, replay ReplayGuard, log *logger.Logger) *Pipeline {
	return &Pipeline{
		orders:   orders,
		events:   events,
		verifier: verifier,
		issuer:   issuer,
		notifier: notifier,
		stream:   stream,
		replay:   replay,
		logger:   log,
		now:      time.Now,
	}
}

// ReturnParams are the untrusted URL parameters of the provider redirect.
// They locate an order and request verification; they never grant paid status.
type ReturnParams struct {
	OrderNumber string
	CheckoutID  string
	SessionRef  string
}

// HandleReturn processes the buyer coming back from the provider.
func (p *Pipeline) HandleReturn(ctx context.Context, params ReturnParams) Outcome {
	order, err := p.resolveOrder(ctx, params)
	if err != nil {
		p.logger.Warn("RECONCILE", fmt.Sprintf("return redirect could not resolve an order (order=%q checkout=%q): %v",
			params.OrderNumber, params.CheckoutID, err))
		return Outcome{Kind: OutcomeNotFound, Message: "We couldn't find your order. Please contact support."}
	}

	// Idempotent short-circuit: duplicate redirects for a paid order are the
	// normal case, not an error.
	if order.IsPaid && order.Status.IsPaidTerminal() {
		p.logger.LogPayment("RETURN", order.OrderNumber, "already paid, returning existing success state")
		return Outcome{Kind: OutcomeSuccess, Message: "Payment confirmed. Your tickets are on their way.", Order: order}
	}

	if err := p.orders.MarkPendingVerification(ctx, order.OrderNumber, "buyer returned from provider redirect"); err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("failed to mark order %s pending verification: %v", order.OrderNumber, err))
	}
	order.Status = models.OrderPendingVerification

	paid := p.verifyAndTransition(ctx, order)
	if paid {
		fresh, err := p.orders.GetOrderByNumber(ctx, order.OrderNumber)
		if err == nil {
			order = fresh
		}
		return Outcome{Kind: OutcomeSuccess, Message: "Payment confirmed. Your tickets are on their way.", Order: order}
	}
	return Outcome{Kind: OutcomeProcessing, Message: processingMessage, Order: order}
}

// HandleCancel records a buyer-side cancellation. Paid orders are untouched.
func (p *Pipeline) HandleCancel(ctx context.Context, orderNumber string) Outcome {
	order, err := p.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return Outcome{Kind: OutcomeNotFound, Message: "We couldn't find your order. Please contact support."}
	}

	cancelled, err := p.orders.CancelOrder(ctx, orderNumber)
	if err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("cancel failed for order %s: %v", orderNumber, err))
		return Outcome{Kind: OutcomeProcessing, Message: processingMessage, Order: order}
	}
	if !cancelled {
		// Already paid or already cancelled; report the current state.
		fresh, ferr := p.orders.GetOrderByNumber(ctx, orderNumber)
		if ferr == nil && fresh.IsPaid {
			return Outcome{Kind: OutcomeSuccess, Message: "This order is already paid and cannot be cancelled.", Order: fresh}
		}
		return Outcome{Kind: OutcomeCancelled, Message: "Your order has been cancelled.", Order: order}
	}

	order.Status = models.OrderCancelled
	if err := p.stream.PublishOrderCancelled(*order); err != nil {
		p.logger.Warn("RECONCILE", fmt.Sprintf("publish cancel event for order %s: %v", orderNumber, err))
	}
	p.logger.LogPayment("CANCEL", orderNumber, "order cancelled by buyer")
	return Outcome{Kind: OutcomeCancelled, Message: "Your order has been cancelled. No payment was taken.", Order: order}
}

// resolveOrder tries the lookup strategies in priority order and stops at the
// first match. Never guesses: no match means not found.
func (p *Pipeline) resolveOrder(ctx context.Context, params ReturnParams) (*models.Order, error) {
	type lookup struct {
		name string
		fn   func(context.Context) (*models.Order, error)
	}
	var lookups []lookup
	if params.OrderNumber != "" {
		lookups = append(lookups, lookup{"order_number", func(ctx context.Context) (*models.Order, error) {
			return p.orders.GetOrderByNumber(ctx, params.OrderNumber)
		}})
	}
	if params.CheckoutID != "" {
		lookups = append(lookups, lookup{"checkout_id", func(ctx context.Context) (*models.Order, error) {
			return p.orders.GetOrderByCheckoutID(ctx, params.CheckoutID)
		}})
	}
	if params.SessionRef != "" {
		lookups = append(lookups, lookup{"session_ref", func(ctx context.Context) (*models.Order, error) {
			return p.orders.GetOrderBySessionRef(ctx, params.SessionRef)
		}})
	}
	if len(lookups) == 0 {
		return nil, orderdb.ErrOrderNotFound
	}

	var lastErr error
	for _, l := range lookups {
		order, err := l.fn(ctx)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orderdb.ErrOrderNotFound) && !errors.Is(err, orderdb.ErrCheckoutNotFound) {
			p.logger.Error("RECONCILE", fmt.Sprintf("lookup by %s failed: %v", l.name, err))
		}
		lastErr = err
	}
	return nil, lastErr
}

// verifyAndTransition is the shared verification + paid-transition path for
// both triggers. Returns true when the order is paid (by this call or an
// earlier one).
//
// The provider call happens before any write so the slow network operation
// never sits inside a row lock; the paid transition itself is a compare-and-
// set on the current status.
func (p *Pipeline) verifyAndTransition(ctx context.Context, order *models.Order) bool {
	checkout, err := p.orders.GetActiveCheckoutForOrder(ctx, order.OrderNumber)
	if err != nil {
		p.holdForReview(ctx, order, fmt.Sprintf("no active checkout record: %v", err))
		return false
	}

	confirmed, amountMatches, err := p.verifier.VerifyPayment(ctx, checkout.CheckoutID, order.Total)
	if err != nil {
		// Ambiguous, not failed: the payment may be genuine. Hold and alert.
		p.holdForReview(ctx, order, fmt.Sprintf("verification call failed: %v", err))
		return false
	}
	if !confirmed {
		p.holdForReview(ctx, order, fmt.Sprintf("provider has not confirmed checkout %s", checkout.CheckoutID))
		return false
	}
	if !amountMatches {
		p.logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("order %s: provider amount disagrees with order total %s",
			order.OrderNumber, order.Total.String()))
		p.holdForReview(ctx, order, fmt.Sprintf("amount mismatch on checkout %s (expected %s)", checkout.CheckoutID, order.Total.String()))
		return false
	}

	paidAt := p.now()
	won, err := p.orders.MarkPaid(ctx, order.OrderNumber, paidAt)
	if err != nil {
		p.holdForReview(ctx, order, fmt.Sprintf("paid transition failed: %v", err))
		return false
	}
	if !won {
		// Another trigger already completed the transition; nothing further
		// to do, and definitely no second issuance.
		p.logger.LogPayment("VERIFY", order.OrderNumber, "paid transition already completed by a concurrent trigger")
		return true
	}

	order.Status = models.OrderConfirmed
	order.IsPaid = true
	order.PaidAt = paidAt
	p.logger.LogPayment("VERIFY", order.OrderNumber, "payment verified, order confirmed")

	if err := p.orders.UpdateCheckoutStatus(ctx, checkout.CheckoutID, models.CheckoutPaid, ""); err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("checkout mirror update failed for %s: %v", checkout.CheckoutID, err))
	}

	// Everything past this point is a side effect of an already-committed
	// payment: log and continue, never unwind.
	p.fanOut(ctx, order)
	return true
}

func (p *Pipeline) fanOut(ctx context.Context, order *models.Order) {
	items, err := p.orders.GetOrderItems(ctx, order.OrderNumber)
	if err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("could not load items for order %s: %v", order.OrderNumber, err))
		items = nil
	}

	tickets, err := p.issuer.IssueForOrder(ctx, *order, items)
	if err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("ticket issuance for order %s: %v", order.OrderNumber, err))
	}

	if err := p.stream.PublishPaymentConfirmed(*order); err != nil {
		p.logger.Warn("RECONCILE", fmt.Sprintf("publish payment event for order %s: %v", order.OrderNumber, err))
	}
	if len(tickets) > 0 {
		if err := p.stream.PublishTicketsIssued(*order, tickets); err != nil {
			p.logger.Warn("RECONCILE", fmt.Sprintf("publish tickets event for order %s: %v", order.OrderNumber, err))
		}
	}

	if err := p.notifier.SendOrderConfirmation(*order, tickets); err != nil {
		p.logger.Error("NOTIFY", fmt.Sprintf("confirmation email for order %s: %v", order.OrderNumber, err))
	}
	seen := map[string]bool{}
	for _, item := range items {
		if seen[item.EventID] {
			continue
		}
		seen[item.EventID] = true
		event, err := p.events.GetEventByID(ctx, item.EventID)
		if err != nil {
			p.logger.Error("NOTIFY", fmt.Sprintf("organiser lookup for event %s: %v", item.EventID, err))
			continue
		}
		if err := p.notifier.SendOrganizerNotification(*order, *event); err != nil {
			p.logger.Error("NOTIFY", fmt.Sprintf("organiser email for event %s: %v", item.EventID, err))
		}
	}
}

// holdForReview keeps the order in pending_verification with a diagnostic
// note and raises an operator alert. The buyer-facing outcome stays
// "processing" because the payment may well be genuine.
func (p *Pipeline) holdForReview(ctx context.Context, order *models.Order, reason string) {
	p.logger.Warn("RECONCILE", fmt.Sprintf("order %s held for review: %s", order.OrderNumber, reason))
	if err := p.orders.MarkPendingVerification(ctx, order.OrderNumber, reason); err != nil {
		p.logger.Error("RECONCILE", fmt.Sprintf("failed to persist review note for order %s: %v", order.OrderNumber, err))
	}
	order.PaymentNotes = reason
	if err := p.notifier.SendOperatorAlert(*order, reason); err != nil {
		p.logger.Error("NOTIFY", fmt.Sprintf("operator alert for order %s: %v", order.OrderNumber, err))
	}
}
