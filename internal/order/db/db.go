package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"jersey-events/internal/models"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCheckoutNotFound = errors.New("checkout not found")
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(ctx context.Context, order models.Order) error {
	_, err := d.Bun.NewInsert().Model(&order).Exec(ctx)
	return err
}

func (d *DB) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_number = ?", orderNumber).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByCheckoutID resolves an order through its active provider checkout.
func (d *DB) GetOrderByCheckoutID(ctx context.Context, checkoutID string) (*models.Order, error) {
	checkout, err := d.GetCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	return d.GetOrderByNumber(ctx, checkout.OrderNumber)
}

// GetOrderBySessionRef resolves an order from the buyer's session reference,
// the last-resort lookup when the redirect carries no usable parameters.
func (d *DB) GetOrderBySessionRef(ctx context.Context, sessionRef string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("session_ref = ?", sessionRef).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderItems(ctx context.Context, orderNumber string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_number = ?", orderNumber).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkPendingVerification moves an order into the awaiting-authoritative-check
// state and appends an audit note. Paid-terminal orders are left untouched.
func (d *DB) MarkPendingVerification(ctx context.Context, orderNumber, note string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderPendingVerification).
		Set("updated_at = ?", time.Now()).
		Where("order_number = ?", orderNumber).
		Where("is_paid = ?", false).
		Where("status NOT IN (?)", bun.In([]models.OrderStatus{models.OrderConfirmed, models.OrderCompleted, models.OrderCancelled})).
		Exec(ctx)
	if err != nil {
		return err
	}
	if note != "" {
		return d.AppendPaymentNote(ctx, orderNumber, note)
	}
	return nil
}

// MarkPaid is the single place an order may become paid. The WHERE guard makes
// the transition a compare-and-set: concurrent triggers race on the same row
// and exactly one wins.
func (d *DB) MarkPaid(ctx context.Context, orderNumber string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderConfirmed).
		Set("is_paid = ?", true).
		Set("paid_at = ?", at).
		Set("updated_at = ?", at).
		Where("order_number = ?", orderNumber).
		Where("is_paid = ?", false).
		Where("status NOT IN (?)", bun.In([]models.OrderStatus{models.OrderConfirmed, models.OrderCompleted})).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelOrder sets the cancelled status unless the order already reached a
// paid terminal state. Never touches is_paid.
func (d *DB) CancelOrder(ctx context.Context, orderNumber string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderCancelled).
		Set("updated_at = ?", time.Now()).
		Where("order_number = ?", orderNumber).
		Where("is_paid = ?", false).
		Where("status NOT IN (?)", bun.In([]models.OrderStatus{models.OrderConfirmed, models.OrderCompleted})).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendPaymentNote records verification diagnostics without clobbering
// earlier notes.
func (d *DB) AppendPaymentNote(ctx context.Context, orderNumber, note string) error {
	stamped := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), note)
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_notes = CASE WHEN payment_notes = '' THEN ? ELSE payment_notes || ? END", stamped, "\n"+stamped).
		Where("order_number = ?", orderNumber).
		Exec(ctx)
	return err
}

// ---------------- CHECKOUTS ----------------

func (d *DB) CreateCheckout(ctx context.Context, checkout models.Checkout) error {
	_, err := d.Bun.NewInsert().Model(&checkout).Exec(ctx)
	return err
}

func (d *DB) GetCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error) {
	var checkout models.Checkout
	err := d.Bun.NewSelect().
		Model(&checkout).
		Where("checkout_id = ?", checkoutID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}

// GetActiveCheckoutForOrder returns the most recent checkout for an order.
func (d *DB) GetActiveCheckoutForOrder(ctx context.Context, orderNumber string) (*models.Checkout, error) {
	var checkout models.Checkout
	err := d.Bun.NewSelect().
		Model(&checkout).
		Where("order_number = ?", orderNumber).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}

// UpdateCheckoutStatus mirrors the provider's authoritative state onto the
// checkout record, keeping the raw response for audit.
func (d *DB) UpdateCheckoutStatus(ctx context.Context, checkoutID string, status models.CheckoutStatus, rawResponse string) error {
	q := d.Bun.NewUpdate().
		Model((*models.Checkout)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("checkout_id = ?", checkoutID)
	if rawResponse != "" {
		q = q.Set("raw_response = ?", rawResponse)
	}
	_, err := q.Exec(ctx)
	return err
}
