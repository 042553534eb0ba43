package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending             OrderStatus = "pending"
	OrderPendingVerification OrderStatus = "pending_verification"
	OrderConfirmed           OrderStatus = "confirmed"
	// OrderCompleted is an older synonym for OrderConfirmed still present in
	// historical rows. Treated as paid-terminal everywhere.
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// IsPaidTerminal reports whether the status is a terminal paid state that an
// order must never regress from.
func (s OrderStatus) IsPaidTerminal() bool {
	return s == OrderConfirmed || s == OrderCompleted
}

type OrderType string

const (
	OrderTypeTicketPurchase OrderType = "ticket_purchase"
	// OrderTypeListingFee is an organiser's flat fee to publish an event. It
	// reconciles through the same pipeline but mints no tickets.
	OrderTypeListingFee OrderType = "listing_fee"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderNumber  string          `bun:"order_number,pk" json:"order_number"`
	BuyerName    string          `bun:"buyer_name" json:"buyer_name"`
	BuyerEmail   string          `bun:"buyer_email" json:"buyer_email"`
	BuyerPhone   string          `bun:"buyer_phone" json:"buyer_phone,omitempty"`
	Subtotal     decimal.Decimal `bun:"subtotal,type:decimal(10,2)" json:"subtotal"`
	Total        decimal.Decimal `bun:"total,type:decimal(10,2)" json:"total"`
	Currency     string          `bun:"currency" json:"currency"`
	OrderType    OrderType       `bun:"order_type" json:"order_type"`
	Status       OrderStatus     `bun:"status" json:"status"`
	IsPaid       bool            `bun:"is_paid" json:"is_paid"`
	PaidAt       time.Time       `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	PaymentNotes string          `bun:"payment_notes" json:"payment_notes,omitempty"`
	SessionRef   string          `bun:"session_ref" json:"-"`
	CreatedAt    time.Time       `bun:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// OrderItem is a historical snapshot: quantity and unit price are captured at
// purchase time and never recomputed from the live event.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID          string          `bun:"id,pk" json:"id"`
	OrderNumber string          `bun:"order_number" json:"order_number"`
	EventID     string          `bun:"event_id" json:"event_id"`
	Quantity    int             `bun:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `bun:"unit_price,type:decimal(10,2)" json:"unit_price"`
	CreatedAt   time.Time       `bun:"created_at" json:"created_at"`
}
