package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type CheckoutStatus string

const (
	CheckoutCreated CheckoutStatus = "created"
	CheckoutPending CheckoutStatus = "pending"
	CheckoutPaid    CheckoutStatus = "paid"
	CheckoutFailed  CheckoutStatus = "failed"
)

// Checkout mirrors the provider-side payment session for one payment attempt.
// Created before the buyer is redirected out; only the reconciliation pipeline
// updates it afterwards.
type Checkout struct {
	bun.BaseModel `bun:"table:checkouts"`

	CheckoutID  string          `bun:"checkout_id,pk" json:"checkout_id"`
	OrderNumber string          `bun:"order_number" json:"order_number"`
	Amount      decimal.Decimal `bun:"amount,type:decimal(10,2)" json:"amount"`
	Currency    string          `bun:"currency" json:"currency"`
	Status      CheckoutStatus  `bun:"status" json:"status"`
	RawResponse string          `bun:"raw_response" json:"-"`
	CreatedAt   time.Time       `bun:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}
