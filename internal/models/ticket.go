package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

// Ticket is minted exactly once per purchased unit. Immutable after issuance
// except for the one-way validation transition at the venue.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketNumber   string       `bun:"ticket_number,pk" json:"ticket_number"`
	OrderNumber    string       `bun:"order_number" json:"order_number"`
	EventID        string       `bun:"event_id" json:"event_id"`
	BuyerName      string       `bun:"buyer_name" json:"buyer_name"`
	BuyerEmail     string       `bun:"buyer_email" json:"buyer_email"`
	PurchasedAt    time.Time    `bun:"purchased_at" json:"purchased_at"`
	ValidationHash string       `bun:"validation_hash" json:"validation_hash"`
	QRData         string       `bun:"qr_data" json:"qr_data"`
	QRPNG          []byte       `bun:"qr_png" json:"-"`
	PDFRef         string       `bun:"pdf_ref" json:"pdf_ref,omitempty"`
	Status         TicketStatus `bun:"status" json:"status"`
	IsValidated    bool         `bun:"is_validated" json:"is_validated"`
	ValidatedAt    time.Time    `bun:"validated_at,nullzero" json:"validated_at,omitempty"`
	ValidatedBy    string       `bun:"validated_by" json:"validated_by,omitempty"`
	IssuedAt       time.Time    `bun:"issued_at" json:"issued_at"`
}
