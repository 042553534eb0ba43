package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"jersey-events/internal/models"
)

var ErrTicketNotFound = errors.New("ticket not found")

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	return err
}

func (d *DB) GetTicketByNumber(ctx context.Context, ticketNumber string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_number = ?", ticketNumber).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicket looks a ticket up by the (ticket_number, event_id) pair decoded
// from a scanned QR code.
func (d *DB) GetTicket(ctx context.Context, ticketNumber, eventID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_number = ?", ticketNumber).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderNumber string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_number = ?", orderNumber).
		Order("issued_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TicketsExistForOrder backs the issuance engine's defensive re-entry guard.
func (d *DB) TicketsExistForOrder(ctx context.Context, orderNumber string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("order_number = ?", orderNumber).
		Exists(ctx)
}

// TicketNumberExists backs collision checking during number allocation.
func (d *DB) TicketNumberExists(ctx context.Context, ticketNumber string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("ticket_number = ?", ticketNumber).
		Exists(ctx)
}

// MarkValidated performs the one-way used transition as a single conditional
// update. The WHERE guard, not any prior read, decides the double-scan race:
// exactly one concurrent scanner sees true.
func (d *DB) MarkValidated(ctx context.Context, ticketNumber, validatedBy string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("is_validated = ?", true).
		Set("validated_at = ?", at).
		Set("validated_by = ?", validatedBy).
		Set("status = ?", models.TicketUsed).
		Where("ticket_number = ?", ticketNumber).
		Where("is_validated = ?", false).
		Where("status = ?", models.TicketValid).
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

// SetPDFRef records where a rendered ticket document was stored. Issuance
// retries call this after the fact, so it is not part of the mint transaction.
func (d *DB) SetPDFRef(ctx context.Context, ticketNumber, pdfRef string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("pdf_ref = ?", pdfRef).
		Where("ticket_number = ?", ticketNumber).
		Exec(ctx)
	return err
}

func (d *DB) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
