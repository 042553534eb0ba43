// Package entry implements venue-side ticket validation: decode a scanned QR
// wire string, verify the hash, and perform the one-time used transition.
package entry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jersey-events/internal/logger"
	"jersey-events/internal/models"
	"jersey-events/internal/qrcodec"
	ticketdb "jersey-events/internal/tickets/db"
)

// Reason is the closed set of rejection causes. The presentation layer maps
// these to user-facing text; the reason tags are stable.
type Reason string

const (
	ReasonValidated        Reason = "Validated"
	ReasonInvalidFormat    Reason = "InvalidFormat"
	ReasonTicketNotFound   Reason = "TicketNotFound"
	ReasonDataMismatch     Reason = "DataMismatch"
	ReasonInvalidSignature Reason = "InvalidSignature"
	ReasonAlreadyUsed      Reason = "AlreadyUsed"
	ReasonStatusInvalid    Reason = "StatusInvalid"
	ReasonEventExpired     Reason = "EventExpired"
	ReasonNotYetEntryDay   Reason = "NotYetEntryDay"
)

// Result carries the outcome of one scan. Ticket is non-nil on success and on
// the AlreadyUsed rejection (the UI shows who got in first); nil otherwise.
type Result struct {
	OK      bool           `json:"ok"`
	Reason  Reason         `json:"reason"`
	Message string         `json:"message"`
	Ticket  *models.Ticket `json:"ticket,omitempty"`
}

type TicketStore interface {
	GetTicket(ctx context.Context, ticketNumber, eventID string) (*models.Ticket, error)
	MarkValidated(ctx context.Context, ticketNumber, validatedBy string, at time.Time) (bool, error)
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

type Validator struct {
	store  TicketStore
	codec  *qrcodec.Codec
	logger *logger.Logger
	now    func() time.Time
}

func NewValidator(store TicketStore, codec *qrcodec.Codec, log *logger.Logger) *Validator {
	return &Validator{store: store, codec: codec, logger: log, now: time.Now}
}

// Validate runs the full scan sequence for one wire string. The final used
// transition is a conditional single-row update; its row count, not the
// earlier read, settles simultaneous scans of the same ticket.
func (v *Validator) Validate(ctx context.Context, wire, validatedBy string) Result {
	payload, err := qrcodec.Decode(wire)
	if err != nil {
		v.logger.Warn("ENTRY", fmt.Sprintf("rejected scan: %v", err))
		return Result{Reason: ReasonInvalidFormat, Message: "Invalid ticket code format."}
	}

	ticket, err := v.store.GetTicket(ctx, payload.TicketNumber, payload.EventID)
	if err != nil {
		if errors.Is(err, ticketdb.ErrTicketNotFound) {
			v.logger.Warn("ENTRY", fmt.Sprintf("ticket %s not found for event %s", payload.TicketNumber, payload.EventID))
			return Result{Reason: ReasonTicketNotFound, Message: "Ticket not found."}
		}
		v.logger.Error("ENTRY", fmt.Sprintf("lookup failed for ticket %s: %v", payload.TicketNumber, err))
		return Result{Reason: ReasonTicketNotFound, Message: "Ticket could not be verified. Try again."}
	}

	// Buyer email mismatch means the code was edited after issue.
	if !strings.EqualFold(payload.BuyerEmail, ticket.BuyerEmail) {
		v.logger.LogSecurity("DATA_MISMATCH", fmt.Sprintf("ticket %s scanned with mismatched buyer email", ticket.TicketNumber))
		return Result{Reason: ReasonDataMismatch, Message: "Ticket data does not match our records."}
	}

	if !v.codec.VerifyHash(payload.ValidationHash, ticket.TicketNumber, ticket.EventID, ticket.BuyerEmail, ticket.PurchasedAt) {
		v.logger.LogSecurity("INVALID_SIGNATURE", fmt.Sprintf("ticket %s scanned with bad validation hash", ticket.TicketNumber))
		return Result{Reason: ReasonInvalidSignature, Message: "Ticket code failed verification."}
	}

	if ticket.IsValidated {
		return Result{
			Reason:  ReasonAlreadyUsed,
			Message: fmt.Sprintf("Ticket already used at %s.", ticket.ValidatedAt.Format("2006-01-02 15:04")),
			Ticket:  ticket,
		}
	}

	switch ticket.Status {
	case models.TicketValid:
	case models.TicketCancelled:
		return Result{Reason: ReasonStatusInvalid, Message: "Ticket has been cancelled."}
	case models.TicketRefunded:
		return Result{Reason: ReasonStatusInvalid, Message: "Ticket has been refunded."}
	default:
		return Result{Reason: ReasonStatusInvalid, Message: fmt.Sprintf("Ticket is not valid for entry (status: %s).", ticket.Status)}
	}

	event, err := v.store.GetEventByID(ctx, ticket.EventID)
	if err != nil {
		v.logger.Error("ENTRY", fmt.Sprintf("event %s lookup failed: %v", ticket.EventID, err))
		return Result{Reason: ReasonTicketNotFound, Message: "Event could not be verified. Try again."}
	}

	now := v.now()
	eventDay := dateOf(event.StartsAt)
	today := dateOf(now)
	if eventDay.Before(today) {
		return Result{Reason: ReasonEventExpired, Message: "This event has already taken place."}
	}
	if eventDay.After(today) {
		return Result{
			Reason:  ReasonNotYetEntryDay,
			Message: fmt.Sprintf("Entry opens on the event day, %s.", event.StartsAt.Format("2 January 2006")),
		}
	}

	updated, err := v.store.MarkValidated(ctx, ticket.TicketNumber, validatedBy, now)
	if err != nil {
		v.logger.Error("ENTRY", fmt.Sprintf("used-transition failed for ticket %s: %v", ticket.TicketNumber, err))
		return Result{Reason: ReasonStatusInvalid, Message: "Validation could not be recorded. Try again."}
	}
	if !updated {
		// A concurrent scanner won the conditional update.
		fresh, ferr := v.store.GetTicket(ctx, ticket.TicketNumber, ticket.EventID)
		if ferr == nil {
			return Result{
				Reason:  ReasonAlreadyUsed,
				Message: fmt.Sprintf("Ticket already used at %s.", fresh.ValidatedAt.Format("2006-01-02 15:04")),
				Ticket:  fresh,
			}
		}
		return Result{Reason: ReasonAlreadyUsed, Message: "Ticket already used."}
	}

	ticket.IsValidated = true
	ticket.ValidatedAt = now
	ticket.ValidatedBy = validatedBy
	ticket.Status = models.TicketUsed

	v.logger.Info("ENTRY", fmt.Sprintf("ticket %s validated by %s", ticket.TicketNumber, validatedBy))
	return Result{OK: true, Reason: ReasonValidated, Message: "Ticket validated. Welcome!", Ticket: ticket}
}

// BatchSummary aggregates a bulk scan. Codes are validated independently;
// there is no cross-code transactionality.
type BatchSummary struct {
	Results  []Result `json:"results"`
	Admitted int      `json:"admitted"`
	Rejected int      `json:"rejected"`
}

func (v *Validator) ValidateBatch(ctx context.Context, wires []string, validatedBy string) BatchSummary {
	summary := BatchSummary{Results: make([]Result, 0, len(wires))}
	for _, wire := range wires {
		res := v.Validate(ctx, wire, validatedBy)
		if res.OK {
			summary.Admitted++
		} else {
			summary.Rejected++
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
