// Package issuance fans a paid order out into concrete ticket records, each
// carrying a tamper-evident QR code and a printable document.
package issuance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jersey-events/internal/logger"
	"jersey-events/internal/models"
	"jersey-events/internal/qrcodec"
	"jersey-events/internal/utils"
)

const (
	ticketSuffixLen      = 8
	maxAllocationRetries = 5
)

type TicketStore interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) error
	TicketsExistForOrder(ctx context.Context, orderNumber string) (bool, error)
	TicketNumberExists(ctx context.Context, ticketNumber string) (bool, error)
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
	SetPDFRef(ctx context.Context, ticketNumber, pdfRef string) error
}

// DocumentStore persists rendered ticket PDFs and returns a retrievable
// reference.
type DocumentStore interface {
	SaveTicketPDF(ticketNumber string, pdf []byte) (string, error)
}

// Renderer produces the printable ticket artifact.
type Renderer interface {
	Render(ticket models.Ticket, event models.Event, qrPNG []byte) ([]byte, error)
}

type Engine struct {
	store    TicketStore
	docs     DocumentStore
	renderer Renderer
	codec    *qrcodec.Codec
	logger   *logger.Logger
	now      func() time.Time
}

func NewEngine(store TicketStore, docs DocumentStore, renderer Renderer, codec *qrcodec.Codec, log *logger.Logger) *Engine {
	return &Engine{store: store, docs: docs, renderer: renderer, codec: codec, logger: log, now: time.Now}
}

// IssueForOrder mints one ticket per purchased unit across the order's items.
// The reconciliation pipeline only calls this on the paid-transition edge; the
// tickets-already-exist check is a defensive second line, not the idempotency
// mechanism.
//
// A failed PDF render never aborts the batch: the ticket record with its QR
// data is the source of truth and the document can be regenerated later.
func (e *Engine) IssueForOrder(ctx context.Context, order models.Order, items []models.OrderItem) ([]models.Ticket, error) {
	if order.OrderType == models.OrderTypeListingFee {
		e.logger.Info("ISSUANCE", fmt.Sprintf("order %s is a listing fee, no tickets to mint", order.OrderNumber))
		return nil, nil
	}

	exists, err := e.store.TicketsExistForOrder(ctx, order.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("issuance: pre-check for order %s: %w", order.OrderNumber, err)
	}
	if exists {
		e.logger.Warn("ISSUANCE", fmt.Sprintf("tickets already exist for order %s, skipping", order.OrderNumber))
		return nil, nil
	}

	purchasedAt := order.PaidAt
	if purchasedAt.IsZero() {
		purchasedAt = e.now()
	}

	var minted []models.Ticket
	for _, item := range items {
		event, err := e.store.GetEventByID(ctx, item.EventID)
		if err != nil {
			return minted, fmt.Errorf("issuance: event %s for order %s: %w", item.EventID, order.OrderNumber, err)
		}

		for unit := 0; unit < item.Quantity; unit++ {
			ticket, err := e.mintTicket(ctx, order, *event, purchasedAt)
			if err != nil {
				return minted, fmt.Errorf("issuance: mint unit %d of item %s: %w", unit+1, item.ID, err)
			}
			minted = append(minted, *ticket)
		}
	}

	e.logger.Info("ISSUANCE", fmt.Sprintf("minted %d ticket(s) for order %s", len(minted), order.OrderNumber))
	return minted, nil
}

func (e *Engine) mintTicket(ctx context.Context, order models.Order, event models.Event, purchasedAt time.Time) (*models.Ticket, error) {
	number, err := e.allocateTicketNumber(ctx, event.Slug)
	if err != nil {
		return nil, err
	}

	hash := e.codec.DeriveValidationHash(number, event.ID, order.BuyerEmail, purchasedAt)
	wire := e.codec.Encode(number, event.ID, order.BuyerEmail, purchasedAt)

	qrPNG, err := qrcodec.RenderPNG(wire)
	if err != nil {
		return nil, fmt.Errorf("render QR for ticket %s: %w", number, err)
	}

	ticket := models.Ticket{
		TicketNumber:   number,
		OrderNumber:    order.OrderNumber,
		EventID:        event.ID,
		BuyerName:      order.BuyerName,
		BuyerEmail:     order.BuyerEmail,
		PurchasedAt:    purchasedAt,
		ValidationHash: hash,
		QRData:         wire,
		QRPNG:          qrPNG,
		Status:         models.TicketValid,
		IssuedAt:       e.now(),
	}

	if err := e.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("persist ticket %s: %w", number, err)
	}

	// Best-effort document rendering after the record is committed.
	pdf, err := e.renderer.Render(ticket, event, qrPNG)
	if err != nil {
		e.logger.Error("ISSUANCE", fmt.Sprintf("PDF render failed for ticket %s: %v", number, err))
		return &ticket, nil
	}
	ref, err := e.docs.SaveTicketPDF(number, pdf)
	if err != nil {
		e.logger.Error("ISSUANCE", fmt.Sprintf("PDF store failed for ticket %s: %v", number, err))
		return &ticket, nil
	}
	if err := e.store.SetPDFRef(ctx, number, ref); err != nil {
		e.logger.Error("ISSUANCE", fmt.Sprintf("PDF ref update failed for ticket %s: %v", number, err))
		return &ticket, nil
	}
	ticket.PDFRef = ref
	return &ticket, nil
}

// allocateTicketNumber builds an event-slug-prefixed number with a random
// suffix, re-rolling on the unlikely collision.
func (e *Engine) allocateTicketNumber(ctx context.Context, eventSlug string) (string, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(eventSlug, "-", ""))
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	for attempt := 0; attempt < maxAllocationRetries; attempt++ {
		number := fmt.Sprintf("%s-%s", prefix, utils.GenerateTicketSuffix(ticketSuffixLen))
		exists, err := e.store.TicketNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("collision check for %s: %w", number, err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique ticket number for %s after %d attempts", eventSlug, maxAllocationRetries)
}
