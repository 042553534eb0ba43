package issuance_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"jersey-events/internal/issuance"
	"jersey-events/internal/logger"
	"jersey-events/internal/models"
	"jersey-events/internal/qrcodec"
	ticketdb "jersey-events/internal/tickets/db"
)

var dbCounter int64

type stubRenderer struct {
	fail  bool
	calls int
}

func (r *stubRenderer) Render(ticket models.Ticket, event models.Event, qrPNG []byte) ([]byte, error) {
	r.calls++
	if r.fail {
		return nil, errors.New("font not available")
	}
	return []byte("%PDF-1.4 stub " + ticket.TicketNumber), nil
}

type memDocs struct {
	saved map[string][]byte
}

func (d *memDocs) SaveTicketPDF(ticketNumber string, pdf []byte) (string, error) {
	if d.saved == nil {
		d.saved = make(map[string][]byte)
	}
	d.saved[ticketNumber] = pdf
	return "tickets/" + ticketNumber + ".pdf", nil
}

func setupEngine(t *testing.T, renderer issuance.Renderer) (*issuance.Engine, *ticketdb.DB, *qrcodec.Codec) {
	t.Helper()
	dsn := fmt.Sprintf("file:issuance_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbCounter, 1))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	t.Cleanup(func() { bunDB.Close() })

	store := &ticketdb.DB{Bun: bunDB}
	_, err = bunDB.NewInsert().Model(&models.Event{
		ID:             "evt-1",
		Name:           "Jazz Night",
		Slug:           "jazz-night",
		Venue:          "Fort Regent",
		StartsAt:       time.Now().Add(72 * time.Hour),
		OrganizerName:  "Jo Organizer",
		OrganizerEmail: "jo@example.com",
	}).Exec(ctx)
	require.NoError(t, err)

	codec := qrcodec.New("issuance-test-secret")
	engine := issuance.NewEngine(store, &memDocs{}, renderer, codec, logger.NewNopLogger())
	return engine, store, codec
}

func paidOrder() models.Order {
	return models.Order{
		OrderNumber: "JE-1-000001",
		BuyerName:   "Sam Buyer",
		BuyerEmail:  "sam@example.com",
		Subtotal:    decimal.NewFromFloat(45.00),
		Total:       decimal.NewFromFloat(45.00),
		Currency:    "GBP",
		OrderType:   models.OrderTypeTicketPurchase,
		Status:      models.OrderConfirmed,
		IsPaid:      true,
		PaidAt:      time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC),
		CreatedAt:   time.Now(),
	}
}

func twoTicketItem() []models.OrderItem {
	return []models.OrderItem{{
		ID:          "item-1",
		OrderNumber: "JE-1-000001",
		EventID:     "evt-1",
		Quantity:    2,
		UnitPrice:   decimal.NewFromFloat(22.50),
		CreatedAt:   time.Now(),
	}}
}

func TestIssueForOrderMintsOnePerUnit(t *testing.T) {
	engine, store, codec := setupEngine(t, &stubRenderer{})
	ctx := context.Background()
	order := paidOrder()

	minted, err := engine.IssueForOrder(ctx, order, twoTicketItem())
	require.NoError(t, err)
	require.Len(t, minted, 2)
	assert.NotEqual(t, minted[0].TicketNumber, minted[1].TicketNumber)

	for _, tk := range minted {
		assert.Contains(t, tk.TicketNumber, "JAZZNIGHT-")
		assert.Equal(t, order.PaidAt, tk.PurchasedAt)
		assert.Equal(t, models.TicketValid, tk.Status)
		assert.NotEmpty(t, tk.QRPNG)
		assert.Equal(t, "tickets/"+tk.TicketNumber+".pdf", tk.PDFRef)

		// Every minted hash must be recomputable from the stored fields.
		assert.True(t, codec.VerifyHash(tk.ValidationHash, tk.TicketNumber, tk.EventID, tk.BuyerEmail, tk.PurchasedAt))

		payload, err := qrcodec.Decode(tk.QRData)
		require.NoError(t, err)
		assert.Equal(t, tk.TicketNumber, payload.TicketNumber)
		assert.Equal(t, tk.ValidationHash, payload.ValidationHash)

		stored, err := store.GetTicket(ctx, tk.TicketNumber, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, tk.ValidationHash, stored.ValidationHash)
	}
}

func TestIssueForOrderSkipsWhenTicketsExist(t *testing.T) {
	engine, _, _ := setupEngine(t, &stubRenderer{})
	ctx := context.Background()
	order := paidOrder()

	first, err := engine.IssueForOrder(ctx, order, twoTicketItem())
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := engine.IssueForOrder(ctx, order, twoTicketItem())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestIssueForOrderSkipsListingFees(t *testing.T) {
	renderer := &stubRenderer{}
	engine, _, _ := setupEngine(t, renderer)
	order := paidOrder()
	order.OrderType = models.OrderTypeListingFee

	minted, err := engine.IssueForOrder(context.Background(), order, twoTicketItem())
	require.NoError(t, err)
	assert.Empty(t, minted)
	assert.Zero(t, renderer.calls)
}

func TestIssueForOrderSurvivesPDFFailure(t *testing.T) {
	engine, store, _ := setupEngine(t, &stubRenderer{fail: true})
	ctx := context.Background()

	minted, err := engine.IssueForOrder(ctx, paidOrder(), twoTicketItem())
	require.NoError(t, err)
	require.Len(t, minted, 2)

	// Records are committed even though no document was produced.
	for _, tk := range minted {
		assert.Empty(t, tk.PDFRef)
		stored, err := store.GetTicket(ctx, tk.TicketNumber, "evt-1")
		require.NoError(t, err)
		assert.Empty(t, stored.PDFRef)
		assert.Equal(t, models.TicketValid, stored.Status)
	}
}

func TestIssueForOrderUnknownEvent(t *testing.T) {
	engine, _, _ := setupEngine(t, &stubRenderer{})
	items := twoTicketItem()
	items[0].EventID = "evt-missing"

	_, err := engine.IssueForOrder(context.Background(), paidOrder(), items)
	assert.Error(t, err)
}
