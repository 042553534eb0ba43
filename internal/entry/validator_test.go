package entry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"jersey-events/internal/logger"
	"jersey-events/internal/models"
	"jersey-events/internal/qrcodec"
	ticketdb "jersey-events/internal/tickets/db"
)

var dbCounter int64

// scanTime is "now" for every test; the seeded event starts the same day.
var scanTime = time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC)

type fixture struct {
	validator *Validator
	store     *ticketdb.DB
	codec     *qrcodec.Codec
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:entry_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbCounter, 1))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	t.Cleanup(func() { bunDB.Close() })

	store := &ticketdb.DB{Bun: bunDB}
	codec := qrcodec.New("entry-test-secret")
	validator := NewValidator(store, codec, logger.NewNopLogger())
	validator.now = func() time.Time { return scanTime }

	return &fixture{validator: validator, store: store, codec: codec}
}

func (f *fixture) seedEvent(t *testing.T, startsAt time.Time) {
	t.Helper()
	_, err := f.store.Bun.NewInsert().Model(&models.Event{
		ID:             "evt-1",
		Name:           "Jazz Night",
		Slug:           "jazz-night",
		Venue:          "Fort Regent",
		StartsAt:       startsAt,
		OrganizerName:  "Jo Organizer",
		OrganizerEmail: "jo@example.com",
	}).Exec(context.Background())
	require.NoError(t, err)
}

// seedTicket issues a ticket with an internally consistent hash and returns
// the wire string a genuine QR scan would produce.
func (f *fixture) seedTicket(t *testing.T, number string, mutate func(*models.Ticket)) string {
	t.Helper()
	purchasedAt := scanTime.Add(-72 * time.Hour)
	hash := f.codec.DeriveValidationHash(number, "evt-1", "sam@example.com", purchasedAt)
	wire := f.codec.Encode(number, "evt-1", "sam@example.com", purchasedAt)

	ticket := models.Ticket{
		TicketNumber:   number,
		OrderNumber:    "JE-1-000001",
		EventID:        "evt-1",
		BuyerName:      "Sam Buyer",
		BuyerEmail:     "sam@example.com",
		PurchasedAt:    purchasedAt,
		ValidationHash: hash,
		QRData:         wire,
		Status:         models.TicketValid,
		IssuedAt:       purchasedAt,
	}
	if mutate != nil {
		mutate(&ticket)
	}
	require.NoError(t, f.store.CreateTicket(context.Background(), ticket))
	return wire
}

func TestValidateHappyPath(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	res := f.validator.Validate(context.Background(), wire, "door-1")
	assert.True(t, res.OK)
	assert.Equal(t, ReasonValidated, res.Reason)
	require.NotNil(t, res.Ticket)
	assert.True(t, res.Ticket.IsValidated)
	assert.Equal(t, "door-1", res.Ticket.ValidatedBy)

	got, err := f.store.GetTicket(context.Background(), "JAZZNIGHT-AAAA1111", "evt-1")
	require.NoError(t, err)
	assert.True(t, got.IsValidated)
	assert.Equal(t, models.TicketUsed, got.Status)
}

func TestValidateRejectsMalformedWire(t *testing.T) {
	f := setup(t)

	res := f.validator.Validate(context.Background(), "not a ticket code", "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInvalidFormat, res.Reason)
	assert.Nil(t, res.Ticket)
}

func TestValidateUnknownTicket(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	wire := f.codec.Encode("JAZZNIGHT-ZZZZ9999", "evt-1", "sam@example.com", scanTime.Add(-72*time.Hour))

	res := f.validator.Validate(context.Background(), wire, "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonTicketNotFound, res.Reason)
}

func TestValidateTamperedEmailIsDataMismatch(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)
	tampered := strings.Replace(wire, "sam@example.com", "mallory@evil.com", 1)

	res := f.validator.Validate(context.Background(), tampered, "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonDataMismatch, res.Reason)

	// The genuine ticket stays unspent.
	got, err := f.store.GetTicket(context.Background(), "JAZZNIGHT-AAAA1111", "evt-1")
	require.NoError(t, err)
	assert.False(t, got.IsValidated)
}

func TestValidateForgedHashIsInvalidSignature(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	// Wire with correct fields but a hash minted under the wrong key.
	forger := qrcodec.New("attacker-guess")
	forged := forger.Encode("JAZZNIGHT-AAAA1111", "evt-1", "sam@example.com", scanTime.Add(-72*time.Hour))

	res := f.validator.Validate(context.Background(), forged, "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInvalidSignature, res.Reason)
}

func TestValidateAlreadyUsedShowsFirstEntry(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	first := f.validator.Validate(context.Background(), wire, "door-1")
	require.True(t, first.OK)

	second := f.validator.Validate(context.Background(), wire, "door-2")
	assert.False(t, second.OK)
	assert.Equal(t, ReasonAlreadyUsed, second.Reason)
	require.NotNil(t, second.Ticket)
	assert.Equal(t, "door-1", second.Ticket.ValidatedBy)
}

func TestValidateCancelledAndRefundedTickets(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)

	cancelled := f.seedTicket(t, "JAZZNIGHT-AAAA1111", func(tk *models.Ticket) { tk.Status = models.TicketCancelled })
	refunded := f.seedTicket(t, "JAZZNIGHT-BBBB2222", func(tk *models.Ticket) { tk.Status = models.TicketRefunded })

	res := f.validator.Validate(context.Background(), cancelled, "door-1")
	assert.Equal(t, ReasonStatusInvalid, res.Reason)
	assert.Contains(t, res.Message, "cancelled")

	res = f.validator.Validate(context.Background(), refunded, "door-1")
	assert.Equal(t, ReasonStatusInvalid, res.Reason)
	assert.Contains(t, res.Message, "refunded")
}

func TestValidatePastEventIsExpired(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime.Add(-48*time.Hour))
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	res := f.validator.Validate(context.Background(), wire, "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonEventExpired, res.Reason)
}

func TestValidateFutureEventIsNotYetEntryDay(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime.Add(48*time.Hour))
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	res := f.validator.Validate(context.Background(), wire, "door-1")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonNotYetEntryDay, res.Reason)

	got, err := f.store.GetTicket(context.Background(), "JAZZNIGHT-AAAA1111", "evt-1")
	require.NoError(t, err)
	assert.False(t, got.IsValidated)
}

func TestValidateEventDayBoundaryUsesCalendarDate(t *testing.T) {
	f := setup(t)
	// Doors scan at 19:00; the event starts a few minutes before midnight the
	// same day. Same calendar date admits.
	f.seedEvent(t, time.Date(2025, 6, 14, 23, 55, 0, 0, time.UTC))
	wire := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)

	res := f.validator.Validate(context.Background(), wire, "door-1")
	assert.True(t, res.OK)
}

func TestValidateBatchCountsAdmittedAndRejected(t *testing.T) {
	f := setup(t)
	f.seedEvent(t, scanTime)
	good := f.seedTicket(t, "JAZZNIGHT-AAAA1111", nil)
	alsoGood := f.seedTicket(t, "JAZZNIGHT-BBBB2222", nil)

	summary := f.validator.ValidateBatch(context.Background(), []string{good, alsoGood, "garbage", good}, "door-1")
	assert.Equal(t, 2, summary.Admitted)
	assert.Equal(t, 2, summary.Rejected)
	require.Len(t, summary.Results, 4)
	assert.Equal(t, ReasonValidated, summary.Results[0].Reason)
	assert.Equal(t, ReasonInvalidFormat, summary.Results[2].Reason)
	// The duplicate of the first code loses to its own earlier scan.
	assert.Equal(t, ReasonAlreadyUsed, summary.Results[3].Reason)
}
