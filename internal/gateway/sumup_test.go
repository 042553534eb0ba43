package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jersey-events/internal/gateway"
	"jersey-events/internal/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *gateway.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return gateway.NewClient(server.URL, "test-key", 2*time.Second, logger.NewNopLogger())
}

func checkoutResponse(status string, amount string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chk_abc","status":%q,"amount":%s,"currency":"GBP"}`, status, amount)
	}
}

func TestGetCheckoutStatusSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.1/checkouts/chk_abc", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		checkoutResponse("PAID", "45.00")(w, r)
	})

	status, err := client.GetCheckoutStatus(context.Background(), "chk_abc")
	require.NoError(t, err)
	assert.Equal(t, "PAID", status.Status)
	assert.True(t, status.Amount.Equal(decimal.NewFromFloat(45.00)))
	assert.Equal(t, "GBP", status.Currency)
	assert.NotEmpty(t, status.Raw)
}

func TestVerifyPaymentConfirmedAndMatching(t *testing.T) {
	client := newTestClient(t, checkoutResponse("PAID", "45.00"))

	confirmed, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.True(t, matches)
}

func TestVerifyPaymentSuccessfulStatusAlsoAccepted(t *testing.T) {
	client := newTestClient(t, checkoutResponse("SUCCESSFUL", "45.00"))

	confirmed, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.True(t, matches)
}

func TestVerifyPaymentUnknownStatusIsNotSuccess(t *testing.T) {
	// Allow-list semantics: a status we have never seen is non-success.
	client := newTestClient(t, checkoutResponse("SETTLEMENT_IMMINENT", "45.00"))

	confirmed, _, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestVerifyPaymentFailedStatus(t *testing.T) {
	client := newTestClient(t, checkoutResponse("FAILED", "45.00"))

	confirmed, _, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestVerifyPaymentAmountTamper(t *testing.T) {
	// Provider settled a penny against a 50.00 order: fraud signal.
	client := newTestClient(t, checkoutResponse("PAID", "0.01"))

	confirmed, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(50.00))
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.False(t, matches)
}

func TestVerifyPaymentToleratesOneMinorUnit(t *testing.T) {
	client := newTestClient(t, checkoutResponse("PAID", "45.01"))

	_, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	require.NoError(t, err)
	assert.True(t, matches)
}

func TestVerifyPaymentServerErrorIsUnverified(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	confirmed, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	assert.Error(t, err)
	assert.False(t, confirmed)
	assert.False(t, matches)
}

func TestVerifyPaymentMalformedBodyIsUnverified(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	})

	confirmed, _, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	assert.Error(t, err)
	assert.False(t, confirmed)
}

func TestVerifyPaymentMissingStatusFieldIsUnverified(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"chk_abc","amount":45.00,"currency":"GBP"}`)
	})

	confirmed, _, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	assert.Error(t, err)
	assert.False(t, confirmed)
}

func TestVerifyPaymentTimeoutIsUnverified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		checkoutResponse("PAID", "45.00")(w, r)
	}))
	t.Cleanup(server.Close)
	client := gateway.NewClient(server.URL, "test-key", 50*time.Millisecond, logger.NewNopLogger())

	confirmed, matches, err := client.VerifyPayment(context.Background(), "chk_abc", decimal.NewFromFloat(45.00))
	assert.Error(t, err)
	assert.False(t, confirmed)
	assert.False(t, matches)
}
