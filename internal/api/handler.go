// Package api exposes the reconciliation and entry-validation endpoints.
// Reconciliation responses always render "processing" or "success" pages;
// hard errors are reserved for order-not-found.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"jersey-events/internal/entry"
	"jersey-events/internal/logger"
	"jersey-events/internal/reconcile"
	ticketdb "jersey-events/internal/tickets/db"
	"jersey-events/internal/utils"
)

type Handler struct {
	Pipeline      *reconcile.Pipeline
	Validator     *entry.Validator
	Tickets       *ticketdb.DB
	Logger        *logger.Logger
	WebhookSecret string
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/payment", func(r chi.Router) {
		r.Get("/return", h.PaymentReturn)
		r.Post("/webhook", h.PaymentWebhook)
		r.Get("/cancel", h.PaymentCancel)
	})
	r.Route("/entry", func(r chi.Router) {
		r.Post("/validate", h.ValidateTicket)
		r.Post("/validate/batch", h.ValidateTicketBatch)
	})
	r.Get("/tickets/{ticketNumber}/pdf", h.TicketPDF)
}

// PaymentReturn handles the buyer's redirect back from the provider. The URL
// parameters are attacker-controllable; they locate the order and trigger
// verification, nothing more.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := reconcile.ReturnParams{
		OrderNumber: q.Get("order"),
		CheckoutID:  firstNonEmpty(q.Get("checkout_id"), q.Get("id")),
		SessionRef:  sessionRef(r),
	}

	outcome := h.Pipeline.HandleReturn(r.Context(), params)
	h.writeOutcome(w, outcome)
}

func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	orderNumber := r.URL.Query().Get("order")
	if orderNumber == "" {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", "missing order reference"))
		return
	}
	outcome := h.Pipeline.HandleCancel(r.Context(), orderNumber)
	h.writeOutcome(w, outcome)
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Payment-Signature")
	if err := h.Pipeline.HandleWebhook(r.Context(), body, signature, h.WebhookSecret); err != nil {
		var webhookErr *reconcile.WebhookError
		if errors.As(err, &webhookErr) {
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type validateRequest struct {
	QRData      string   `json:"qr_data"`
	QRDataBatch []string `json:"qr_data_batch"`
	ValidatedBy string   `json:"validated_by"`
}

func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.QRData == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "qr_data is required"))
		return
	}

	result := h.Validator.Validate(r.Context(), req.QRData, req.ValidatedBy)
	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, utils.SuccessResponse(result.Message, result))
}

func (h *Handler) ValidateTicketBatch(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if len(req.QRDataBatch) == 0 {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "qr_data_batch is required"))
		return
	}

	summary := h.Validator.ValidateBatch(r.Context(), req.QRDataBatch, req.ValidatedBy)
	writeJSON(w, http.StatusOK, utils.SuccessResponse(
		fmt.Sprintf("%d admitted, %d rejected", summary.Admitted, summary.Rejected), summary))
}

// TicketPDF streams the rendered ticket document.
func (h *Handler) TicketPDF(w http.ResponseWriter, r *http.Request) {
	ticketNumber := chi.URLParam(r, "ticketNumber")
	ticket, err := h.Tickets.GetTicketByNumber(r.Context(), ticketNumber)
	if err != nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", "not found, contact support"))
		return
	}
	if ticket.PDFRef == "" {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Document not ready", "the ticket document has not been generated yet"))
		return
	}
	pdf, err := os.ReadFile(ticket.PDFRef)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("could not read PDF for ticket %s: %v", ticketNumber, err))
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Document not ready", "the ticket document is unavailable"))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", ticketNumber))
	w.Write(pdf)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, outcome reconcile.Outcome) {
	switch outcome.Kind {
	case reconcile.OutcomeNotFound:
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", outcome.Message))
	default:
		// Success, processing and cancelled all render a normal page.
		writeJSON(w, http.StatusOK, utils.SuccessResponse(outcome.Message, outcome))
	}
}

func sessionRef(r *http.Request) string {
	if c, err := r.Cookie("je_session"); err == nil {
		return c.Value
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
