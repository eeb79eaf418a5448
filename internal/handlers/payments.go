package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"fanpay/internal/models"
)

type createPaymentRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	Amount            amount `json:"amount"`
}

// CreatePayment registers a charge the client has started with the payment
// provider. The wallet is credited when the provider's webhook completes it.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	value, err := req.Amount.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	payment, err := h.payments.CreatePending(r.Context(), userID, req.ProviderPaymentID, value)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, payment)
}

func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	result, err := h.payments.History(r.Context(), userID, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

const webhookSecretHeader = "X-Webhook-Secret"

type paymentWebhookRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
}

// PaymentWebhook settles a payment. Providers redeliver, so completing an
// already completed payment answers 200 without a second deposit.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(webhookSecretHeader)
	if h.cfg.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.WebhookSecret)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	var req paymentWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch models.PaymentStatus(strings.ToUpper(req.Status)) {
	case models.PaymentCompleted:
		completion, err := h.payments.Complete(r.Context(), req.ProviderPaymentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, completion)
	case models.PaymentFailed:
		payment, err := h.payments.Fail(r.Context(), req.ProviderPaymentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"payment": payment})
	default:
		respondError(w, http.StatusBadRequest, "status must be COMPLETED or FAILED")
	}
}
