package handlers

import (
	"net/http"

	"fanpay/internal/services"
	"fanpay/internal/validator"
)

type sendSupportRequest struct {
	ReceiverID  string  `json:"receiver_id"`
	Amount      amount  `json:"amount"`
	Message     *string `json:"message"`
	IsAnonymous bool    `json:"is_anonymous"`
}

func (h *Handler) SendSupport(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req sendSupportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validator.ValidateID(req.ReceiverID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid receiver_id")
		return
	}
	value, err := req.Amount.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	support, err := h.supports.Send(r.Context(), services.SendSupportRequest{
		SupporterID: userID,
		ReceiverID:  req.ReceiverID,
		Amount:      value,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, support)
}

// SupportHistory lists sent supports, or received ones with ?type=received.
func (h *Handler) SupportHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	direction := services.SupportSent
	switch r.URL.Query().Get("type") {
	case "", string(services.SupportSent):
	case string(services.SupportReceived):
		direction = services.SupportReceived
	default:
		respondError(w, http.StatusBadRequest, "type must be sent or received")
		return
	}
	page, limit := pageParams(r)
	result, err := h.supports.History(r.Context(), userID, direction, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) TopSupporters(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.supports.TopSupporters(r.Context(), creatorID, parseInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
