package handlers

import (
	"net/http"

	"fanpay/internal/services"
	"fanpay/internal/validator"
)

type createTierRequest struct {
	Name           string   `json:"name"`
	Description    *string  `json:"description"`
	Price          amount   `json:"price"`
	Benefits       []string `json:"benefits"`
	MaxSubscribers *int     `json:"max_subscribers"`
}

func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createTierRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, err := req.Price.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	tier, err := h.subscriptions.CreateTier(r.Context(), services.CreateTierRequest{
		CreatorID:      userID,
		Name:           req.Name,
		Description:    req.Description,
		Price:          price,
		Benefits:       req.Benefits,
		MaxSubscribers: req.MaxSubscribers,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tier)
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tiers, err := h.subscriptions.Tiers(r.Context(), creatorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tiers)
}

type subscribeRequest struct {
	CreatorID string `json:"creator_id"`
	TierID    string `json:"tier_id"`
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validator.ValidateID(req.CreatorID) != nil || validator.ValidateID(req.TierID) != nil {
		respondError(w, http.StatusBadRequest, "creator_id and tier_id are required")
		return
	}
	subscription, err := h.subscriptions.Subscribe(r.Context(), services.SubscribeRequest{
		SubscriberID: userID,
		CreatorID:    req.CreatorID,
		TierID:       req.TierID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, subscription)
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	subscriptionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	subscription, err := h.subscriptions.Cancel(r.Context(), userID, subscriptionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subscription)
}

func (h *Handler) MySubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	rows, err := h.subscriptions.MySubscriptions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) MySubscribers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	result, err := h.subscriptions.MySubscribers(r.Context(), userID, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	creatorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	check, err := h.subscriptions.Check(r.Context(), userID, creatorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}
