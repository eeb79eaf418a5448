package handlers

import (
	"net/http"
	"strings"
	"time"

	"fanpay/internal/models"
	"fanpay/internal/services"
)

type createCampaignRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	GoalAmount  amount     `json:"goal_amount"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	goal, err := req.GoalAmount.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	start := time.Now()
	if req.StartDate != nil {
		start = *req.StartDate
	}
	campaign, err := h.campaigns.Create(r.Context(), services.CreateCampaignRequest{
		CreatorID:   userID,
		Title:       req.Title,
		Description: req.Description,
		GoalAmount:  goal,
		StartDate:   start,
		EndDate:     req.EndDate,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns filters by ?status= and ?creator_id=.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, limit := pageParams(r)
	status := models.CampaignStatus(strings.ToUpper(query.Get("status")))
	result, err := h.campaigns.List(r.Context(), status, query.Get("creator_id"), page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	campaign, err := h.campaigns.Get(r.Context(), campaignID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

type contributeRequest struct {
	Amount      amount  `json:"amount"`
	Message     *string `json:"message"`
	IsAnonymous bool    `json:"is_anonymous"`
}

func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	campaignID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req contributeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	value, err := req.Amount.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	result, err := h.campaigns.Contribute(r.Context(), services.ContributeRequest{
		CampaignID:    campaignID,
		ContributorID: userID,
		Amount:        value,
		Message:       req.Message,
		IsAnonymous:   req.IsAnonymous,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type campaignStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	campaignID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req campaignStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := models.CampaignStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	campaign, err := h.campaigns.UpdateStatus(r.Context(), userID, campaignID, status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

func (h *Handler) MyContributions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	result, err := h.campaigns.MyContributions(r.Context(), userID, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
