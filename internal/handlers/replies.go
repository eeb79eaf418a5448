package handlers

import (
	"net/http"
	"strings"

	"fanpay/internal/models"
	"fanpay/internal/services"
	"fanpay/internal/validator"

	"github.com/shopspring/decimal"
)

type createReplyRequest struct {
	CreatorID   string `json:"creator_id"`
	ProductID   string `json:"product_id"`
	SLAID       string `json:"sla_id"`
	Message     string `json:"message"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (h *Handler) CreateReplyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for _, id := range []string{req.CreatorID, req.ProductID, req.SLAID} {
		if err := validator.ValidateID(id); err != nil {
			respondError(w, http.StatusBadRequest, "creator_id, product_id and sla_id are required")
			return
		}
	}
	request, err := h.replies.CreateRequest(r.Context(), services.CreateReplyRequest{
		RequesterID: userID,
		CreatorID:   req.CreatorID,
		ProductID:   req.ProductID,
		SLAID:       req.SLAID,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, request)
}

func (h *Handler) ListMyReplyRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	status := models.ReplyStatus(strings.ToUpper(r.URL.Query().Get("status")))
	result, err := h.replies.ListMyRequests(r.Context(), userID, status, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) GetReplyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.replies.GetRequest(r.Context(), requestID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *Handler) ReplyQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, limit := pageParams(r)
	queue, err := h.replies.CreatorQueue(r.Context(), userID, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, queue)
}

func (h *Handler) StartReplyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	request, err := h.replies.StartRequest(r.Context(), requestID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

type deliverReplyRequest struct {
	TextContent *string  `json:"text_content"`
	VoiceURL    *string  `json:"voice_url"`
	PhotoURLs   []string `json:"photo_urls"`
	VideoURL    *string  `json:"video_url"`
	Duration    *int     `json:"duration"`
	CreatorNote *string  `json:"creator_note"`
}

func (r deliverReplyRequest) validateMedia() error {
	for _, raw := range []*string{r.VoiceURL, r.VideoURL} {
		if raw == nil {
			continue
		}
		if err := validator.ValidateMediaURL(*raw); err != nil {
			return err
		}
	}
	return validator.ValidatePhotoURLs(r.PhotoURLs)
}

func (h *Handler) DeliverReply(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req deliverReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validateMedia(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	delivery, err := h.replies.DeliverReply(r.Context(), services.DeliverReplyRequest{
		RequestID:   requestID,
		CreatorID:   userID,
		TextContent: req.TextContent,
		VoiceURL:    req.VoiceURL,
		PhotoURLs:   req.PhotoURLs,
		VideoURL:    req.VideoURL,
		Duration:    req.Duration,
		CreatorNote: req.CreatorNote,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, delivery)
}

type rejectReplyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectReplyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req rejectReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	refund, err := h.replies.RejectRequest(r.Context(), requestID, userID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, refund)
}

type feedbackRequest struct {
	Rating          int     `json:"rating"`
	Feedback        *string `json:"feedback"`
	IsPublicAllowed bool    `json:"is_public_allowed"`
}

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	delivery, err := h.replies.SubmitFeedback(r.Context(), services.FeedbackRequest{
		RequestID:       requestID,
		RequesterID:     userID,
		Rating:          req.Rating,
		Feedback:        req.Feedback,
		IsPublicAllowed: req.IsPublicAllowed,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, delivery)
}

type createProductRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	ContentType string  `json:"content_type"`
	BasePrice   amount  `json:"base_price"`
}

func (h *Handler) CreateReplyProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, err := req.BasePrice.decimal()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	product, err := h.replies.CreateProduct(r.Context(), services.CreateProductRequest{
		CreatorID:   userID,
		Name:        req.Name,
		Description: req.Description,
		ContentType: models.ContentType(strings.ToUpper(req.ContentType)),
		BasePrice:   price,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

type addSLARequest struct {
	Name            string `json:"name"`
	DeadlineHours   int    `json:"deadline_hours"`
	PriceMultiplier amount `json:"price_multiplier"`
}

func (h *Handler) AddReplySLA(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addSLARequest
	if !decodeJSON(w, r, &req) {
		return
	}
	multiplier, err := decimal.NewFromString(strings.TrimSpace(string(req.PriceMultiplier)))
	if err != nil {
		writeServiceError(w, r, services.ErrInvalidMultiplier)
		return
	}
	sla, err := h.replies.AddSLA(r.Context(), services.AddSLARequest{
		CreatorID:       userID,
		ProductID:       productID,
		Name:            req.Name,
		DeadlineHours:   req.DeadlineHours,
		PriceMultiplier: multiplier,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sla)
}

type slotPolicyRequest struct {
	DailyLimit int `json:"daily_limit"`
}

func (h *Handler) SetSlotPolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req slotPolicyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.replies.SetSlotPolicy(r.Context(), userID, req.DailyLimit); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"daily_limit": req.DailyLimit})
}

func (h *Handler) CreatorReplyProducts(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	catalog, err := h.replies.CreatorProducts(r.Context(), creatorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, catalog)
}
