package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fanpay/internal/db"
	"fanpay/internal/logger"
	"fanpay/internal/models"
	"fanpay/internal/money"
	"fanpay/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	DefaultDailySlotLimit = 10
	maxRequestMessage     = 1000
	sweepBatchSize        = 500
	anonymousRequesterID  = "anonymous"
)

var (
	minPriceMultiplier = decimal.NewFromInt(1)
	maxPriceMultiplier = decimal.NewFromInt(10)
)

// Sweep item outcomes.
const (
	SweepRefunded = "refunded"
	SweepSkipped  = "skipped"
	SweepError    = "error"
)

type ReplyStore interface {
	CreateRequest(ctx context.Context, tx store.Execer, r store.ReplyRequest) error
	GetRequest(ctx context.Context, requestID string) (store.ReplyRequest, error)
	GetRequestForUpdate(ctx context.Context, tx store.Getter, requestID string) (store.ReplyRequest, error)
	CountUsedSlots(ctx context.Context, q store.Getter, creatorID string, since time.Time) (int, error)
	CountActive(ctx context.Context, q store.Getter, creatorID string) (int, error)
	CountDelivered(ctx context.Context, creatorID string, since *time.Time) (int, error)
	Transition(ctx context.Context, tx store.Execer, requestID string, to models.ReplyStatus, at time.Time) (int64, error)
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListByRequester(ctx context.Context, requesterID string, status models.ReplyStatus, limit, offset int) ([]store.ReplyRequest, int, error)
	ListQueue(ctx context.Context, creatorID string, limit, offset int) ([]store.ReplyRequest, error)
	CreateDelivery(ctx context.Context, tx store.Execer, d store.ReplyDelivery) error
	GetDelivery(ctx context.Context, requestID string) (store.ReplyDelivery, error)
	SaveFeedback(ctx context.Context, tx store.Execer, requestID string, input store.FeedbackInput) (int64, error)
	CreateRefund(ctx context.Context, tx store.Execer, r store.ReplyRefund) error
	GetRefund(ctx context.Context, requestID string) (store.ReplyRefund, error)
}

type ProductStore interface {
	CreateProduct(ctx context.Context, tx store.Execer, p store.ReplyProduct) error
	GetProduct(ctx context.Context, productID string) (store.ReplyProduct, error)
	ListActiveByCreator(ctx context.Context, creatorID string) ([]store.ReplyProduct, error)
	CreateSLA(ctx context.Context, tx store.Execer, sla store.ReplySLA) error
	GetSLA(ctx context.Context, slaID string) (store.ReplySLA, error)
	ListActiveSLAs(ctx context.Context, productIDs []string) ([]store.ReplySLA, error)
	GetSlotPolicy(ctx context.Context, creatorID string) (store.SlotPolicy, error)
	UpsertSlotPolicy(ctx context.Context, tx store.Execer, creatorID string, dailyLimit int) error
}

type IdentityStore interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Profile(ctx context.Context, userID string) (store.UserProfile, error)
}

type ReplyOptions struct {
	DefaultDailySlotLimit int
	// Location decides where a business day starts for slot counting.
	Location *time.Location
}

// ReplyService runs the paid reply-request lifecycle. The price is held in
// escrow from creation until the creator delivers (release to the creator) or
// the request is rejected or expires (refund to the requester).
type ReplyService struct {
	txRunner  db.TxRunner
	wallet    *WalletService
	replies   ReplyStore
	products  ProductStore
	identity  IdentityStore
	audit     AuditStore
	notifier  Notifier
	recorder  Recorder
	slotLimit int
	location  *time.Location
	now       func() time.Time
}

func NewReplyService(txRunner db.TxRunner, wallet *WalletService, replies ReplyStore, products ProductStore, identity IdentityStore, audit AuditStore, notifier Notifier, recorder Recorder, opts ReplyOptions) *ReplyService {
	if opts.DefaultDailySlotLimit <= 0 {
		opts.DefaultDailySlotLimit = DefaultDailySlotLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ReplyService{
		txRunner:  txRunner,
		wallet:    wallet,
		replies:   replies,
		products:  products,
		identity:  identity,
		audit:     audit,
		notifier:  notifier,
		recorder:  recorder,
		slotLimit: opts.DefaultDailySlotLimit,
		location:  opts.Location,
		now:       time.Now,
	}
}

type CreateReplyRequest struct {
	RequesterID string
	CreatorID   string
	ProductID   string
	SLAID       string
	Message     string
	IsAnonymous bool
}

func (s *ReplyService) CreateRequest(ctx context.Context, req CreateReplyRequest) (store.ReplyRequest, error) {
	if req.RequesterID == req.CreatorID {
		return store.ReplyRequest{}, ErrSelfRequest
	}
	message := strings.TrimSpace(req.Message)
	if n := utf8.RuneCountInString(message); n == 0 || n > maxRequestMessage {
		return store.ReplyRequest{}, ErrInvalidMessage
	}
	if _, err := s.creatorProfile(ctx, req.CreatorID); err != nil {
		return store.ReplyRequest{}, err
	}
	product, sla, err := s.productAndSLA(ctx, req.CreatorID, req.ProductID, req.SLAID)
	if err != nil {
		return store.ReplyRequest{}, err
	}
	dailyLimit, err := s.dailySlotLimit(ctx, req.CreatorID)
	if err != nil {
		return store.ReplyRequest{}, err
	}
	total, slaPrice := replyPrice(product.BasePrice, sla.PriceMultiplier)

	now := s.now()
	requestID := uuid.NewString()
	var request store.ReplyRequest
	var escrow Posting
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		used, err := s.replies.CountUsedSlots(ctx, tx, req.CreatorID, s.startOfDay(now))
		if err != nil {
			return err
		}
		if used >= dailyLimit {
			return ErrSlotLimitExceeded
		}
		active, err := s.replies.CountActive(ctx, tx, req.CreatorID)
		if err != nil {
			return err
		}
		escrow, err = s.wallet.DebitTx(ctx, tx, Movement{
			UserID:        req.RequesterID,
			Amount:        total,
			Type:          models.TxReplyRequestEscrow,
			ReferenceID:   stringPtr(requestID),
			ReferenceType: stringPtr(models.RefReplyRequest),
			Description:   stringPtr(fmt.Sprintf("Reply request escrow: %s", product.Name)),
		})
		if err != nil {
			return err
		}
		request = store.ReplyRequest{
			ID:            requestID,
			RequesterID:   req.RequesterID,
			CreatorID:     req.CreatorID,
			ProductID:     product.ID,
			SLAID:         sla.ID,
			Message:       message,
			IsAnonymous:   req.IsAnonymous,
			BasePrice:     product.BasePrice,
			SLAPrice:      slaPrice,
			TotalPrice:    total,
			EscrowAmount:  total,
			Status:        models.ReplyQueued,
			QueuePosition: active + 1,
			PaidAt:        now,
			QueuedAt:      now,
			DeadlineAt:    now.Add(time.Duration(sla.DeadlineHours) * time.Hour),
			CreatedAt:     now,
		}
		if err := s.replies.CreateRequest(ctx, tx, request); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.RequesterID, "reply_request.create", "reply_request", requestID, map[string]any{
			"total_price": money.Format(total),
			"deadline_at": request.DeadlineAt,
		})
	})
	if err != nil {
		return store.ReplyRequest{}, unitError(err)
	}
	s.wallet.Announce(ctx, escrow)
	s.recorder.RecordEscrowTransition(string(models.ReplyQueued))

	requesterName := "Anonymous fan"
	if !req.IsAnonymous {
		requesterName = s.nickname(ctx, req.RequesterID)
	}
	s.notify(ctx, Notification{
		UserID:  req.CreatorID,
		Type:    models.NotifyReplyRequestReceived,
		Title:   "New Reply Request!",
		Message: fmt.Sprintf("%s requested a %s!", requesterName, product.Name),
		Data:    map[string]any{"request_id": requestID, "product_name": product.Name},
	})
	return request, nil
}

// StartRequest marks a queued request as being worked on.
func (s *ReplyService) StartRequest(ctx context.Context, requestID, creatorID string) (store.ReplyRequest, error) {
	var request store.ReplyRequest
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if locked.CreatorID != creatorID {
			return ErrNotRequestCreator
		}
		if locked.Status != models.ReplyQueued {
			return ErrInvalidTransition
		}
		now := s.now()
		if _, err := s.transition(ctx, tx, requestID, models.ReplyInProgress, now); err != nil {
			return err
		}
		locked.Status = models.ReplyInProgress
		locked.StartedAt = &now
		request = locked
		return s.audit.Log(ctx, tx, creatorID, "reply_request.start", "reply_request", requestID, nil)
	})
	if err != nil {
		return store.ReplyRequest{}, unitError(err)
	}
	s.recorder.RecordEscrowTransition(string(models.ReplyInProgress))
	return request, nil
}

type DeliverReplyRequest struct {
	RequestID   string
	CreatorID   string
	TextContent *string
	VoiceURL    *string
	PhotoURLs   []string
	VideoURL    *string
	Duration    *int
	CreatorNote *string
}

// DeliverReply stores the creator's reply and releases the escrow to them.
func (s *ReplyService) DeliverReply(ctx context.Context, req DeliverReplyRequest) (store.ReplyDelivery, error) {
	current, err := s.getRequest(ctx, req.RequestID)
	if err != nil {
		return store.ReplyDelivery{}, err
	}
	if current.CreatorID != req.CreatorID {
		return store.ReplyDelivery{}, ErrNotRequestCreator
	}
	if !current.Status.Active() {
		return store.ReplyDelivery{}, ErrInvalidTransition
	}
	product, err := s.products.GetProduct(ctx, current.ProductID)
	if err != nil {
		return store.ReplyDelivery{}, notFoundOr(err, ErrProductNotFound)
	}
	if err := requireContent(product.ContentType, req); err != nil {
		return store.ReplyDelivery{}, err
	}

	var delivery store.ReplyDelivery
	var release Posting
	var request store.ReplyRequest
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockRequest(ctx, tx, req.RequestID)
		if err != nil {
			return err
		}
		if locked.CreatorID != req.CreatorID {
			return ErrNotRequestCreator
		}
		if !locked.Status.Active() {
			return ErrInvalidTransition
		}
		now := s.now()
		delivery = store.ReplyDelivery{
			ID:             uuid.NewString(),
			ReplyRequestID: locked.ID,
			TextContent:    req.TextContent,
			VoiceURL:       req.VoiceURL,
			PhotoURLs:      pq.StringArray(req.PhotoURLs),
			VideoURL:       req.VideoURL,
			Duration:       req.Duration,
			CreatorNote:    req.CreatorNote,
			CreatedAt:      now,
		}
		if err := s.replies.CreateDelivery(ctx, tx, delivery); err != nil {
			return err
		}
		if _, err := s.transition(ctx, tx, locked.ID, models.ReplyDelivered, now); err != nil {
			return err
		}
		release, err = s.wallet.CreditTx(ctx, tx, Movement{
			UserID:        locked.CreatorID,
			Amount:        locked.EscrowAmount,
			Type:          models.TxReplyRequestRelease,
			ReferenceID:   stringPtr(locked.ID),
			ReferenceType: stringPtr(models.RefReplyRequest),
			Description:   stringPtr(fmt.Sprintf("Reply delivered: %s", product.Name)),
			Settlement:    true,
		})
		if err != nil {
			return err
		}
		request = locked
		return s.audit.Log(ctx, tx, req.CreatorID, "reply_request.deliver", "reply_request", locked.ID, map[string]any{
			"released": money.Format(locked.EscrowAmount),
		})
	})
	if err != nil {
		return store.ReplyDelivery{}, unitError(err)
	}
	s.wallet.Announce(ctx, release)
	s.recorder.RecordEscrowTransition(string(models.ReplyDelivered))
	s.notify(ctx, Notification{
		UserID:  request.RequesterID,
		Type:    models.NotifyReplyRequestDelivered,
		Title:   "Your reply is ready!",
		Message: fmt.Sprintf("Your %s request has been delivered!", product.Name),
		Data:    map[string]any{"request_id": request.ID},
	})
	return delivery, nil
}

// RejectRequest lets the creator decline a request. The requester gets the
// full escrow back.
func (s *ReplyService) RejectRequest(ctx context.Context, requestID, creatorID, reason string) (store.ReplyRefund, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.ReplyRefund{}, ErrMissingReason
	}
	var refund store.ReplyRefund
	var posting Posting
	var request store.ReplyRequest
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if locked.CreatorID != creatorID {
			return ErrNotRequestCreator
		}
		if !locked.Status.Active() {
			return ErrInvalidTransition
		}
		refund, posting, err = s.refund(ctx, tx, locked, models.ReplyRejected, models.RefundCreatorRejected, creatorID, reason)
		if err != nil {
			return err
		}
		request = locked
		return s.audit.Log(ctx, tx, creatorID, "reply_request.reject", "reply_request", requestID, map[string]any{
			"reason":   reason,
			"refunded": money.Format(refund.Amount),
		})
	})
	if err != nil {
		return store.ReplyRefund{}, unitError(err)
	}
	s.wallet.Announce(ctx, posting)
	s.recorder.RecordEscrowTransition(string(models.ReplyRejected))
	s.notify(ctx, Notification{
		UserID:  request.RequesterID,
		Type:    models.NotifyReplyRequestRefunded,
		Title:   "Request Rejected",
		Message: "Your reply request was rejected. Full refund has been processed.",
		Data:    map[string]any{"request_id": requestID, "reason": reason},
	})
	return refund, nil
}

type SweepItem struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SweepResult struct {
	Processed int         `json:"processed"`
	Results   []SweepItem `json:"results"`
}

// ProcessExpiredRequests refunds every active request whose deadline has
// passed. Each request is settled in its own unit of work, so one failure
// does not hold back the rest. Running it twice refunds nothing twice.
func (s *ReplyService) ProcessExpiredRequests(ctx context.Context) (SweepResult, error) {
	now := s.now()
	ids, err := s.replies.ListExpiredIDs(ctx, now, sweepBatchSize)
	if err != nil {
		return SweepResult{}, unitError(err)
	}
	result := SweepResult{Results: make([]SweepItem, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := s.expireOne(ctx, id, now)
		s.recorder.RecordSweepItem(item.Status)
		result.Results = append(result.Results, item)
		result.Processed++
	}
	return result, nil
}

func (s *ReplyService) expireOne(ctx context.Context, requestID string, now time.Time) SweepItem {
	var refund store.ReplyRefund
	var posting Posting
	var request store.ReplyRequest
	var skipped bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		skipped = false
		locked, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !locked.Status.Active() || !locked.DeadlineAt.Before(now) {
			skipped = true
			return nil
		}
		refund, posting, err = s.refund(ctx, tx, locked, models.ReplyExpired, models.RefundSLAExpired, models.ProcessedBySystem, "SLA deadline passed")
		if err != nil {
			return err
		}
		request = locked
		return s.audit.Log(ctx, tx, "", "reply_request.expire", "reply_request", requestID, map[string]any{
			"refunded": money.Format(refund.Amount),
		})
	})
	if err != nil {
		logger.Log.Errorw("reply request expiry failed", "request_id", requestID, "error", err)
		return SweepItem{ID: requestID, Status: SweepError, Error: unitError(err).Error()}
	}
	if skipped {
		return SweepItem{ID: requestID, Status: SweepSkipped}
	}
	s.wallet.Announce(ctx, posting)
	s.recorder.RecordEscrowTransition(string(models.ReplyExpired))
	s.notify(ctx, Notification{
		UserID:  request.RequesterID,
		Type:    models.NotifyReplyRequestExpired,
		Title:   "Request Expired",
		Message: "Your reply request has expired. Full refund has been processed.",
		Data:    map[string]any{"request_id": requestID},
	})
	return SweepItem{ID: requestID, Status: SweepRefunded}
}

type FeedbackRequest struct {
	RequestID       string
	RequesterID     string
	Rating          int
	Feedback        *string
	IsPublicAllowed bool
}

func (s *ReplyService) SubmitFeedback(ctx context.Context, req FeedbackRequest) (store.ReplyDelivery, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return store.ReplyDelivery{}, ErrInvalidRating
	}
	request, err := s.getRequest(ctx, req.RequestID)
	if err != nil {
		return store.ReplyDelivery{}, err
	}
	if request.RequesterID != req.RequesterID {
		return store.ReplyDelivery{}, ErrNotRequestRequester
	}
	if request.Status != models.ReplyDelivered {
		return store.ReplyDelivery{}, ErrInvalidTransition
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.replies.SaveFeedback(ctx, tx, req.RequestID, store.FeedbackInput{
			Rating:          req.Rating,
			Feedback:        req.Feedback,
			IsPublicAllowed: req.IsPublicAllowed,
			At:              s.now(),
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrFeedbackExists
		}
		return nil
	})
	if err != nil {
		return store.ReplyDelivery{}, unitError(err)
	}
	delivery, err := s.replies.GetDelivery(ctx, req.RequestID)
	if err != nil {
		return store.ReplyDelivery{}, unitError(err)
	}
	return delivery, nil
}

// ReplyRequestDetail is a request with whatever terminal record it has.
type ReplyRequestDetail struct {
	store.ReplyRequest
	Delivery *store.ReplyDelivery `json:"delivery,omitempty"`
	Refund   *store.ReplyRefund   `json:"refund,omitempty"`
}

// GetRequest is visible to the requester and the creator only. The creator
// does not see who sent an anonymous request.
func (s *ReplyService) GetRequest(ctx context.Context, requestID, viewerID string) (ReplyRequestDetail, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return ReplyRequestDetail{}, err
	}
	if request.RequesterID != viewerID && request.CreatorID != viewerID {
		return ReplyRequestDetail{}, ErrNotRequestParty
	}
	detail := ReplyRequestDetail{ReplyRequest: request}
	switch request.Status {
	case models.ReplyDelivered:
		delivery, err := s.replies.GetDelivery(ctx, requestID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ReplyRequestDetail{}, unitError(err)
		}
		if err == nil {
			detail.Delivery = &delivery
		}
	case models.ReplyRejected, models.ReplyExpired:
		refund, err := s.replies.GetRefund(ctx, requestID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ReplyRequestDetail{}, unitError(err)
		}
		if err == nil {
			detail.Refund = &refund
		}
	}
	if viewerID == request.CreatorID && viewerID != request.RequesterID {
		detail.ReplyRequest = maskRequester(detail.ReplyRequest)
	}
	return detail, nil
}

func (s *ReplyService) ListMyRequests(ctx context.Context, requesterID string, status models.ReplyStatus, page, limit int) (Page[store.ReplyRequest], error) {
	if status != "" && !status.Valid() {
		return Page[store.ReplyRequest]{}, ErrInvalidStatusFilter
	}
	page, limit, offset := pageWindow(page, limit)
	rows, total, err := s.replies.ListByRequester(ctx, requesterID, status, limit, offset)
	if err != nil {
		return Page[store.ReplyRequest]{}, unitError(err)
	}
	return newPage(rows, total, page, limit), nil
}

type QueueStats struct {
	QueueCount     int `json:"queue_count"`
	TodayDelivered int `json:"today_delivered"`
	TotalDelivered int `json:"total_delivered"`
	DailySlotLimit int `json:"daily_slot_limit"`
	RemainingSlots int `json:"remaining_slots"`
}

type CreatorQueue struct {
	Page[store.ReplyRequest]
	Stats QueueStats `json:"stats"`
}

// CreatorQueue lists the creator's open requests, nearest deadline first.
func (s *ReplyService) CreatorQueue(ctx context.Context, creatorID string, page, limit int) (CreatorQueue, error) {
	page, limit, offset := pageWindow(page, limit)
	rows, err := s.replies.ListQueue(ctx, creatorID, limit, offset)
	if err != nil {
		return CreatorQueue{}, unitError(err)
	}
	for i := range rows {
		rows[i] = maskRequester(rows[i])
	}
	dailyLimit, err := s.dailySlotLimit(ctx, creatorID)
	if err != nil {
		return CreatorQueue{}, err
	}
	today := s.startOfDay(s.now())
	var active, used int
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if active, err = s.replies.CountActive(ctx, tx, creatorID); err != nil {
			return err
		}
		used, err = s.replies.CountUsedSlots(ctx, tx, creatorID, today)
		return err
	})
	if err != nil {
		return CreatorQueue{}, unitError(err)
	}
	todayDelivered, err := s.replies.CountDelivered(ctx, creatorID, &today)
	if err != nil {
		return CreatorQueue{}, unitError(err)
	}
	totalDelivered, err := s.replies.CountDelivered(ctx, creatorID, nil)
	if err != nil {
		return CreatorQueue{}, unitError(err)
	}
	return CreatorQueue{
		Page: newPage(rows, active, page, limit),
		Stats: QueueStats{
			QueueCount:     active,
			TodayDelivered: todayDelivered,
			TotalDelivered: totalDelivered,
			DailySlotLimit: dailyLimit,
			RemainingSlots: max(0, dailyLimit-used),
		},
	}, nil
}

type ProductOffer struct {
	store.ReplyProduct
	SLAs []store.ReplySLA `json:"slas"`
}

type CreatorCatalog struct {
	Products       []ProductOffer `json:"products"`
	DailySlotLimit int            `json:"daily_slot_limit"`
	UsedSlots      int            `json:"used_slots"`
	RemainingSlots int            `json:"remaining_slots"`
}

// CreatorProducts is what a fan sees before requesting: active products with
// their active SLA options and how many slots are left today.
func (s *ReplyService) CreatorProducts(ctx context.Context, creatorID string) (CreatorCatalog, error) {
	if _, err := s.creatorProfile(ctx, creatorID); err != nil {
		return CreatorCatalog{}, err
	}
	products, err := s.products.ListActiveByCreator(ctx, creatorID)
	if err != nil {
		return CreatorCatalog{}, unitError(err)
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	slas, err := s.products.ListActiveSLAs(ctx, ids)
	if err != nil {
		return CreatorCatalog{}, unitError(err)
	}
	byProduct := make(map[string][]store.ReplySLA, len(products))
	for _, sla := range slas {
		byProduct[sla.ProductID] = append(byProduct[sla.ProductID], sla)
	}
	offers := make([]ProductOffer, 0, len(products))
	for _, p := range products {
		options := byProduct[p.ID]
		if options == nil {
			options = []store.ReplySLA{}
		}
		offers = append(offers, ProductOffer{ReplyProduct: p, SLAs: options})
	}
	dailyLimit, err := s.dailySlotLimit(ctx, creatorID)
	if err != nil {
		return CreatorCatalog{}, err
	}
	var used int
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		used, err = s.replies.CountUsedSlots(ctx, tx, creatorID, s.startOfDay(s.now()))
		return err
	})
	if err != nil {
		return CreatorCatalog{}, unitError(err)
	}
	return CreatorCatalog{
		Products:       offers,
		DailySlotLimit: dailyLimit,
		UsedSlots:      used,
		RemainingSlots: max(0, dailyLimit-used),
	}, nil
}

type CreateProductRequest struct {
	CreatorID   string
	Name        string
	Description *string
	ContentType models.ContentType
	BasePrice   decimal.Decimal
}

func (s *ReplyService) CreateProduct(ctx context.Context, req CreateProductRequest) (store.ReplyProduct, error) {
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 100 {
		return store.ReplyProduct{}, ErrInvalidName
	}
	if !req.ContentType.Valid() {
		return store.ReplyProduct{}, ErrInvalidContentType
	}
	if err := s.wallet.validateAmount(req.BasePrice); err != nil {
		return store.ReplyProduct{}, err
	}
	if _, err := s.creatorProfile(ctx, req.CreatorID); err != nil {
		return store.ReplyProduct{}, err
	}
	product := store.ReplyProduct{
		ID:          uuid.NewString(),
		CreatorID:   req.CreatorID,
		Name:        name,
		Description: req.Description,
		ContentType: req.ContentType,
		BasePrice:   req.BasePrice,
		IsActive:    true,
		CreatedAt:   s.now(),
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.products.CreateProduct(ctx, tx, product); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.CreatorID, "reply_product.create", "reply_product", product.ID, map[string]any{
			"base_price":   money.Format(product.BasePrice),
			"content_type": string(product.ContentType),
		})
	})
	if err != nil {
		return store.ReplyProduct{}, unitError(err)
	}
	return product, nil
}

type AddSLARequest struct {
	CreatorID       string
	ProductID       string
	Name            string
	DeadlineHours   int
	PriceMultiplier decimal.Decimal
}

func (s *ReplyService) AddSLA(ctx context.Context, req AddSLARequest) (store.ReplySLA, error) {
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > 50 {
		return store.ReplySLA{}, ErrInvalidName
	}
	if req.DeadlineHours < 1 || req.DeadlineHours > 720 {
		return store.ReplySLA{}, ErrInvalidDeadlineHours
	}
	if req.PriceMultiplier.LessThan(minPriceMultiplier) || req.PriceMultiplier.GreaterThan(maxPriceMultiplier) ||
		!req.PriceMultiplier.Equal(req.PriceMultiplier.Round(2)) {
		return store.ReplySLA{}, ErrInvalidMultiplier
	}
	product, err := s.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		return store.ReplySLA{}, notFoundOr(err, ErrProductNotFound)
	}
	if product.CreatorID != req.CreatorID {
		return store.ReplySLA{}, ErrProductNotFound
	}
	sla := store.ReplySLA{
		ID:              uuid.NewString(),
		ProductID:       product.ID,
		Name:            name,
		DeadlineHours:   req.DeadlineHours,
		PriceMultiplier: req.PriceMultiplier,
		IsActive:        true,
		CreatedAt:       s.now(),
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.products.CreateSLA(ctx, tx, sla); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.CreatorID, "reply_sla.create", "reply_sla", sla.ID, map[string]any{
			"deadline_hours":   sla.DeadlineHours,
			"price_multiplier": sla.PriceMultiplier.String(),
		})
	})
	if err != nil {
		return store.ReplySLA{}, unitError(err)
	}
	return sla, nil
}

func (s *ReplyService) SetSlotPolicy(ctx context.Context, creatorID string, dailyLimit int) error {
	if dailyLimit < 1 || dailyLimit > 100 {
		return ErrInvalidSlotLimit
	}
	if _, err := s.creatorProfile(ctx, creatorID); err != nil {
		return err
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.products.UpsertSlotPolicy(ctx, tx, creatorID, dailyLimit); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, creatorID, "reply_slot_policy.update", "creator", creatorID, map[string]any{
			"daily_slot_limit": dailyLimit,
		})
	})
	return unitError(err)
}

// refund moves a locked active request to a refunded terminal state, credits
// the escrow back to the requester and records why.
func (s *ReplyService) refund(ctx context.Context, tx store.Tx, request store.ReplyRequest, to models.ReplyStatus, reason models.RefundReason, processedBy, description string) (store.ReplyRefund, Posting, error) {
	now := s.now()
	if _, err := s.transition(ctx, tx, request.ID, to, now); err != nil {
		return store.ReplyRefund{}, Posting{}, err
	}
	posting, err := s.wallet.CreditTx(ctx, tx, Movement{
		UserID:        request.RequesterID,
		Amount:        request.EscrowAmount,
		Type:          models.TxReplyRequestRefund,
		ReferenceID:   stringPtr(request.ID),
		ReferenceType: stringPtr(models.RefReplyRequest),
		Description:   stringPtr("Reply request refund: " + string(reason)),
		Settlement:    true,
	})
	if err != nil {
		return store.ReplyRefund{}, Posting{}, err
	}
	refund := store.ReplyRefund{
		ID:             uuid.NewString(),
		ReplyRequestID: request.ID,
		Reason:         reason,
		Amount:         request.EscrowAmount,
		Description:    stringPtr(description),
		ProcessedBy:    processedBy,
		CreatedAt:      now,
	}
	if err := s.replies.CreateRefund(ctx, tx, refund); err != nil {
		return store.ReplyRefund{}, Posting{}, err
	}
	return refund, posting, nil
}

// transition applies a status change to a request already locked in this
// unit. Zero affected rows means the row left the active states under us.
func (s *ReplyService) transition(ctx context.Context, tx store.Tx, requestID string, to models.ReplyStatus, at time.Time) (int64, error) {
	rows, err := s.replies.Transition(ctx, tx, requestID, to, at)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrInvalidTransition
	}
	return rows, nil
}

func (s *ReplyService) lockRequest(ctx context.Context, tx store.Tx, requestID string) (store.ReplyRequest, error) {
	request, err := s.replies.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return store.ReplyRequest{}, notFoundOr(err, ErrReplyRequestNotFound)
	}
	return request, nil
}

func (s *ReplyService) getRequest(ctx context.Context, requestID string) (store.ReplyRequest, error) {
	request, err := s.replies.GetRequest(ctx, requestID)
	if err != nil {
		return store.ReplyRequest{}, notFoundOr(err, ErrReplyRequestNotFound)
	}
	return request, nil
}

func (s *ReplyService) productAndSLA(ctx context.Context, creatorID, productID, slaID string) (store.ReplyProduct, store.ReplySLA, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return store.ReplyProduct{}, store.ReplySLA{}, notFoundOr(err, ErrProductNotFound)
	}
	if product.CreatorID != creatorID {
		return store.ReplyProduct{}, store.ReplySLA{}, ErrProductNotFound
	}
	if !product.IsActive {
		return store.ReplyProduct{}, store.ReplySLA{}, ErrProductInactive
	}
	sla, err := s.products.GetSLA(ctx, slaID)
	if err != nil {
		return store.ReplyProduct{}, store.ReplySLA{}, notFoundOr(err, ErrSLANotFound)
	}
	if sla.ProductID != product.ID {
		return store.ReplyProduct{}, store.ReplySLA{}, ErrSLANotFound
	}
	if !sla.IsActive {
		return store.ReplyProduct{}, store.ReplySLA{}, ErrSLAInactive
	}
	return product, sla, nil
}

func (s *ReplyService) dailySlotLimit(ctx context.Context, creatorID string) (int, error) {
	policy, err := s.products.GetSlotPolicy(ctx, creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.slotLimit, nil
	}
	if err != nil {
		return 0, unitError(err)
	}
	return policy.DailySlotLimit, nil
}

func (s *ReplyService) creatorProfile(ctx context.Context, userID string) (store.UserProfile, error) {
	profile, err := s.identity.Profile(ctx, userID)
	if err != nil {
		return store.UserProfile{}, notFoundOr(err, ErrUserNotFound)
	}
	if !profile.HasCreatorProfile {
		return store.UserProfile{}, ErrNotCreator
	}
	return profile, nil
}

func (s *ReplyService) nickname(ctx context.Context, userID string) string {
	profile, err := s.identity.Profile(ctx, userID)
	if err != nil {
		return "A fan"
	}
	return profile.Nickname
}

func (s *ReplyService) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), n)
}

func (s *ReplyService) startOfDay(t time.Time) time.Time {
	local := t.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}

// replyPrice returns the total charged for a product at an SLA and the part
// of it attributable to the SLA. The total is rounded half-even to whole won.
func replyPrice(base, multiplier decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total := base.Mul(multiplier).RoundBank(0)
	return total, total.Sub(base)
}

func requireContent(contentType models.ContentType, req DeliverReplyRequest) error {
	switch contentType {
	case models.ContentText:
		if req.TextContent == nil || strings.TrimSpace(*req.TextContent) == "" {
			return ErrMissingContent
		}
	case models.ContentVoice:
		if req.VoiceURL == nil || *req.VoiceURL == "" {
			return ErrMissingContent
		}
	case models.ContentPhoto:
		if len(req.PhotoURLs) == 0 {
			return ErrMissingContent
		}
	case models.ContentVideo:
		if req.VideoURL == nil || *req.VideoURL == "" {
			return ErrMissingContent
		}
	}
	return nil
}

func maskRequester(r store.ReplyRequest) store.ReplyRequest {
	if r.IsAnonymous {
		r.RequesterID = anonymousRequesterID
	}
	return r
}

// notFoundOr maps sql.ErrNoRows to the given not-found error and classifies
// anything else as a persistence failure.
func notFoundOr(err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return unitError(err)
}
