package store

import (
	"context"
	"time"

	"fanpay/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ReplyStore persists reply requests and the delivery and refund records
// attached when a request reaches a terminal state.
type ReplyStore struct {
	db DB
}

type ReplyRequest struct {
	ID            string             `db:"id" json:"id"`
	RequesterID   string             `db:"requester_id" json:"requester_id"`
	CreatorID     string             `db:"creator_id" json:"creator_id"`
	ProductID     string             `db:"product_id" json:"product_id"`
	SLAID         string             `db:"sla_id" json:"sla_id"`
	Message       string             `db:"message" json:"message"`
	IsAnonymous   bool               `db:"is_anonymous" json:"is_anonymous"`
	BasePrice     decimal.Decimal    `db:"base_price" json:"base_price"`
	SLAPrice      decimal.Decimal    `db:"sla_price" json:"sla_price"`
	TotalPrice    decimal.Decimal    `db:"total_price" json:"total_price"`
	EscrowAmount  decimal.Decimal    `db:"escrow_amount" json:"escrow_amount"`
	Status        models.ReplyStatus `db:"status" json:"status"`
	QueuePosition int                `db:"queue_position" json:"queue_position"`
	PaidAt        time.Time          `db:"paid_at" json:"paid_at"`
	QueuedAt      time.Time          `db:"queued_at" json:"queued_at"`
	StartedAt     *time.Time         `db:"started_at" json:"started_at,omitempty"`
	DeadlineAt    time.Time          `db:"deadline_at" json:"deadline_at"`
	DeliveredAt   *time.Time         `db:"delivered_at" json:"delivered_at,omitempty"`
	ExpiredAt     *time.Time         `db:"expired_at" json:"expired_at,omitempty"`
	RefundedAt    *time.Time         `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

type ReplyDelivery struct {
	ID              string         `db:"id" json:"id"`
	ReplyRequestID  string         `db:"reply_request_id" json:"reply_request_id"`
	TextContent     *string        `db:"text_content" json:"text_content,omitempty"`
	VoiceURL        *string        `db:"voice_url" json:"voice_url,omitempty"`
	PhotoURLs       pq.StringArray `db:"photo_urls" json:"photo_urls"`
	VideoURL        *string        `db:"video_url" json:"video_url,omitempty"`
	Duration        *int           `db:"duration" json:"duration,omitempty"`
	CreatorNote     *string        `db:"creator_note" json:"creator_note,omitempty"`
	Rating          *int           `db:"rating" json:"rating,omitempty"`
	Feedback        *string        `db:"feedback" json:"feedback,omitempty"`
	IsPublicAllowed bool           `db:"is_public_allowed" json:"is_public_allowed"`
	FeedbackAt      *time.Time     `db:"feedback_at" json:"feedback_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

type ReplyRefund struct {
	ID             string              `db:"id" json:"id"`
	ReplyRequestID string              `db:"reply_request_id" json:"reply_request_id"`
	Reason         models.RefundReason `db:"reason" json:"reason"`
	Amount         decimal.Decimal     `db:"amount" json:"amount"`
	Description    *string             `db:"description" json:"description,omitempty"`
	ProcessedBy    string              `db:"processed_by" json:"processed_by"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

type FeedbackInput struct {
	Rating          int
	Feedback        *string
	IsPublicAllowed bool
	At              time.Time
}

const replyRequestColumns = `id, requester_id, creator_id, product_id, sla_id, message, is_anonymous,
		       base_price, sla_price, total_price, escrow_amount, status, queue_position,
		       paid_at, queued_at, started_at, deadline_at, delivered_at, expired_at, refunded_at, created_at`

func NewReplyStore(db DB) *ReplyStore {
	return &ReplyStore{db: db}
}

func (s *ReplyStore) CreateRequest(ctx context.Context, tx Execer, r ReplyRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_requests (id, requester_id, creator_id, product_id, sla_id, message, is_anonymous,
		                            base_price, sla_price, total_price, escrow_amount, status, queue_position,
		                            paid_at, queued_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.ID, r.RequesterID, r.CreatorID, r.ProductID, r.SLAID, r.Message, r.IsAnonymous,
		r.BasePrice, r.SLAPrice, r.TotalPrice, r.EscrowAmount, r.Status, r.QueuePosition,
		r.PaidAt, r.QueuedAt, r.DeadlineAt)
	return err
}

func (s *ReplyStore) GetRequest(ctx context.Context, requestID string) (ReplyRequest, error) {
	var row ReplyRequest
	err := s.db.GetContext(ctx, &row, `
		SELECT `+replyRequestColumns+`
		FROM reply_requests
		WHERE id = $1
	`, requestID)
	if err != nil {
		return ReplyRequest{}, err
	}
	return row, nil
}

func (s *ReplyStore) GetRequestForUpdate(ctx context.Context, tx Getter, requestID string) (ReplyRequest, error) {
	var row ReplyRequest
	err := tx.GetContext(ctx, &row, `
		SELECT `+replyRequestColumns+`
		FROM reply_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID)
	if err != nil {
		return ReplyRequest{}, err
	}
	return row, nil
}

// CountUsedSlots counts the creator's requests paid since the start of
// the business day that still occupy a daily slot.
func (s *ReplyStore) CountUsedSlots(ctx context.Context, q Getter, creatorID string, since time.Time) (int, error) {
	var count int
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM reply_requests
		WHERE creator_id = $1
		  AND paid_at >= $2
		  AND status IN ('QUEUED', 'IN_PROGRESS', 'DELIVERED')
	`, creatorID, since)
	return count, err
}

func (s *ReplyStore) CountActive(ctx context.Context, q Getter, creatorID string) (int, error) {
	var count int
	err := q.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM reply_requests
		WHERE creator_id = $1 AND status IN ('QUEUED', 'IN_PROGRESS')
	`, creatorID)
	return count, err
}

// CountDelivered counts delivered requests, all-time when since is nil.
func (s *ReplyStore) CountDelivered(ctx context.Context, creatorID string, since *time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM reply_requests
		WHERE creator_id = $1
		  AND status = 'DELIVERED'
		  AND ($2::timestamptz IS NULL OR delivered_at >= $2)
	`, creatorID, since)
	return count, err
}

// Transition moves an active request to status `to`, stamping the timestamp
// columns that belong to that state. It affects zero rows when the request
// has already left QUEUED/IN_PROGRESS.
func (s *ReplyStore) Transition(ctx context.Context, tx Execer, requestID string, to models.ReplyStatus, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE reply_requests
		SET status = $2,
		    started_at = CASE WHEN $2 = 'IN_PROGRESS' THEN $3 ELSE started_at END,
		    delivered_at = CASE WHEN $2 = 'DELIVERED' THEN $3 ELSE delivered_at END,
		    expired_at = CASE WHEN $2 = 'EXPIRED' THEN $3 ELSE expired_at END,
		    refunded_at = CASE WHEN $2 IN ('REJECTED', 'EXPIRED') THEN $3 ELSE refunded_at END
		WHERE id = $1 AND status IN ('QUEUED', 'IN_PROGRESS')
	`, requestID, string(to), at)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// ListExpiredIDs returns active requests whose deadline passed before now,
// oldest deadline first.
func (s *ReplyStore) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id
		FROM reply_requests
		WHERE status IN ('QUEUED', 'IN_PROGRESS') AND deadline_at < $1
		ORDER BY deadline_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *ReplyStore) ListByRequester(ctx context.Context, requesterID string, status models.ReplyStatus, limit, offset int) ([]ReplyRequest, int, error) {
	var rows []ReplyRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+replyRequestColumns+`
		FROM reply_requests
		WHERE requester_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, requesterID, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = s.db.GetContext(ctx, &total, `
		SELECT COUNT(1)
		FROM reply_requests
		WHERE requester_id = $1 AND ($2 = '' OR status = $2)
	`, requesterID, string(status))
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListQueue returns the creator's active requests, most urgent first.
func (s *ReplyStore) ListQueue(ctx context.Context, creatorID string, limit, offset int) ([]ReplyRequest, error) {
	var rows []ReplyRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+replyRequestColumns+`
		FROM reply_requests
		WHERE creator_id = $1 AND status IN ('QUEUED', 'IN_PROGRESS')
		ORDER BY deadline_at ASC, queue_position ASC
		LIMIT $2 OFFSET $3
	`, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ReplyStore) CreateDelivery(ctx context.Context, tx Execer, d ReplyDelivery) error {
	photos := d.PhotoURLs
	if photos == nil {
		photos = pq.StringArray{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_deliveries (id, reply_request_id, text_content, voice_url, photo_urls, video_url, duration, creator_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.ReplyRequestID, d.TextContent, d.VoiceURL, photos, d.VideoURL, d.Duration, d.CreatorNote)
	return err
}

func (s *ReplyStore) GetDelivery(ctx context.Context, requestID string) (ReplyDelivery, error) {
	var row ReplyDelivery
	err := s.db.GetContext(ctx, &row, `
		SELECT id, reply_request_id, text_content, voice_url, photo_urls, video_url, duration, creator_note,
		       rating, feedback, is_public_allowed, feedback_at, created_at
		FROM reply_deliveries
		WHERE reply_request_id = $1
	`, requestID)
	if err != nil {
		return ReplyDelivery{}, err
	}
	return row, nil
}

// SaveFeedback attaches the requester's rating. Feedback can be written once.
func (s *ReplyStore) SaveFeedback(ctx context.Context, tx Execer, requestID string, input FeedbackInput) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE reply_deliveries
		SET rating = $2, feedback = $3, is_public_allowed = $4, feedback_at = $5
		WHERE reply_request_id = $1 AND rating IS NULL
	`, requestID, input.Rating, input.Feedback, input.IsPublicAllowed, input.At)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (s *ReplyStore) CreateRefund(ctx context.Context, tx Execer, r ReplyRefund) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reply_refunds (id, reply_request_id, reason, amount, description, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.ReplyRequestID, r.Reason, r.Amount, r.Description, r.ProcessedBy)
	return err
}

func (s *ReplyStore) GetRefund(ctx context.Context, requestID string) (ReplyRefund, error) {
	var row ReplyRefund
	err := s.db.GetContext(ctx, &row, `
		SELECT id, reply_request_id, reason, amount, description, processed_by, created_at
		FROM reply_refunds
		WHERE reply_request_id = $1
	`, requestID)
	if err != nil {
		return ReplyRefund{}, err
	}
	return row, nil
}
