package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"fanpay/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestReplyStoreCreateRequest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO reply_requests") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 16 || args[0] != "req-1" || args[11] != models.ReplyQueued || args[12] != 3 {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewReplyStore(stubDB{})
	err := store.CreateRequest(ctx, execer, ReplyRequest{
		ID:            "req-1",
		RequesterID:   "fan-1",
		CreatorID:     "creator-1",
		ProductID:     "product-1",
		SLAID:         "sla-1",
		Message:       "hello",
		BasePrice:     decimal.NewFromInt(5000),
		TotalPrice:    decimal.NewFromInt(5000),
		EscrowAmount:  decimal.NewFromInt(5000),
		Status:        models.ReplyQueued,
		QueuePosition: 3,
		PaidAt:        now,
		QueuedAt:      now,
		DeadlineAt:    now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReplyStoreGetRequestForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("expected row lock: %s", query)
			}
			*dest.(*ReplyRequest) = ReplyRequest{ID: "req-1", Status: models.ReplyInProgress}
			return nil
		},
	}
	store := NewReplyStore(stubDB{})
	req, err := store.GetRequestForUpdate(ctx, getter, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != models.ReplyInProgress {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestReplyStoreCountUsedSlots(t *testing.T) {
	ctx := context.Background()
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "paid_at >= $2") || !strings.Contains(query, "status IN ('QUEUED', 'IN_PROGRESS', 'DELIVERED')") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 2 || args[0] != "creator-1" || args[1] != since {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int) = 4
			return nil
		},
	}
	store := NewReplyStore(stubDB{})
	count, err := store.CountUsedSlots(ctx, getter, "creator-1", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4, got %d", count)
	}
}

func TestReplyStoreTransitionOnlyFromActive(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $1 AND status IN ('QUEUED', 'IN_PROGRESS')") {
				t.Fatalf("transition must be guarded: %s", query)
			}
			if args[1] != "EXPIRED" || args[2] != at {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewReplyStore(stubDB{})
	affected, err := store.Transition(ctx, execer, "req-1", models.ReplyExpired, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected no rows, got %d", affected)
	}
}

func TestReplyStoreListQueueOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewReplyStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "ORDER BY deadline_at ASC, queue_position ASC") {
				t.Fatalf("unexpected order: %s", query)
			}
			*dest.(*[]ReplyRequest) = []ReplyRequest{{ID: "req-urgent"}, {ID: "req-later"}}
			return nil
		},
	})
	rows, err := store.ListQueue(ctx, "creator-1", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "req-urgent" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestReplyStoreListExpiredIDs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewReplyStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "deadline_at < $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != now || args[1] != 100 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]string) = []string{"req-1", "req-2"}
			return nil
		},
	})
	ids, err := store.ListExpiredIDs(ctx, now, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("unexpected ids: %#v", ids)
	}
}

func TestReplyStoreCreateDeliveryDefaultsPhotos(t *testing.T) {
	ctx := context.Background()
	text := "thanks!"
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			photos, ok := args[4].(pq.StringArray)
			if !ok || photos == nil || len(photos) != 0 {
				t.Fatalf("expected empty photo array, got %#v", args[4])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewReplyStore(stubDB{})
	if err := store.CreateDelivery(ctx, execer, ReplyDelivery{ID: "d-1", ReplyRequestID: "req-1", TextContent: &text}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReplyStoreSaveFeedbackOnce(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "rating IS NULL") {
				t.Fatalf("feedback must only be written once: %s", query)
			}
			if args[1] != 5 || args[3] != true {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewReplyStore(stubDB{})
	affected, err := store.SaveFeedback(ctx, execer, "req-1", FeedbackInput{Rating: 5, IsPublicAllowed: true, At: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected one row, got %d", affected)
	}
}

func TestReplyStoreCreateRefund(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO reply_refunds") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[2] != models.RefundSLAExpired || args[5] != models.ProcessedBySystem {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewReplyStore(stubDB{})
	err := store.CreateRefund(ctx, execer, ReplyRefund{
		ID:             "refund-1",
		ReplyRequestID: "req-1",
		Reason:         models.RefundSLAExpired,
		Amount:         decimal.NewFromInt(5000),
		ProcessedBy:    models.ProcessedBySystem,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
