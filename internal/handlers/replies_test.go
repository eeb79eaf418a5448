package handlers

import (
	"context"
	"net/http"
	"testing"

	"fanpay/internal/models"
	"fanpay/internal/services"
	"fanpay/internal/store"
)

func TestCreateReplyRequestTakesRequesterFromToken(t *testing.T) {
	router := newTestRouter(Deps{Replies: stubReplyService{
		createFn: func(ctx context.Context, req services.CreateReplyRequest) (store.ReplyRequest, error) {
			if req.RequesterID != "fan-1" || req.CreatorID != "creator-1" || req.SLAID != "sla-24h" {
				t.Fatalf("unexpected request %+v", req)
			}
			if !req.IsAnonymous {
				t.Fatalf("expected anonymous request")
			}
			return store.ReplyRequest{ID: "req-1", Status: models.ReplyQueued}, nil
		},
	}})
	body := `{"creator_id":"creator-1","product_id":"prod-1","sla_id":"sla-24h","message":"Happy birthday!","is_anonymous":true}`
	rr := serve(t, router, http.MethodPost, "/reply-requests", body, "fan-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateReplyRequestErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing sla", `{"creator_id":"creator-1","product_id":"prod-1","message":"hi"}`, nil, http.StatusBadRequest},
		{"unknown field", `{"creator_id":"creator-1","product_id":"prod-1","sla_id":"s","price":1}`, nil, http.StatusBadRequest},
		{"slot limit", `{"creator_id":"creator-1","product_id":"prod-1","sla_id":"s","message":"hi"}`, services.ErrSlotLimitExceeded, http.StatusUnprocessableEntity},
		{"insufficient", `{"creator_id":"creator-1","product_id":"prod-1","sla_id":"s","message":"hi"}`, services.ErrInsufficientBalance, http.StatusBadRequest},
		{"inactive product", `{"creator_id":"creator-1","product_id":"prod-1","sla_id":"s","message":"hi"}`, services.ErrProductInactive, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(Deps{Replies: stubReplyService{
				createFn: func(ctx context.Context, req services.CreateReplyRequest) (store.ReplyRequest, error) {
					return store.ReplyRequest{}, tc.err
				},
			}})
			rr := serve(t, router, http.MethodPost, "/reply-requests", tc.body, "fan-1")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestDeliverReplyValidatesMedia(t *testing.T) {
	called := false
	router := newTestRouter(Deps{Replies: stubReplyService{
		deliverFn: func(ctx context.Context, req services.DeliverReplyRequest) (store.ReplyDelivery, error) {
			called = true
			if req.CreatorID != "creator-1" || req.RequestID != "req-1" {
				t.Fatalf("unexpected request %+v", req)
			}
			return store.ReplyDelivery{ID: "delivery-1"}, nil
		},
	}})

	rr := serve(t, router, http.MethodPost, "/reply-requests/req-1/deliver", `{"voice_url":"http://cdn.example/a.mp3"}`, "creator-1")
	if rr.Code != http.StatusBadRequest || called {
		t.Fatalf("expected 400 without service call, got %d", rr.Code)
	}

	rr = serve(t, router, http.MethodPost, "/reply-requests/req-1/deliver", `{"voice_url":"https://cdn.example/a.mp3","duration":42}`, "creator-1")
	if rr.Code != http.StatusCreated || !called {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRejectReplyRequestForbidden(t *testing.T) {
	router := newTestRouter(Deps{Replies: stubReplyService{
		rejectFn: func(ctx context.Context, requestID, creatorID, reason string) (store.ReplyRefund, error) {
			if reason != "too busy" {
				t.Fatalf("unexpected reason %q", reason)
			}
			return store.ReplyRefund{}, services.ErrNotRequestCreator
		},
	}})
	rr := serve(t, router, http.MethodPost, "/reply-requests/req-1/reject", `{"reason":"too busy"}`, "someone-else")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestListMyReplyRequestsNormalisesStatus(t *testing.T) {
	router := newTestRouter(Deps{Replies: stubReplyService{
		listFn: func(ctx context.Context, requesterID string, status models.ReplyStatus, page, limit int) (services.Page[store.ReplyRequest], error) {
			if status != models.ReplyInProgress {
				t.Fatalf("expected IN_PROGRESS, got %q", status)
			}
			return services.Page[store.ReplyRequest]{Items: []store.ReplyRequest{}}, nil
		},
	}})
	if rr := serve(t, router, http.MethodGet, "/reply-requests?status=in_progress", "", "fan-1"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAddReplySLAParsesMultiplier(t *testing.T) {
	router := newTestRouter(Deps{Replies: stubReplyService{
		addSLAFn: func(ctx context.Context, req services.AddSLARequest) (store.ReplySLA, error) {
			if req.ProductID != "prod-1" || req.PriceMultiplier.String() != "1.5" || req.DeadlineHours != 24 {
				t.Fatalf("unexpected request %+v", req)
			}
			return store.ReplySLA{ID: "sla-1"}, nil
		},
	}})
	rr := serve(t, router, http.MethodPost, "/reply-products/prod-1/slas", `{"name":"express","deadline_hours":24,"price_multiplier":1.5}`, "creator-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = serve(t, router, http.MethodPost, "/reply-products/prod-1/slas", `{"name":"express","deadline_hours":24,"price_multiplier":"fast"}`, "creator-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
