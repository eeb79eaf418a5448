package handlers

import (
	"context"
	"net/http"
	"testing"

	"fanpay/internal/models"
	"fanpay/internal/services"
	"fanpay/internal/store"

	"github.com/shopspring/decimal"
)

func TestCreatePayment(t *testing.T) {
	router := newTestRouter(Deps{Payments: stubPaymentService{
		createFn: func(ctx context.Context, userID, providerPaymentID string, amount decimal.Decimal) (store.Payment, error) {
			if userID != "fan-1" || providerPaymentID != "pg_123" || !amount.Equal(decimal.NewFromInt(30000)) {
				t.Fatalf("unexpected payment %s %s %s", userID, providerPaymentID, amount)
			}
			return store.Payment{ID: "pay-1", Status: models.PaymentPending}, nil
		},
	}})
	rr := serve(t, router, http.MethodPost, "/payments", `{"provider_payment_id":"pg_123","amount":30000}`, "fan-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPaymentWebhookRequiresSecret(t *testing.T) {
	router := newTestRouter(Deps{Payments: stubPaymentService{
		completeFn: func(ctx context.Context, providerPaymentID string) (services.PaymentCompletion, error) {
			t.Fatalf("service should not be called")
			return services.PaymentCompletion{}, nil
		},
	}})
	body := `{"provider_payment_id":"pg_123","status":"COMPLETED"}`
	if rr := serve(t, router, http.MethodPost, "/webhooks/payments", body, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodPost, "/webhooks/payments", body, "", webhookSecretHeader, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPaymentWebhookSettles(t *testing.T) {
	completed, failed := 0, 0
	router := newTestRouter(Deps{Payments: stubPaymentService{
		completeFn: func(ctx context.Context, providerPaymentID string) (services.PaymentCompletion, error) {
			completed++
			return services.PaymentCompletion{Replayed: completed > 1}, nil
		},
		failFn: func(ctx context.Context, providerPaymentID string) (store.Payment, error) {
			failed++
			return store.Payment{}, services.ErrPaymentAlreadySettled
		},
	}})

	for i := 0; i < 2; i++ {
		rr := serve(t, router, http.MethodPost, "/webhooks/payments", `{"provider_payment_id":"pg_123","status":"completed"}`, "", webhookSecretHeader, "hook-secret")
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := serve(t, router, http.MethodPost, "/webhooks/payments", `{"provider_payment_id":"pg_123","status":"FAILED"}`, "", webhookSecretHeader, "hook-secret")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	rr = serve(t, router, http.MethodPost, "/webhooks/payments", `{"provider_payment_id":"pg_123","status":"REFUNDED"}`, "", webhookSecretHeader, "hook-secret")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("unexpected calls: completed=%d failed=%d", completed, failed)
	}
}
