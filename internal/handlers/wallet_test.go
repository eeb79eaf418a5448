package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"fanpay/internal/kvstore"
	"fanpay/internal/middleware"
	"fanpay/internal/services"
	"fanpay/internal/store"

	"github.com/shopspring/decimal"
)

func TestGetBalanceUsesTokenUser(t *testing.T) {
	var seen string
	router := newTestRouter(Deps{Wallet: stubWalletService{
		getBalanceFn: func(ctx context.Context, userID string) (services.Balance, error) {
			seen = userID
			return services.Balance{Balance: decimal.NewFromInt(50000), Currency: "KRW"}, nil
		},
	}})

	rr := serve(t, router, http.MethodGet, "/wallet/balance", "", "fan-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen != "fan-1" {
		t.Fatalf("expected fan-1, got %q", seen)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["balance"] != "50000" || body["currency"] != "KRW" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestListTransactionsPassesPaging(t *testing.T) {
	router := newTestRouter(Deps{Wallet: stubWalletService{
		listFn: func(ctx context.Context, userID string, page, limit int) (services.Page[store.LedgerEntry], error) {
			if page != 3 || limit != 10 {
				t.Fatalf("expected page 3 limit 10, got %d %d", page, limit)
			}
			return services.Page[store.LedgerEntry]{Items: []store.LedgerEntry{}, Total: 25, Page: 3, Limit: 10, TotalPages: 3}, nil
		},
	}})
	rr := serve(t, router, http.MethodGet, "/wallet/transactions?page=3&limit=10", "", "fan-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestWithdrawMapsInsufficientBalance(t *testing.T) {
	router := newTestRouter(Deps{Wallet: stubWalletService{
		withdrawFn: func(ctx context.Context, req services.WithdrawRequest) (services.Posting, error) {
			if req.UserID != "fan-1" || !req.Amount.Equal(decimal.NewFromInt(70000)) {
				t.Fatalf("unexpected request %+v", req)
			}
			return services.Posting{}, services.ErrInsufficientBalance
		},
	}})
	rr := serve(t, router, http.MethodPost, "/wallet/withdraw", `{"amount": "70,000"}`, "fan-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWithdrawRejectsFractionalAmountBeforeService(t *testing.T) {
	router := newTestRouter(Deps{Wallet: stubWalletService{
		withdrawFn: func(ctx context.Context, req services.WithdrawRequest) (services.Posting, error) {
			t.Fatalf("service should not be called")
			return services.Posting{}, nil
		},
	}})
	rr := serve(t, router, http.MethodPost, "/wallet/withdraw", `{"amount": 100.5}`, "fan-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWithdrawIdempotencyKeyReplays(t *testing.T) {
	calls := 0
	router := newTestRouter(Deps{
		Idempotency: kvstore.NewMemory(),
		Wallet: stubWalletService{
			withdrawFn: func(ctx context.Context, req services.WithdrawRequest) (services.Posting, error) {
				calls++
				return services.Posting{EntryID: "entry-1", UserID: req.UserID, Amount: req.Amount.Neg()}, nil
			},
		},
	})

	first := serve(t, router, http.MethodPost, "/wallet/withdraw", `{"amount": 1000}`, "fan-1", middleware.IdempotencyHeader, "k-1")
	second := serve(t, router, http.MethodPost, "/wallet/withdraw", `{"amount": 1000}`, "fan-1", middleware.IdempotencyHeader, "k-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected one withdrawal, got %d", calls)
	}
	if second.Header().Get(middleware.ReplayedHeader) != "true" {
		t.Fatalf("expected replayed header")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}

	serve(t, router, http.MethodPost, "/wallet/withdraw", `{"amount": 1000}`, "fan-2", middleware.IdempotencyHeader, "k-1")
	if calls != 2 {
		t.Fatalf("keys are per user, expected 2 calls, got %d", calls)
	}
}

func TestGetUserProfileNotFound(t *testing.T) {
	router := newTestRouter(Deps{Users: stubIdentityStore{
		profileFn: func(ctx context.Context, userID string) (store.UserProfile, error) {
			return store.UserProfile{}, sql.ErrNoRows
		},
	}})
	if rr := serve(t, router, http.MethodGet, "/users/ghost", "", "fan-1"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodGet, "/users/bad%20id", "", "fan-1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
