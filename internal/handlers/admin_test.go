package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"fanpay/internal/services"
	"fanpay/internal/store"

	"github.com/jmoiron/sqlx"
)

func auditorAdmin() stubAdminStore {
	return stubAdminStore{
		isAdminFn: func(ctx context.Context, userID string) (bool, bool, error) {
			return userID == "auditor" || userID == "root", userID == "root", nil
		},
		hasRoleFn: func(ctx context.Context, userID, role string) (bool, error) {
			return userID == "auditor" && role == store.RoleLedgerAuditor, nil
		},
	}
}

func TestReconcileRequiresAuditorRole(t *testing.T) {
	var onlyMismatched bool
	router := newTestRouter(Deps{
		Admin: auditorAdmin(),
		Wallet: stubWalletService{
			reconcileFn: func(ctx context.Context, only bool) ([]store.WalletBalanceSummary, error) {
				onlyMismatched = only
				return []store.WalletBalanceSummary{}, nil
			},
		},
	})

	if rr := serve(t, router, http.MethodGet, "/admin/reconcile", "", "fan-1"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodGet, "/admin/reconcile?only_mismatched=true", "", "auditor"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !onlyMismatched {
		t.Fatalf("expected only_mismatched to be passed through")
	}
}

func TestRunSweepRequiresOperatorRole(t *testing.T) {
	router := newTestRouter(Deps{Admin: auditorAdmin()})
	if rr := serve(t, router, http.MethodPost, "/admin/reply-requests/sweep", "", "auditor"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodPost, "/admin/reply-requests/sweep", "", "root"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRunSweepConflictWhenLocked(t *testing.T) {
	router := newTestRouter(Deps{
		Admin: auditorAdmin(),
		Sweeper: stubSweeper{runFn: func(ctx context.Context) (services.SweepResult, bool, error) {
			return services.SweepResult{}, false, nil
		}},
	})
	if rr := serve(t, router, http.MethodPost, "/admin/reply-requests/sweep", "", "root"); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestListAuditLogsFiltersAndPages(t *testing.T) {
	router := newTestRouter(Deps{
		Admin: auditorAdmin(),
		Audit: stubAuditStore{listFn: func(ctx context.Context, entityType string, limit, offset int) ([]store.AuditEntry, error) {
			if entityType != "reply_request" || limit != 10 || offset != 10 {
				t.Fatalf("unexpected query %s %d %d", entityType, limit, offset)
			}
			return nil, nil
		}},
	})
	rr := serve(t, router, http.MethodGet, "/admin/audit?entity_type=reply_request&page=2&limit=10", "", "auditor")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "[]\n" {
		t.Fatalf("expected empty list, got %q", got)
	}
}

func TestPromoteAdminRequiresSuperAdmin(t *testing.T) {
	router := newTestRouter(Deps{Admin: auditorAdmin()})
	rr := serve(t, router, http.MethodPost, "/admin/promote", `{"user_id":"fan-1"}`, "auditor")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestPromoteAdminWritesAudit(t *testing.T) {
	admin := auditorAdmin()
	var created string
	admin.createAdminFn = func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
		if isSuper || createdBy == nil || *createdBy != "root" {
			t.Fatalf("unexpected promotion by %v", createdBy)
		}
		created = userID
		return nil
	}
	var action string
	router := newTestRouter(Deps{
		Admin: admin,
		Audit: stubAuditStore{logFn: func(ctx context.Context, tx store.Execer, actorID, act, entityType, entityID string, data any) error {
			action = act
			return nil
		}},
	})
	rr := serve(t, router, http.MethodPost, "/admin/promote", `{"user_id":"fan-1"}`, "root")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created != "fan-1" || action != "promote_admin" {
		t.Fatalf("unexpected promotion %q %q", created, action)
	}
}

func TestGrantRoleErrors(t *testing.T) {
	admin := auditorAdmin()
	admin.isAdminFn = func(ctx context.Context, userID string) (bool, bool, error) {
		return true, userID == "root", nil
	}
	router := newTestRouter(Deps{
		Admin: admin,
		TxRunner: fakeTxRunner{withTxFn: func(ctx context.Context, fn func(*sqlx.Tx) error) error {
			if err := fn(nil); err != nil {
				return err
			}
			return errors.New("commit failed")
		}},
	})

	rr := serve(t, router, http.MethodPost, "/admin/roles/grant", `{"admin_user_id":"auditor","role":"root"}`, "root")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = serve(t, router, http.MethodPost, "/admin/roles/grant", `{"admin_user_id":"auditor","role":"escrow_operator"}`, "root")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
