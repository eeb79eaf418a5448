package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"fanpay/internal/logger"
	"fanpay/internal/store"
	"fanpay/internal/validator"

	"github.com/jmoiron/sqlx"
)

// Reconcile compares every wallet's stored balance with the sum of its
// ledger entries. ?only_mismatched=true drops wallets that agree.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	onlyMismatched := r.URL.Query().Get("only_mismatched") == "true"
	rows, err := h.wallet.Reconcile(r.Context(), onlyMismatched)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) EscrowSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.wallet.EscrowSummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) VerifyReplay(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	report, err := h.wallet.VerifyReplay(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// RunSweep runs the expiry sweep now. It answers 409 while another run,
// scheduled or manual, holds the sweep lock.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	actorID, _ := currentUser(w, r)
	result, ran, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ran {
		respondError(w, http.StatusConflict, "sweep already running")
		return
	}
	logger.Log.Infow("manual escrow sweep", "actor_id", actorID, "processed", result.Processed)
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, limit := pageParams(r)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	rows, err := h.audit.List(r.Context(), query.Get("entity_type"), limit, (page-1)*limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.admin.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if admins == nil {
		admins = []store.Admin{}
	}
	respondJSON(w, http.StatusOK, admins)
}

type promoteRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSuperAdmin(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validator.ValidateID(req.UserID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := h.users.Profile(r.Context(), req.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, req.UserID, false, &userID); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, userID, "promote_admin", "admin", req.UserID, map[string]string{
			"target_user_id": req.UserID,
		})
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted"})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Role        string `json:"role"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSuperAdmin(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validator.ValidateID(req.AdminUserID) != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Role != store.RoleLedgerAuditor && req.Role != store.RoleEscrowOperator {
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target is not an admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, userID, "grant_role", "admin_role", req.AdminUserID, map[string]string{
			"admin_user_id": req.AdminUserID,
			"role":          req.Role,
		})
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

func (h *Handler) requireSuperAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return "", false
	}
	_, isSuper, err := h.admin.IsAdmin(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return "", false
	}
	if !isSuper {
		respondError(w, http.StatusForbidden, "super_admin_required")
		return "", false
	}
	return userID, true
}
