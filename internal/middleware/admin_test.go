package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fanpay/internal/logger"
	"fanpay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubAdminStore struct {
	isAdmin bool
	isSuper bool
	roles   map[string]bool
	err     error
	roleErr error

	roleChecks []string
}

func (s *stubAdminStore) IsAdmin(_ context.Context, _ string) (bool, bool, error) {
	return s.isAdmin, s.isSuper, s.err
}

func (s *stubAdminStore) HasRole(_ context.Context, _ string, role string) (bool, error) {
	s.roleChecks = append(s.roleChecks, role)
	return s.roles[role], s.roleErr
}

func serveAdmin(t *testing.T, admins *stubAdminStore, role, userID string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := RequireAdmin(admins, role)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	if userID != "" {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, reached
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["error"]
}

func TestRequireAdminRejects(t *testing.T) {
	tests := []struct {
		name    string
		admins  *stubAdminStore
		role    string
		userID  string
		status  int
		message string
	}{
		{
			name:    "no authenticated user",
			admins:  &stubAdminStore{isAdmin: true, isSuper: true},
			role:    store.RoleLedgerAuditor,
			status:  http.StatusUnauthorized,
			message: "unauthorized",
		},
		{
			name:    "not an admin",
			admins:  &stubAdminStore{},
			role:    store.RoleLedgerAuditor,
			userID:  "user-1",
			status:  http.StatusForbidden,
			message: "admin privileges required",
		},
		{
			name:    "auditor on the sweep route",
			admins:  &stubAdminStore{isAdmin: true, roles: map[string]bool{store.RoleLedgerAuditor: true}},
			role:    store.RoleEscrowOperator,
			userID:  "user-1",
			status:  http.StatusForbidden,
			message: "missing required role",
		},
		{
			name:    "operator on the ledger routes",
			admins:  &stubAdminStore{isAdmin: true, roles: map[string]bool{store.RoleEscrowOperator: true}},
			role:    store.RoleLedgerAuditor,
			userID:  "user-1",
			status:  http.StatusForbidden,
			message: "missing required role",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, reached := serveAdmin(t, tt.admins, tt.role, tt.userID)
			assert.False(t, reached)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.message, errorMessage(t, rr))
		})
	}
}

func TestRequireAdminGrantsRole(t *testing.T) {
	for _, role := range []string{store.RoleLedgerAuditor, store.RoleEscrowOperator} {
		admins := &stubAdminStore{isAdmin: true, roles: map[string]bool{role: true}}
		rr, reached := serveAdmin(t, admins, role, "user-1")
		assert.True(t, reached, role)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, []string{role}, admins.roleChecks)
	}
}

func TestRequireAdminSuperAdminHoldsEveryRole(t *testing.T) {
	for _, role := range []string{store.RoleLedgerAuditor, store.RoleEscrowOperator, ""} {
		admins := &stubAdminStore{isAdmin: true, isSuper: true}
		rr, reached := serveAdmin(t, admins, role, "root-admin")
		assert.True(t, reached, role)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, admins.roleChecks, "super admins skip the role lookup")
	}
}

func TestRequireAdminAnyAdminWithoutRole(t *testing.T) {
	admins := &stubAdminStore{isAdmin: true}
	rr, reached := serveAdmin(t, admins, "", "user-1")
	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, admins.roleChecks)
}

func TestRequireAdminLookupFailures(t *testing.T) {
	tests := []struct {
		name    string
		admins  *stubAdminStore
		message string
		logged  string
	}{
		{
			name:    "admin lookup",
			admins:  &stubAdminStore{err: errors.New("connection refused")},
			message: "unable to verify admin",
			logged:  "admin lookup failed",
		},
		{
			name:    "role lookup",
			admins:  &stubAdminStore{isAdmin: true, roleErr: errors.New("connection refused")},
			message: "unable to verify role",
			logged:  "admin role lookup failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			previous := logger.Log
			logger.Log = zap.New(core).Sugar()
			t.Cleanup(func() { logger.Log = previous })

			rr, reached := serveAdmin(t, tt.admins, store.RoleLedgerAuditor, "user-1")
			assert.False(t, reached)
			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, tt.message, errorMessage(t, rr))

			entries := logs.FilterMessage(tt.logged).All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, "user-1", fields["user_id"])
			assert.Equal(t, "connection refused", fields["error"])
		})
	}
}
