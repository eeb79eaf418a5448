package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"fanpay/internal/db"
	"fanpay/internal/logger"
	"fanpay/internal/middleware"
	"fanpay/internal/money"
	"fanpay/internal/services"
	"fanpay/internal/validator"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 20
	maxBodyBytes     = 1 << 20
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service error class to a status code. Persistence
// and unclassified failures are logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrLimitExceeded):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case db.IsUniqueViolation(err):
		respondError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, services.ErrPersistence):
		logger.Log.Errorw("unit of work failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry the request")
	default:
		logger.Log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := validator.ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return id, true
}

// decodeJSON reads a bounded request body into dest and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// pageParams reads page and limit. Range checks belong to the services.
func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()
	return parseInt(query.Get("page"), 1), parseInt(query.Get("limit"), defaultPageLimit)
}

// amount accepts a JSON number or string. Decoding keeps the literal so
// money.ParsePositive sees exactly what the client sent.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*a = amount(n.String())
	return nil
}

// decimal parses the amount as a positive whole number of won. Failures
// carry services.ErrInvalidAmount so they map like a service rejection.
func (a amount) decimal() (decimal.Decimal, error) {
	parsed, err := money.ParsePositive(string(a))
	if err != nil {
		return decimal.Zero, services.ErrInvalidAmount
	}
	return parsed, nil
}
