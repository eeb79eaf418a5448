package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fanpay/internal/kvstore"
	"fanpay/internal/logger"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyPending = "pending"
	maxIdempotencyKey  = 255
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response when a client repeats a request
// with the same Idempotency-Key. Keys are scoped to the caller, so it must
// run after Auth. Requests without the header pass through untouched.
// Server errors are not stored and the client may retry them.
func Idempotency(store kvstore.Store, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			userID, _ := UserIDFromContext(r.Context())
			storeKey := "fanpay:idem:" + userID + ":" + r.Method + ":" + r.URL.Path + ":" + key

			acquired, err := store.SetNX(r.Context(), storeKey, idempotencyPending, ttl)
			if err != nil {
				logger.Log.Errorw("idempotency store unavailable", "error", err)
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if !acquired {
				replay(w, r, store, storeKey)
				return
			}

			// A panicking handler leaves no response to store.
			finished := false
			defer func() {
				if finished {
					return
				}
				if err := store.Delete(context.WithoutCancel(r.Context()), storeKey); err != nil {
					logger.Log.Warnw("idempotency key release failed", "key", key, "error", err)
				}
			}()

			rec := &bufferedWriter{header: http.Header{}, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			finished = true

			ctx := r.Context()
			if rec.status >= http.StatusInternalServerError {
				if err := store.Delete(ctx, storeKey); err != nil {
					logger.Log.Warnw("idempotency key release failed", "key", key, "error", err)
				}
			} else {
				encoded, err := json.Marshal(storedResponse{
					Status:      rec.status,
					ContentType: rec.header.Get("Content-Type"),
					Body:        rec.body.Bytes(),
				})
				if err == nil {
					err = store.Set(ctx, storeKey, string(encoded), ttl)
				}
				if err != nil {
					logger.Log.Warnw("idempotency response store failed", "key", key, "error", err)
				}
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, store kvstore.Store, storeKey string) {
	value, err := store.Get(r.Context(), storeKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		writeError(w, http.StatusConflict, "request with this idempotency key is being retried, try again")
		return
	}
	if err != nil {
		logger.Log.Errorw("idempotency store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
		return
	}
	if value == idempotencyPending {
		writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		logger.Log.Errorw("idempotency record corrupt", "error", err)
		writeError(w, http.StatusInternalServerError, "idempotency record corrupt")
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// bufferedWriter holds the response until it has been stored.
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
