package handlers

import (
	"database/sql"
	"errors"
	"net/http"
)

func (h *Handler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	profile, err := h.users.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
