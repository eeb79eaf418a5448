package handlers

import (
	"net/http"

	"fanpay/internal/websocket"
)

// ServeWS streams balance and notification pushes for the authenticated user.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(w, r, websocket.Upgrader(h.cfg.Origins()), h.hub, userID)
}
