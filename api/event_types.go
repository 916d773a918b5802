package api

import (
	"net/http"
)

// listEventTypes returns the canonical event types subscriptions can select.
func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bridge.Catalog().List())
}
