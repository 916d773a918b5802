package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
)

type sendTestRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// sendTest queues a synthetic delivery so owners can verify their endpoint.
func (h *Handler) sendTest(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req sendTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	evt, sendErr := h.bridge.SendTest(r.Context(), subID, req.EventType, req.Payload)
	if sendErr != nil {
		switch {
		case errors.Is(sendErr, paybridge.ErrSubscriptionNotFound):
			writeError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(sendErr, paybridge.ErrUnknownEventType):
			writeError(w, http.StatusBadRequest, sendErr.Error())
		default:
			writeError(w, http.StatusBadRequest, sendErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "queued",
		"event_id": evt.ID.String(),
	})
}
