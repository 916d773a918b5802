package api

import (
	"errors"
	"net/http"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/delivery"
	"github.com/paybridge/paybridge/id"
)

// listDeliveries returns the delivery log for a subscription.
func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.Status(s)
		opts.Status = &status
	}

	attempts, listErr := h.bridge.Store().ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}

// listEventDeliveries returns every attempt made for one event, across all
// subscriptions.
func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	attempts, listErr := h.bridge.Store().ListByEvent(r.Context(), evtID)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}

// retryDelivery manually re-enqueues a completed attempt.
func (h *Handler) retryDelivery(w http.ResponseWriter, r *http.Request) {
	attemptID, err := id.ParseAttemptID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return
	}

	next, retryErr := h.bridge.ReplayAttempt(r.Context(), attemptID)
	if retryErr != nil {
		switch {
		case errors.Is(retryErr, paybridge.ErrAttemptNotFound):
			writeError(w, http.StatusNotFound, "attempt not found")
		case errors.Is(retryErr, paybridge.ErrInvalidTransition),
			errors.Is(retryErr, paybridge.ErrAlreadyDelivered):
			writeError(w, http.StatusConflict, retryErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, retryErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, next)
}
