package api

import (
	"errors"
	"net/http"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/ingest"
	"github.com/paybridge/paybridge/provider"
)

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := ingest.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if p := queryParam(r, "provider"); p != "" {
		opts.Provider = provider.Name(p)
	}
	if s := queryParam(r, "status"); s != "" {
		status := ingest.ProcessingStatus(s)
		opts.Status = &status
	}

	events, err := h.bridge.Store().ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.bridge.Store().GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, paybridge.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	if replayErr := h.bridge.ReplayEvent(r.Context(), evtID); replayErr != nil {
		switch {
		case errors.Is(replayErr, paybridge.ErrEventNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(replayErr, paybridge.ErrInvalidTransition):
			writeError(w, http.StatusConflict, replayErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, replayErr.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
