package api

import (
	"errors"
	"net/http"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/subscription"
)

type createSubscriptionRequest struct {
	Owner          string   `json:"owner"`
	URL            string   `json:"url"`
	Secret         string   `json:"secret,omitempty"`
	SelectedEvents []string `json:"selected_events"`
	RateLimit      int      `json:"rate_limit,omitempty"`
}

type updateSubscriptionRequest struct {
	URL            string   `json:"url"`
	SelectedEvents []string `json:"selected_events"`
	RateLimit      int      `json:"rate_limit,omitempty"`
}

// subscriptionResponse is the API view of a subscription. The signing secret
// is only ever returned on creation and rotation.
type subscriptionResponse struct {
	*subscription.Subscription
	Secret string `json:"secret,omitempty"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.bridge.Subscriptions().Create(r.Context(), subscription.Input{
		Owner:          req.Owner,
		URL:            req.URL,
		Secret:         req.Secret,
		SelectedEvents: req.SelectedEvents,
		RateLimit:      req.RateLimit,
	})
	if err != nil {
		var verr *subscription.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, subscriptionResponse{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Owner:  queryParam(r, "owner"),
	}

	subs, err := h.bridge.Subscriptions().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.bridge.Subscriptions().Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, paybridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req updateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, updateErr := h.bridge.Subscriptions().Update(r.Context(), subID, subscription.Input{
		URL:            req.URL,
		SelectedEvents: req.SelectedEvents,
		RateLimit:      req.RateLimit,
	})
	if updateErr != nil {
		if errors.Is(updateErr, paybridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		var verr *subscription.ValidationError
		if errors.As(updateErr, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.bridge.Subscriptions().Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, paybridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) disableSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if setErr := h.bridge.Subscriptions().SetActive(r.Context(), subID, active); setErr != nil {
		if errors.Is(setErr, paybridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	newSecret, rotateErr := h.bridge.Subscriptions().RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, paybridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}
