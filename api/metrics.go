package api

import (
	"net/http"
	"time"

	"github.com/paybridge/paybridge/id"
	"github.com/paybridge/paybridge/stats"
)

// windowResponse augments a metric window with its derived success rate.
type windowResponse struct {
	*stats.Window
	SuccessRate float64 `json:"success_rate"`
}

// listMetrics returns the hourly delivery metric windows for a subscription.
func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := stats.ListOpts{
		Offset:         queryInt(r, "offset", 0),
		Limit:          queryInt(r, "limit", 50),
		SubscriptionID: &subID,
	}
	if s := queryParam(r, "from"); s != "" {
		from, parseErr := time.Parse(time.RFC3339, s)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
			return
		}
		opts.From = &from
	}
	if s := queryParam(r, "to"); s != "" {
		to, parseErr := time.Parse(time.RFC3339, s)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
			return
		}
		opts.To = &to
	}

	windows, listErr := h.bridge.Store().ListWindows(r.Context(), opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	out := make([]windowResponse, 0, len(windows))
	for _, win := range windows {
		out = append(out, windowResponse{Window: win, SuccessRate: win.SuccessRate()})
	}
	writeJSON(w, http.StatusOK, out)
}
