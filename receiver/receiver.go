// Package receiver exposes the public webhook intake endpoint that payment
// and KYC providers POST to.
package receiver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/provider"
)

// maxBodyBytes caps inbound webhook bodies. Provider payloads are small;
// anything larger is hostile.
const maxBodyBytes = 1 << 20

// Handler is the HTTP handler for provider webhook intake.
type Handler struct {
	bridge *paybridge.Bridge
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates the webhook intake handler.
func NewHandler(bridge *paybridge.Bridge, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		bridge: bridge,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /webhooks/{provider}", h.receive)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.panicRecovery(h.logging(h.mux)).ServeHTTP(w, r)
}

type receiveResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// receive accepts one provider webhook. Every outcome the provider can fix
// gets a 4xx; duplicates get a 200 so the provider stops retrying.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := provider.Name(r.PathValue("provider"))

	adapter, err := h.bridge.Providers().Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	signature := r.Header.Get(adapter.SignatureHeader())

	evt, err := h.bridge.Ingest(ctx, name, body, signature)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receiveResponse{Status: "received", EventID: evt.ID.String()})

	case errors.Is(err, paybridge.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, receiveResponse{Status: "duplicate", EventID: evt.ID.String()})

	case errors.Is(err, provider.ErrMissingSignature), errors.Is(err, provider.ErrInvalidSignature):
		h.logger.WarnContext(ctx, "rejected webhook signature", "provider", name)
		writeError(w, http.StatusUnauthorized, "invalid signature")

	case errors.Is(err, provider.ErrMalformedPayload), errors.Is(err, provider.ErrMissingEventID):
		writeError(w, http.StatusBadRequest, "malformed payload")

	default:
		h.logger.ErrorContext(ctx, "webhook ingestion failed", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
