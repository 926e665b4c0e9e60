package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// ServeHTTP accepts one JSON-RPC envelope per POST body. Notifications are
// acknowledged with 202 and no body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	correlationID := upstream.CorrelationIDFromContext(r.Context())
	if correlationID == "" {
		correlationID = r.Header.Get(common.CorrelationIDHeader)
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	w.Header().Set(common.CorrelationIDHeader, correlationID)

	ctx := upstream.WithCorrelationID(r.Context(), correlationID)
	ctx = h.withOverride(ctx, r.Header)

	out := h.HandleMessage(ctx, body)
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// withOverride attaches per-call credentials taken from the inbound headers.
func (h *Handler) withOverride(ctx context.Context, header http.Header) context.Context {
	var o upstream.Override
	if h.overrideHeader != "" {
		o.AuthValue = strings.TrimSpace(header.Get(h.overrideHeader))
	}
	if h.baseURLHeader != "" {
		o.BaseURL = strings.TrimSpace(header.Get(h.baseURLHeader))
	}
	if o.AuthValue == "" && o.BaseURL == "" {
		return ctx
	}
	return upstream.WithOverride(ctx, o)
}
