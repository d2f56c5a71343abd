package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-charter-sync/core"
)

type Ingester interface {
	Ingest(ctx context.Context, req core.InboundRequest) (IngestResult, error)
}

// HTTPHandler adapts a Gateway to net/http. Responses are small JSON bodies;
// the marketplace only inspects the status code.
type HTTPHandler struct {
	Ingester     Ingester
	Source       string
	MaxBodyBytes int64
	Observer     *core.Observer
}

func NewHTTPHandler(gateway *Gateway) *HTTPHandler {
	handler := &HTTPHandler{Ingester: gateway}
	if gateway != nil {
		handler.Source = gateway.Source
		handler.MaxBodyBytes = gateway.maxBodyBytes()
		handler.Observer = gateway.Observer
	}
	return handler
}

type httpResponse struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Error     string `json:"error,omitempty"`
	TextCode  string `json:"text_code,omitempty"`
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, httpResponse{Error: "method not allowed"})
		return
	}
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = core.DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, core.PayloadTooLargeError(limit))
			return
		}
		h.writeError(w, r, core.BadInputError("webhook body could not be read", nil))
		return
	}

	result, err := h.Ingester.Ingest(r.Context(), core.InboundRequest{
		Source:  h.Source,
		Headers: flattenHeaders(r.Header),
		Body:    body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, httpResponse{Accepted: true, Duplicate: result.Duplicate, EventID: result.EventID})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	classified := core.ClassifyError(err)
	status := classified.Code
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	response := httpResponse{TextCode: classified.TextCode, Error: http.StatusText(status)}
	if status < http.StatusInternalServerError {
		response.Error = classified.Message
	} else {
		h.Observer.Error(r.Context(), "webhook ingest failed", map[string]any{
			"error":      err.Error(),
			"error_code": classified.TextCode,
		})
	}
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, body httpResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		out[key] = strings.Join(values, ",")
	}
	return out
}
