package source

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/tracing"
)

// MaxBodyBytes limits one ingest request.
const MaxBodyBytes = 1 << 20

// HTTPHandler serves POST /v1/events.
type HTTPHandler struct {
	rec    Recorder
	logger *logging.Logger
}

func NewHTTPHandler(rec Recorder, logger *logging.Logger) *HTTPHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPHandler{rec: rec, logger: logger}
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, ingestResponse{Error: "method not allowed"})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := tracing.StartSpan(ctx, "source.http")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ingestResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "read body failed"})
		return
	}

	events, err := DecodeEvents(body)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		h.logger.WithContext(ctx).WithSource("http").WithError(err).Warn("rejected ingest payload")
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		return
	}

	for _, raw := range events {
		metrics.RecordEventReceived("http")
		h.rec.RecordEvent(raw)
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	h.logger.WithContext(ctx).WithSource("http").WithField("events", len(events)).Debug("events accepted")

	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(events)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
