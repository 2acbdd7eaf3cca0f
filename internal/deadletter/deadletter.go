// Package deadletter records gateway batches the relay gave up on. Sinks are
// observational: nothing read back from them is ever re-delivered.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/austindbirch/capi_relay/internal/transform"
)

const DeadLetterType = "capirelay.dead_letter"

// Reasons a batch or event ends up in a sink.
const (
	ReasonNonRetryable = "non_retryable"
	ReasonOverflow     = "overflow"
)

type DeadLetter struct {
	Type         string            `json:"type"`    // "capirelay.dead_letter"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the batch was dropped
	Reason       string            `json:"reason"`
	BatchID      string            `json:"batch_id,omitempty"`
	DatasetID    string            `json:"dataset_id,omitempty"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Events       []transform.Event `json:"events"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewDeadLetter(batchID, datasetID string, events []transform.Event, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DeadLetterType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		BatchID:    batchID,
		DatasetID:  datasetID,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Events:     events,
	}
}

// Sink receives dropped batches. Record may block on I/O and is never called
// from the relay's serial context.
type Sink interface {
	Record(ctx context.Context, dl DeadLetter) error
}

// Multi fans a dead letter out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, dl DeadLetter) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
