// Package source feeds raw app events into the relay from HTTP, NSQ and
// Kafka.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/austindbirch/capi_relay/internal/transform"
)

// Recorder is implemented by *relay.Relay.
type Recorder interface {
	RecordEvent(raw transform.RawEvent)
}

// ErrNoEvents is returned for an empty array or a null body.
var ErrNoEvents = errors.New("no events in payload")

// DecodeEvents accepts one raw event object or an array of them.
func DecodeEvents(body []byte) ([]transform.RawEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrNoEvents
	}

	if body[0] == '[' {
		var list []transform.RawEvent
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		out := list[:0]
		for _, raw := range list {
			if raw != nil {
				out = append(out, raw)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoEvents
		}
		return out, nil
	}

	var raw transform.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if raw == nil {
		return nil, ErrNoEvents
	}
	return []transform.RawEvent{raw}, nil
}

// Envelope is the message format on the NSQ topic. A message without a
// params key is treated as a bare raw event.
type Envelope struct {
	Params       transform.RawEvent `json:"params"`
	TraceHeaders map[string]string  `json:"trace_headers,omitempty"`
}

// DecodeEnvelope parses an NSQ message body.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Params != nil {
		return env, nil
	}

	var raw transform.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	delete(raw, "trace_headers")
	if len(raw) == 0 {
		return Envelope{}, ErrNoEvents
	}
	env.Params = raw
	return env, nil
}
