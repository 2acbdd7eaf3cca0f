// Package transform maps raw client app event parameters onto the
// Conversions API gateway schema.
package transform

import (
	"encoding/json"
	"maps"
	"strings"
)

// RawEvent is the untyped parameter map supplied by the host application.
type RawEvent map[string]any

// Event is one event in gateway schema.
type Event struct {
	ActionSource string         `json:"action_source"`
	EventName    string         `json:"event_name"`
	EventTime    *int64         `json:"event_time,omitempty"`
	UserData     map[string]any `json:"user_data"`
	AppData      map[string]any `json:"app_data"`
	CustomData   map[string]any `json:"custom_data,omitempty"`

	DataProcessingOptions        any    `json:"data_processing_options,omitempty"`
	DataProcessingOptionsCountry *int64 `json:"data_processing_options_country,omitempty"`
	DataProcessingOptionsState   *int64 `json:"data_processing_options_state,omitempty"`
}

// Options tune behavior that gateway consumers may depend on.
type Options struct {
	// PassThroughUnmappedNames emits the raw name for recognized standard
	// events that have no gateway equivalent instead of an empty name.
	PassThroughUnmappedNames bool
}

// Transformer is stateless; one value can be shared between goroutines.
type Transformer struct {
	opts Options
}

// New returns a Transformer configured with opts.
func New(opts Options) *Transformer {
	return &Transformer{opts: opts}
}

var defaultTransformer = New(Options{})

// Transform converts raw with default options.
func Transform(raw RawEvent) []Event {
	return defaultTransformer.Transform(raw)
}

// Transform returns the gateway events for raw, or nil when raw does not
// describe an event the gateway accepts.
func (t *Transformer) Transform(raw RawEvent) []Event {
	if raw == nil {
		return nil
	}
	kind, _ := raw[FieldEvent].(string)
	switch Kind(kind) {
	case KindCustomAppEvents:
		return t.customEvents(raw)
	case KindMobileAppInstall:
		return t.installEvent(raw)
	case KindOther:
		// recognised by the SDK but never relayed
		return nil
	default:
		return nil
	}
}

func (t *Transformer) installEvent(raw RawEvent) []Event {
	ts, ok := raw[FieldInstallTimestamp]
	if !ok || ts == nil {
		return nil
	}
	eventTime, ok := coerceInt(ts)
	if !ok {
		return nil
	}

	ev := commonFields(raw)
	ev.EventName = EventNameAppInstall
	ev.EventTime = &eventTime
	return []Event{ev}
}

func (t *Transformer) customEvents(raw RawEvent) []Event {
	subEvents := parseCustomEvents(raw[FieldCustomEvents])
	if len(subEvents) == 0 {
		return nil
	}

	common := commonFields(raw)
	events := make([]Event, 0, len(subEvents))
	for _, sub := range subEvents {
		ev := common
		ev.UserData = maps.Clone(common.UserData)
		ev.AppData = maps.Clone(common.AppData)
		t.applyCustomEvent(&ev, sub)
		events = append(events, ev)
	}
	return events
}

func (t *Transformer) applyCustomEvent(ev *Event, sub map[string]any) {
	custom := make(map[string]any)
	for key, value := range sub {
		switch CustomEventField(key) {
		case FieldEventName:
			name, _ := value.(string)
			ev.EventName = t.eventName(name)
			continue
		case FieldEventTime:
			if i, ok := coerceInt(value); ok {
				ev.EventTime = &i
			}
			continue
		}

		if mapped, ok := customDataKeys[CustomEventField(key)]; ok {
			if v, keep := coerce(key, value); keep {
				custom[mapped] = v
			}
			continue
		}
		// Remaining underscore keys are client bookkeeping, everything else
		// is an app defined parameter.
		if strings.HasPrefix(key, customEventKeyPrefix) {
			continue
		}
		custom[key] = value
	}
	if len(custom) > 0 {
		ev.CustomData = custom
	}
}

func (t *Transformer) eventName(name string) string {
	mapped, known := standardEventNames[name]
	if !known {
		return name
	}
	if mapped == "" && t.opts.PassThroughUnmappedNames {
		return name
	}
	return mapped
}

// commonFields builds the fields shared by every event produced from raw.
func commonFields(raw RawEvent) Event {
	ev := Event{
		ActionSource: ActionSourceApp,
		UserData:     make(map[string]any),
		AppData:      make(map[string]any),
	}

	for _, r := range userAppRoutes {
		value, ok := raw[string(r.field)]
		if !ok || value == nil {
			continue
		}
		v, keep := coerce(string(r.field), value)
		if !keep {
			continue
		}
		switch r.section {
		case SectionUserData:
			ev.UserData[r.key] = v
		case SectionAppData:
			ev.AppData[r.key] = v
		}
	}
	for k, v := range parseUserData(raw[string(FieldUserData)]) {
		ev.UserData[k] = v
	}

	if v, ok := raw[string(FieldDataProcessingOptions)]; ok && v != nil {
		ev.DataProcessingOptions = coerceArray(v)
	}
	if v, ok := raw[string(FieldDataProcessingOptionsCountry)]; ok {
		if i, ok := coerceInt(v); ok {
			ev.DataProcessingOptionsCountry = &i
		}
	}
	if v, ok := raw[string(FieldDataProcessingOptionsState)]; ok {
		if i, ok := coerceInt(v); ok {
			ev.DataProcessingOptionsState = &i
		}
	}
	return ev
}

// parseUserData accepts the "ud" payload either as a JSON encoded object or
// as an already decoded map.
func parseUserData(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case string:
		var ud map[string]any
		if err := json.Unmarshal([]byte(v), &ud); err != nil {
			return nil
		}
		return ud
	default:
		return nil
	}
}

// parseCustomEvents decodes the JSON array of custom sub-events. Elements
// that are not objects are skipped.
func parseCustomEvents(value any) []map[string]any {
	var items []any
	switch v := value.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return nil
		}
	case []any:
		items = v
	case []map[string]any:
		return v
	default:
		return nil
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
