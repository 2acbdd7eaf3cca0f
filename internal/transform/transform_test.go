package transform

import (
	"encoding/json"
	"reflect"
	"testing"
)

func int64p(i int64) *int64 { return &i }

func TestTransform_Discriminator(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{name: "nil raw event", raw: nil},
		{name: "missing discriminator", raw: RawEvent{"anon_id": "a"}},
		{name: "other discriminator", raw: RawEvent{"event": string(KindOther), "custom_events": `[{"_eventName":"x"}]`}},
		{name: "unknown discriminator", raw: RawEvent{"event": "SOMETHING", "install_timestamp": 1}},
		{name: "non string discriminator", raw: RawEvent{"event": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transform(tt.raw); got != nil {
				t.Errorf("Transform() = %+v, want nil", got)
			}
		})
	}
}

func TestTransform_PurchaseExample(t *testing.T) {
	raw := RawEvent{
		"event":         "CUSTOM_APP_EVENTS",
		"custom_events": `[{"_eventName":"fb_mobile_purchase","_valueToSum":9.99}]`,
	}

	got := Transform(raw)
	if len(got) != 1 {
		t.Fatalf("Transform() returned %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.EventName != "Purchase" {
		t.Errorf("EventName = %q, want %q", ev.EventName, "Purchase")
	}
	if ev.ActionSource != "app" {
		t.Errorf("ActionSource = %q, want %q", ev.ActionSource, "app")
	}
	want := map[string]any{"value": 9.99}
	if !reflect.DeepEqual(ev.CustomData, want) {
		t.Errorf("CustomData = %v, want %v", ev.CustomData, want)
	}
}

func TestTransform_CustomEvents(t *testing.T) {
	raw := RawEvent{
		"event":                        "CUSTOM_APP_EVENTS",
		"anon_id":                      "XZ123",
		"app_user_id":                  "user-1",
		"advertiser_id":                "ABCD-EF",
		"advertiser_tracking_enabled":  "1",
		"application_tracking_enabled": "0",
		"extinfo":                      `["i2","com.example.app"]`,
		"url_schemes":                  `not json`,
	}
	raw["ud"] = `{"em":"hashed@example.com","madid":"override"}`
	raw["data_processing_options"] = `["LDU"]`
	raw["data_processing_options_country"] = "1"
	raw["data_processing_options_state"] = "bogus"
	raw["custom_events"] = `[
		{"_eventName":"fb_mobile_add_to_cart","_logTime":1700000000,"fb_currency":"USD","fb_content_id":"[\"sku-1\"]","_implicitlyLogged":"0","color":"red"},
		{"_eventName":"level_cleared","_logTime":"1700000100","fb_level":"7","fb_success":"1"},
		"not an object"
	]`

	got := Transform(raw)
	if len(got) != 2 {
		t.Fatalf("Transform() returned %d events, want 2", len(got))
	}

	wantUser := map[string]any{
		"anon_id":     "XZ123",
		"fb_login_id": "user-1",
		"madid":       "override",
		"em":          "hashed@example.com",
	}
	wantApp := map[string]any{
		"advertiser_tracking_enabled":  true,
		"application_tracking_enabled": false,
		"extinfo":                      []any{"i2", "com.example.app"},
		"url_schemes":                  "not json",
	}
	for i, ev := range got {
		if ev.ActionSource != ActionSourceApp {
			t.Errorf("event %d ActionSource = %q", i, ev.ActionSource)
		}
		if !reflect.DeepEqual(ev.UserData, wantUser) {
			t.Errorf("event %d UserData = %v, want %v", i, ev.UserData, wantUser)
		}
		if !reflect.DeepEqual(ev.AppData, wantApp) {
			t.Errorf("event %d AppData = %v, want %v", i, ev.AppData, wantApp)
		}
		if !reflect.DeepEqual(ev.DataProcessingOptions, []any{"LDU"}) {
			t.Errorf("event %d DataProcessingOptions = %v", i, ev.DataProcessingOptions)
		}
		if ev.DataProcessingOptionsCountry == nil || *ev.DataProcessingOptionsCountry != 1 {
			t.Errorf("event %d DataProcessingOptionsCountry = %v, want 1", i, ev.DataProcessingOptionsCountry)
		}
		if ev.DataProcessingOptionsState != nil {
			t.Errorf("event %d DataProcessingOptionsState = %v, want omitted", i, *ev.DataProcessingOptionsState)
		}
	}

	first := got[0]
	if first.EventName != "AddToCart" {
		t.Errorf("first EventName = %q, want AddToCart", first.EventName)
	}
	if first.EventTime == nil || *first.EventTime != 1700000000 {
		t.Errorf("first EventTime = %v, want 1700000000", first.EventTime)
	}
	wantCustom := map[string]any{
		"currency":    "USD",
		"content_ids": []any{"sku-1"},
		"color":       "red",
	}
	if !reflect.DeepEqual(first.CustomData, wantCustom) {
		t.Errorf("first CustomData = %v, want %v", first.CustomData, wantCustom)
	}

	second := got[1]
	if second.EventName != "level_cleared" {
		t.Errorf("second EventName = %q, want raw custom name", second.EventName)
	}
	if second.EventTime == nil || *second.EventTime != 1700000100 {
		t.Errorf("second EventTime = %v, want 1700000100", second.EventTime)
	}
	wantCustom = map[string]any{"level": "7", "success": true}
	if !reflect.DeepEqual(second.CustomData, wantCustom) {
		t.Errorf("second CustomData = %v, want %v", second.CustomData, wantCustom)
	}
}

func TestTransform_CustomEventsCount(t *testing.T) {
	for n := 1; n <= 12; n++ {
		subs := make([]map[string]any, n)
		for i := range subs {
			subs[i] = map[string]any{"_eventName": "fb_mobile_search", "_logTime": 1700000000 + i}
		}
		encoded, err := json.Marshal(subs)
		if err != nil {
			t.Fatalf("marshal sub-events: %v", err)
		}
		raw := RawEvent{"event": "CUSTOM_APP_EVENTS", "custom_events": string(encoded), "page_id": "p1"}

		got := Transform(raw)
		if len(got) != n {
			t.Fatalf("Transform() with %d sub-events returned %d", n, len(got))
		}
		for i, ev := range got {
			if ev.EventName != "Search" {
				t.Errorf("event %d EventName = %q", i, ev.EventName)
			}
			if ev.UserData["page_id"] != "p1" {
				t.Errorf("event %d UserData = %v", i, ev.UserData)
			}
			if *ev.EventTime != int64(1700000000+i) {
				t.Errorf("event %d out of order, EventTime = %d", i, *ev.EventTime)
			}
		}
	}
}

func TestTransform_CustomEventsEmpty(t *testing.T) {
	tests := []struct {
		name   string
		events any
	}{
		{name: "missing", events: nil},
		{name: "empty array", events: "[]"},
		{name: "malformed json", events: "[{"},
		{name: "not an array", events: `{"_eventName":"fb_mobile_purchase"}`},
		{name: "only non objects", events: `[1,"two"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawEvent{"event": "CUSTOM_APP_EVENTS", "anon_id": "a"}
			if tt.events != nil {
				raw["custom_events"] = tt.events
			}
			if got := Transform(raw); got != nil {
				t.Errorf("Transform() = %+v, want nil", got)
			}
		})
	}
}

func TestTransform_MobileAppInstall(t *testing.T) {
	tests := []struct {
		name     string
		raw      RawEvent
		wantNil  bool
		wantTime int64
	}{
		{
			name:     "numeric timestamp",
			raw:      RawEvent{"event": "MOBILE_APP_INSTALL", "install_timestamp": float64(1690000000), "advertiser_id": "ad"},
			wantTime: 1690000000,
		},
		{
			name:     "string timestamp",
			raw:      RawEvent{"event": "MOBILE_APP_INSTALL", "install_timestamp": "1690000001"},
			wantTime: 1690000001,
		},
		{
			name:    "missing timestamp",
			raw:     RawEvent{"event": "MOBILE_APP_INSTALL", "advertiser_id": "ad"},
			wantNil: true,
		},
		{
			name:    "unparseable timestamp",
			raw:     RawEvent{"event": "MOBILE_APP_INSTALL", "install_timestamp": "yesterday"},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.raw)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Transform() = %+v, want nil", got)
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("Transform() returned %d events, want 1", len(got))
			}
			ev := got[0]
			if ev.EventName != "MobileAppInstall" {
				t.Errorf("EventName = %q, want MobileAppInstall", ev.EventName)
			}
			if ev.ActionSource != "app" {
				t.Errorf("ActionSource = %q, want app", ev.ActionSource)
			}
			if ev.EventTime == nil || *ev.EventTime != tt.wantTime {
				t.Errorf("EventTime = %v, want %d", ev.EventTime, tt.wantTime)
			}
			if ev.CustomData != nil {
				t.Errorf("CustomData = %v, want nil", ev.CustomData)
			}
		})
	}
}

func TestTransform_UnmappedStandardName(t *testing.T) {
	raw := RawEvent{
		"event":         "CUSTOM_APP_EVENTS",
		"custom_events": `[{"_eventName":"fb_mobile_deactivate_app"}]`,
	}

	got := Transform(raw)
	if len(got) != 1 || got[0].EventName != "" {
		t.Fatalf("default Transform() = %+v, want one event with empty name", got)
	}

	got = New(Options{PassThroughUnmappedNames: true}).Transform(raw)
	if len(got) != 1 || got[0].EventName != "fb_mobile_deactivate_app" {
		t.Fatalf("pass-through Transform() = %+v, want raw name", got)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	raw := RawEvent{
		"event":         "CUSTOM_APP_EVENTS",
		"anon_id":       "a",
		"ud":            `{"ph":"123"}`,
		"custom_events": `[{"_eventName":"fb_mobile_rate","fb_max_rating_value":5,"stars":4}]`,
	}

	first, err := json.Marshal(Transform(raw))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(Transform(raw))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("Transform() not deterministic:\n%s\n%s", first, again)
		}
	}
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		ActionSource: ActionSourceApp,
		EventName:    "Purchase",
		EventTime:    int64p(1700000000),
		UserData:     map[string]any{},
		AppData:      map[string]any{},
		CustomData:   map[string]any{"value": 1.5},
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"action_source", "event_name", "event_time", "user_data", "app_data", "custom_data"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("encoded event missing %q: %s", key, b)
		}
	}
	for _, key := range []string{"data_processing_options", "data_processing_options_country", "data_processing_options_state"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("encoded event should omit %q: %s", key, b)
		}
	}
}
