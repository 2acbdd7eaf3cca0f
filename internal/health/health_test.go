package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/capi_relay/internal/gateway"
)

type mockPool struct {
	pingError error
}

func (m *mockPool) Ping(ctx context.Context) error {
	return m.pingError
}

type mockGateway struct {
	state gateway.State
}

func (m mockGateway) State() gateway.State { return m.state }

type mockQueue int

func (m mockQueue) Len() int { return int(m) }

func TestHTTPHandler(t *testing.T) {
	refreshed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name               string
		checks             Checks
		expectedStatusCode int
		expectedOK         bool
		expectedMessage    string
		expectDatabase     *bool
		expectGateway      bool
		expectedDepth      int
	}{
		{
			name:               "healthy with no dependencies",
			checks:             Checks{},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedMessage:    "ok",
		},
		{
			name:               "healthy with working database",
			checks:             Checks{DB: &mockPool{}},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedMessage:    "ok",
			expectDatabase:     boolPtr(true),
		},
		{
			name:               "unhealthy with database ping failure",
			checks:             Checks{DB: &mockPool{pingError: context.DeadlineExceeded}},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			expectedMessage:    "db ping failed",
			expectDatabase:     boolPtr(false),
		},
		{
			name: "gateway state and queue depth",
			checks: Checks{
				Gateway: mockGateway{state: gateway.State{Enabled: true, HasCredentials: true, LastRefresh: refreshed}},
				Queue:   mockQueue(42),
			},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedMessage:    "ok",
			expectGateway:      true,
			expectedDepth:      42,
		},
		{
			name: "disabled gateway is still healthy",
			checks: Checks{
				Gateway: mockGateway{},
			},
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			expectedMessage:    "ok",
			expectGateway:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			HTTPHandler(tt.checks)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var st Status
			if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if st.OK != tt.expectedOK || st.Message != tt.expectedMessage {
				t.Errorf("ok=%v message=%q, want %v %q", st.OK, st.Message, tt.expectedOK, tt.expectedMessage)
			}
			switch {
			case tt.expectDatabase == nil && st.Database != nil:
				t.Errorf("database = %v, want omitted", *st.Database)
			case tt.expectDatabase != nil && (st.Database == nil || *st.Database != *tt.expectDatabase):
				t.Errorf("database = %v, want %v", st.Database, *tt.expectDatabase)
			}
			if (st.Gateway != nil) != tt.expectGateway {
				t.Errorf("gateway present = %v, want %v", st.Gateway != nil, tt.expectGateway)
			}
			if st.QueueDepth != tt.expectedDepth {
				t.Errorf("queue_depth = %d, want %d", st.QueueDepth, tt.expectedDepth)
			}
		})
	}
}

func TestHTTPHandler_GatewayJSON(t *testing.T) {
	refreshed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	checks := Checks{Gateway: mockGateway{state: gateway.State{Enabled: true, HasCredentials: true, LastRefresh: refreshed}}}

	w := httptest.NewRecorder()
	HTTPHandler(checks)(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	gw, _ := body["gateway"].(map[string]any)
	if gw["enabled"] != true || gw["has_credentials"] != true || gw["last_refresh"] != "2026-10-01T12:00:00Z" {
		t.Errorf("gateway = %v", gw)
	}
}

func TestSyncGRPC(t *testing.T) {
	tests := []struct {
		name        string
		checks      Checks
		wantOverall healthpb.HealthCheckResponse_ServingStatus
		wantGateway healthpb.HealthCheckResponse_ServingStatus
	}{
		{
			name:        "gateway enabled",
			checks:      Checks{Gateway: mockGateway{state: gateway.State{Enabled: true}}},
			wantOverall: healthpb.HealthCheckResponse_SERVING,
			wantGateway: healthpb.HealthCheckResponse_SERVING,
		},
		{
			name:        "gateway disabled",
			checks:      Checks{Gateway: mockGateway{}},
			wantOverall: healthpb.HealthCheckResponse_SERVING,
			wantGateway: healthpb.HealthCheckResponse_NOT_SERVING,
		},
		{
			name:        "database down",
			checks:      Checks{DB: &mockPool{pingError: errors.New("refused")}},
			wantOverall: healthpb.HealthCheckResponse_NOT_SERVING,
			wantGateway: healthpb.HealthCheckResponse_NOT_SERVING,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := grpc_health.NewServer()
			SyncGRPC(context.Background(), hs, tt.checks)

			for service, want := range map[string]healthpb.HealthCheckResponse_ServingStatus{
				"":             tt.wantOverall,
				GatewayService: tt.wantGateway,
			} {
				resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
				if err != nil {
					t.Fatalf("Check(%q) error = %v", service, err)
				}
				if resp.GetStatus() != want {
					t.Errorf("Check(%q) = %v, want %v", service, resp.GetStatus(), want)
				}
			}
		})
	}
}

func TestWatchGRPC_StopsOnCancel(t *testing.T) {
	hs := grpc_health.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchGRPC(ctx, hs, Checks{}, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchGRPC did not return after cancel")
	}
}

func boolPtr(b bool) *bool { return &b }
