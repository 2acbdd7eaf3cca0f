package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"syscall"
	"testing"
)

func TestHTTPTransport_Get(t *testing.T) {
	var gotPath, gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.UserAgent()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	tr := New(srv.URL+"/v17.0/", "17.0.0", 0)
	resp, err := tr.Get(context.Background(), "1234/cloudbridge_settings", url.Values{"fields": {"endpoint"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("Get() status = %d, want 2xx", resp.StatusCode)
	}
	if string(resp.Body) != `{"data":[]}` {
		t.Errorf("Get() body = %s", resp.Body)
	}
	if gotPath != "/v17.0/1234/cloudbridge_settings" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "fields=endpoint" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotUA != "capi-relay/17.0.0" {
		t.Errorf("user agent = %q", gotUA)
	}
}

func TestHTTPTransport_PostJSON(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantOK     bool
	}{
		{name: "accepted", statusCode: http.StatusOK, wantOK: true},
		{name: "service unavailable", statusCode: http.StatusServiceUnavailable, wantOK: false},
		{name: "not found", statusCode: http.StatusNotFound, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody, gotCT, gotCookie string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				gotCT = r.Header.Get("Content-Type")
				gotCookie = r.Header.Get("Cookie")
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "x"})
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			tr := New(srv.URL, "", 0)
			for i := 0; i < 2; i++ {
				resp, err := tr.PostJSON(context.Background(), srv.URL+"/capi/ds/events", []byte(`{"data":[]}`))
				if err != nil {
					t.Fatalf("PostJSON() error = %v", err)
				}
				if resp.OK() != tt.wantOK {
					t.Errorf("PostJSON() OK = %v, want %v", resp.OK(), tt.wantOK)
				}
			}
			if gotBody != `{"data":[]}` {
				t.Errorf("body = %q", gotBody)
			}
			if gotCT != "application/json" {
				t.Errorf("Content-Type = %q", gotCT)
			}
			if gotCookie != "" {
				t.Errorf("cookie replayed: %q", gotCookie)
			}
		})
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	tr := New(addr, "", 0)
	_, err := tr.PostJSON(context.Background(), addr+"/capi/ds/events", []byte(`{}`))
	if err == nil {
		t.Fatal("PostJSON() to closed server should fail")
	}
	if got := ErrorStatus(err); got != StatusCannotConnectToHost {
		t.Errorf("ErrorStatus() = %d, want %d (err=%v)", got, StatusCannotConnectToHost, err)
	}
}

func TestHTTPTransport_TruncatedBodyKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok"`))
	}))
	defer srv.Close()

	tr := New(srv.URL, "", 0)
	resp, err := tr.PostJSON(context.Background(), srv.URL+"/capi/ds/events", []byte(`{}`))
	if err == nil {
		t.Fatal("PostJSON() should report the short body")
	}
	if !resp.OK() {
		t.Errorf("resp = %+v, want the 200 status kept alongside the error", resp)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "deadline", err: context.DeadlineExceeded, want: StatusTimedOut},
		{name: "reset", err: &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, want: StatusNetworkConnectionLost},
		{name: "eof", err: fmt.Errorf("post: %w", io.EOF), want: StatusNetworkConnectionLost},
		{name: "refused", err: &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, want: StatusCannotConnectToHost},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "gateway.invalid"}, want: StatusCannotConnectToHost},
		{name: "message only", err: errors.New("write: broken pipe"), want: StatusNetworkConnectionLost},
		{name: "unknown", err: errors.New("tls: bad certificate"), want: StatusUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorStatus(tt.err); got != tt.want {
				t.Errorf("ErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{name: "timeout", err: context.DeadlineExceeded, want: "timeout"},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: "host_unreachable"},
		{name: "generic network", err: errors.New("tls: bad certificate"), want: "network"},
		{name: "rate limited", status: 429, want: "http_429"},
		{name: "server error", status: 503, want: "http_5xx"},
		{name: "client error", status: 404, want: "http_4xx"},
		{name: "redirect", status: 302, want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.err, tt.status); got != tt.want {
				t.Errorf("Reason(%v, %d) = %q, want %q", tt.err, tt.status, got, tt.want)
			}
		})
	}
}
