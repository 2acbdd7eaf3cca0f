package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/capi_relay/internal/gateway"
)

// GatewayService is the gRPC health service name that tracks whether the
// gateway is enabled. The empty service name tracks the process.
const GatewayService = "capirelay.Gateway"

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type GatewayStater interface {
	State() gateway.State
}

type QueueLener interface {
	Len() int
}

// Checks are the dependencies reported by the health endpoints. Nil fields
// are skipped.
type Checks struct {
	DB      Pinger
	Gateway GatewayStater
	Queue   QueueLener
}

type Status struct {
	OK         bool           `json:"ok"`
	Message    string         `json:"message,omitempty"`
	Database   *bool          `json:"database,omitempty"`
	Gateway    *gateway.State `json:"gateway,omitempty"`
	QueueDepth int            `json:"queue_depth"`
}

// Check builds the current Status. Only the database affects OK: a disabled
// gateway is a valid configuration, not an outage.
func (c Checks) Check(ctx context.Context) Status {
	st := Status{OK: true, Message: "ok"}

	if c.DB != nil {
		ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()
		dbOK := c.DB.Ping(ctx) == nil
		st.Database = &dbOK
		if !dbOK {
			st.OK = false
			st.Message = "db ping failed"
		}
	}
	if c.Gateway != nil {
		gs := c.Gateway.State()
		st.Gateway = &gs
	}
	if c.Queue != nil {
		st.QueueDepth = c.Queue.Len()
	}
	return st
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(c Checks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// SyncGRPC copies Checks into hs once.
func SyncGRPC(ctx context.Context, hs *grpc_health.Server, c Checks) {
	st := c.Check(ctx)

	overall := healthpb.HealthCheckResponse_SERVING
	if !st.OK {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", overall)

	gw := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Gateway != nil && st.Gateway.Enabled {
		gw = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(GatewayService, gw)
}

// WatchGRPC calls SyncGRPC every interval until ctx is done.
func WatchGRPC(ctx context.Context, hs *grpc_health.Server, c Checks, interval time.Duration) {
	SyncGRPC(ctx, hs, c)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			SyncGRPC(ctx, hs, c)
		}
	}
}
