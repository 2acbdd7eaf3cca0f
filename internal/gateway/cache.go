// Package gateway caches the CAPI gateway settings of the host application.
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/capi_relay/internal/executor"
	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/settings"
	"github.com/austindbirch/capi_relay/internal/tracing"
	"github.com/austindbirch/capi_relay/internal/transport"
)

// ConfigTTL is how long a fetched configuration stays fresh.
const ConfigTTL = 86400 * time.Second

const settingsPath = "cloudbridge_settings"

// State is a point in time view of the cache for health reporting.
type State struct {
	Enabled        bool      `json:"enabled"`
	HasCredentials bool      `json:"has_credentials"`
	LastRefresh    time.Time `json:"last_refresh,omitzero"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithExecutor sets the serial context. The default is a new executor.Serial.
func WithExecutor(e executor.Executor) Option {
	return func(c *Cache) { c.exec = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides ConfigTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache holds gateway enablement and credentials. All fields below exec are
// only touched from inside the executor.
type Cache struct {
	transport transport.Transport
	settings  settings.Provider
	exec      executor.Executor
	now       func() time.Time
	ttl       time.Duration
	logger    *logging.Logger

	enabled     bool
	lastRefresh time.Time
	refreshing  bool
	pending     []func(bool)

	creds       atomic.Pointer[Credentials]
	stateEnable atomic.Bool
	stateAt     atomic.Int64
}

// NewCache builds a Cache in the disabled, never refreshed state.
func NewCache(t transport.Transport, s settings.Provider, opts ...Option) *Cache {
	c := &Cache{
		transport: t,
		settings:  s,
		now:       time.Now,
		ttl:       ConfigTTL,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.exec = executor.NewSerial()
	}
	return c
}

// IsGatewayEnabled reports through completion whether events may be sent to
// the gateway. completion may run before IsGatewayEnabled returns or later
// from the cache's executor; it always runs exactly once.
func (c *Cache) IsGatewayEnabled(completion func(bool)) {
	c.exec.Submit(func() { c.isGatewayEnabled(completion) })
}

// Credentials returns the credentials of the last successful fetch. It is
// safe to call from any goroutine.
func (c *Cache) Credentials() (Credentials, bool) {
	p := c.creds.Load()
	if p == nil {
		return Credentials{}, false
	}
	return *p, true
}

// State returns the last resolved enablement and refresh time.
func (c *Cache) State() State {
	st := State{
		Enabled:        c.stateEnable.Load(),
		HasCredentials: c.creds.Load() != nil,
	}
	if at := c.stateAt.Load(); at != 0 {
		st.LastRefresh = time.Unix(0, at).UTC()
	}
	return st
}

func (c *Cache) isGatewayEnabled(completion func(bool)) {
	appID := c.settings.AppID()
	if appID == "" {
		completion(false)
		return
	}

	if c.fresh() {
		completion(c.enabled)
		return
	}

	c.pending = append(c.pending, completion)
	if c.refreshing {
		return
	}
	c.refreshing = true
	c.exec.Go(func() { c.fetch(appID) })
}

func (c *Cache) fresh() bool {
	if c.creds.Load() == nil || c.lastRefresh.IsZero() {
		return false
	}
	return c.now().Sub(c.lastRefresh) < c.ttl
}

type fetchResult struct {
	creds   Credentials
	enabled bool
	err     error
}

// fetch runs off the serial context and hands its result back to it.
func (c *Cache) fetch(appID string) {
	ctx, span := tracing.StartSpan(context.Background(), "gateway.fetch_settings",
		attribute.String("app_id", appID),
	)
	defer span.End()

	res := c.request(ctx, appID)
	if res.err != nil {
		tracing.SetSpanError(ctx, res.err)
	} else {
		span.SetAttributes(
			attribute.Bool("gateway.enabled", res.enabled),
			attribute.String("gateway.dataset_id", res.creds.DatasetID),
		)
	}

	c.exec.Submit(func() { c.resolve(ctx, appID, res) })
}

func (c *Cache) request(ctx context.Context, appID string) fetchResult {
	resp, err := c.transport.Get(ctx, appID+"/"+settingsPath, nil)
	if err != nil {
		return fetchResult{err: fmt.Errorf("fetch gateway settings: %w", err)}
	}
	if !resp.OK() {
		return fetchResult{err: fmt.Errorf("fetch gateway settings: status %d", resp.StatusCode)}
	}
	creds, enabled, err := parseSettings(resp.Body)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{creds: creds, enabled: enabled}
}

func (c *Cache) resolve(ctx context.Context, appID string, res fetchResult) {
	enabled := false
	if res.err == nil {
		creds := res.creds
		c.creds.Store(&creds)
		c.lastRefresh = c.now()
		c.enabled = res.enabled
		enabled = res.enabled

		c.stateEnable.Store(enabled)
		c.stateAt.Store(c.lastRefresh.UnixNano())
		metrics.SetGatewayEnabled(enabled)
		if enabled {
			metrics.RecordConfigFetch("enabled")
		} else {
			metrics.RecordConfigFetch("disabled")
		}
		c.logger.WithContext(ctx).WithApp(appID).WithDataset(creds.DatasetID).
			WithField("enabled", enabled).
			Info("gateway settings refreshed")
	} else {
		metrics.RecordConfigFetch("failed")
		c.logger.WithContext(ctx).WithApp(appID).WithError(res.err).
			Warn("gateway settings fetch failed")
	}

	callbacks := c.pending
	c.pending = nil
	c.refreshing = false
	for _, cb := range callbacks {
		cb(enabled)
	}
}
