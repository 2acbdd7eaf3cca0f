// fake-gateway stands in for the graph settings endpoint and a CAPI gateway
// so the relay can be exercised locally.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austindbirch/capi_relay/internal/config"
	"github.com/austindbirch/capi_relay/internal/logging"
)

type gateway struct {
	cfg    config.FakeGateway
	logger *logging.Logger
	posts  atomic.Int64
	events atomic.Int64
}

type settingsEntry struct {
	Endpoint  string `json:"endpoint"`
	IsEnabled bool   `json:"is_enabled"`
	DatasetID string `json:"dataset_id"`
	AccessKey string `json:"access_key"`
}

type eventsPayload struct {
	Data      []json.RawMessage `json:"data"`
	AccessKey string            `json:"accessKey"`
}

func main() {
	cfg := config.FromEnv().FakeGateway
	logger := logging.New("capirelay-fake-gateway")

	gw := &gateway{cfg: cfg, logger: logger}
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      gw.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	logger.Plain().WithField("addr", cfg.Port).Info("fake-gateway listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-gateway stopped")
	}
}

func (g *gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /{app}/cloudbridge_settings", g.handleSettings)
	mux.HandleFunc("POST /capi/{dataset}/events", g.handleEvents)
	return mux
}

func (g *gateway) handleSettings(w http.ResponseWriter, r *http.Request) {
	endpoint := g.cfg.PublicURL
	if endpoint == "" {
		endpoint = "http://" + r.Host
	}
	entry := settingsEntry{
		Endpoint:  endpoint,
		IsEnabled: !g.cfg.Disabled,
		DatasetID: g.cfg.DatasetID,
		AccessKey: g.cfg.AccessKey,
	}
	g.logger.Plain().WithApp(r.PathValue("app")).WithField("enabled", entry.IsEnabled).Info("settings served")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": []settingsEntry{entry}})
}

func (g *gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := g.posts.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if g.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(g.cfg.ResponseDelayMS) * time.Millisecond)
	}

	if ds := r.PathValue("dataset"); ds != g.cfg.DatasetID {
		http.Error(w, "unknown dataset "+ds, http.StatusNotFound)
		return
	}

	var p eventsPayload
	if err := json.Unmarshal(b, &p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if p.AccessKey != g.cfg.AccessKey {
		http.Error(w, "invalid access key", http.StatusUnauthorized)
		return
	}

	// Simulate flakiness: first N posts fail with FailStatus
	if n <= int64(g.cfg.FailFirstN) {
		g.logger.Plain().WithField("post", n).WithField("status", g.cfg.FailStatus).
			Warnf("FAILING (%d/%d) batch of %d", n, g.cfg.FailFirstN, len(p.Data))
		http.Error(w, "temporary failure", g.cfg.FailStatus)
		return
	}

	total := g.events.Add(int64(len(p.Data)))
	g.logger.Plain().WithDataset(g.cfg.DatasetID).WithField("batch_size", len(p.Data)).
		WithField("total_events", total).Info("batch accepted")
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"events_received":%d}`, len(p.Data))
}
