// Package net assembles the HTTP surface of the server: health and
// diagnostics endpoints, the parsed road geometry, and the websocket upgrade
// route.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/netmap"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/telemetry"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
)

// HTTPHandlerConfig carries the data the routes serve.
type HTTPHandlerConfig struct {
	// Network is the parsed road geometry served at /network; nil yields 404.
	Network *netmap.Network
	// TickRate is reported in diagnostics.
	TickRate time.Duration
	// Metrics supplies the diagnostics counter snapshot.
	Metrics *logging.Metrics
	// Router, when set, contributes event throughput counters.
	Router *logging.Router
	Logger telemetry.Logger
}

// ClientCounter reports live websocket sessions for diagnostics.
type ClientCounter interface {
	ClientCount() int
}

// WebsocketHandler serves the upgrade route.
type WebsocketHandler interface {
	Handle(w nethttp.ResponseWriter, r *nethttp.Request)
}

// NewHTTPHandler builds the route mux.
func NewHTTPHandler(hub WebsocketHandler, clients ClientCounter, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status       string               `json:"status"`
			ServerTime   int64                `json:"serverTime"`
			Clients      int                  `json:"clients"`
			TickRateMill int64                `json:"tickRateMillis"`
			Telemetry    map[string]uint64    `json:"telemetry"`
			Events       *logging.RouterStats `json:"events,omitempty"`
		}{
			Status:       "ok",
			ServerTime:   time.Now().UnixMilli(),
			TickRateMill: cfg.TickRate.Milliseconds(),
			Telemetry:    cfg.Metrics.TelemetrySnapshot(),
		}
		if clients != nil {
			payload.Clients = clients.ClientCount()
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Events = &stats
		}
		writeJSON(w, payload, cfg.Logger)
	})

	mux.HandleFunc("/network", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if cfg.Network == nil {
			httpError(w, "no network loaded", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, cfg.Network, cfg.Logger)
	})

	if hub != nil {
		mux.HandleFunc("/ws", hub.Handle)
	}

	return withCORS(mux)
}

func writeJSON(w nethttp.ResponseWriter, payload any, logger telemetry.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		if logger != nil {
			logger.Printf("failed to encode response: %v", err)
		}
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(message))
}

// withCORS allows the rendering client to be served from a different origin
// during development.
func withCORS(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == nethttp.MethodOptions {
			w.WriteHeader(nethttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
