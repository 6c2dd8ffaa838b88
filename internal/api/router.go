package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	metricsPath := s.cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, s.metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.http.instrument)

		r.Get("/health", s.handleHealth)
		r.Get("/profiles", s.handleListProfiles)
		r.Get("/types", s.handleListTypes)
		r.Get("/writes", s.handleListWrites)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/fetch", s.handleFetchDevice)
				r.Put("/values/{tag}/{name}", s.handleSetValue)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// gatewayView is the JSON form of the bus connection statistics.
type gatewayView struct {
	Connected        bool       `json:"connected"`
	Reconnecting     bool       `json:"reconnecting"`
	TelegramsRx      uint64     `json:"telegrams_rx"`
	TelegramsTx      uint64     `json:"telegrams_tx"`
	TelegramsDropped uint64     `json:"telegrams_dropped"`
	TelegramsEcho    uint64     `json:"telegrams_echo"`
	ErrorsTotal      uint64     `json:"errors_total"`
	ReconnectsTotal  uint64     `json:"reconnects_total"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
}

// handleHealth reports "ok" while the gateway is connected, "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.bridge.GatewayStats()
	status := "ok"
	if !stats.Connected {
		status = "degraded"
	}

	gw := gatewayView{
		Connected:        stats.Connected,
		Reconnecting:     stats.Reconnecting,
		TelegramsRx:      stats.TelegramsRx,
		TelegramsTx:      stats.TelegramsTx,
		TelegramsDropped: stats.TelegramsDropped,
		TelegramsEcho:    stats.TelegramsEcho,
		ErrorsTotal:      stats.ErrorsTotal,
		ReconnectsTotal:  stats.ReconnectsTotal,
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		gw.LastActivity = &last
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"devices":           len(s.bridge.Devices()),
		"websocket_clients": s.hub.ClientCount(),
		"gateway":           gw,
	})
}
