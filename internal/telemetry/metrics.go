// Package telemetry exposes Prometheus metrics for the bot's connection
// and command pipelines.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Counters
	Reconnects       *prometheus.CounterVec
	MessagesInbound  prometheus.Counter
	MessagesOutbound prometheus.Counter
	MessagesDropped  prometheus.Counter
	CommandsInvoked  *prometheus.CounterVec
	CommandErrors    *prometheus.CounterVec
	CooldownHits     prometheus.Counter

	// Gauges
	ActiveRooms    *prometheus.GaugeVec
	ConnectedGauge *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_reconnects_total", Help: "Socket reconnect attempts by connection kind"}, []string{"kind"})
		MessagesInbound = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_messages_inbound_total", Help: "Chat messages received"})
		MessagesOutbound = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_messages_outbound_total", Help: "Chat messages sent"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_messages_dropped_total", Help: "Outbound messages dropped by the room throttle"})
		CommandsInvoked = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_commands_invoked_total", Help: "Command invocations by command name"}, []string{"command"})
		CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "firebot_command_errors_total", Help: "Command action failures by command name"}, []string{"command"})
		CooldownHits = promauto.NewCounter(prometheus.CounterOpts{Name: "firebot_command_cooldown_hits_total", Help: "Command invocations rejected by a cooldown"})
		ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "firebot_active_rooms", Help: "Rooms currently joined by connection kind"}, []string{"kind"})
		ConnectedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "firebot_connected", Help: "Connection state by kind, 1=connected 0=down"}, []string{"kind"})
	})
}

// SetConnected flips the connection gauge for a kind.
func SetConnected(kind string, up bool) {
	if ConnectedGauge == nil {
		return
	}
	if up {
		ConnectedGauge.WithLabelValues(kind).Set(1)
	} else {
		ConnectedGauge.WithLabelValues(kind).Set(0)
	}
}

// Serve runs the metrics endpoint until ctx is done. Addr empty disables
// the server.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
