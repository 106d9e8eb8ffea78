// Package server wires the HTTP acceptor: upgrade handling, the origin
// gate, connection-level rate limiting, and session spawning.
package server

import (
	"net/http"

	"github.com/ephemeral-relay/relay/internal/config"
	"github.com/ephemeral-relay/relay/internal/logs"
	"github.com/ephemeral-relay/relay/internal/metrics"
	"github.com/ephemeral-relay/relay/internal/middleware"
	"github.com/ephemeral-relay/relay/internal/originguard"
	"github.com/ephemeral-relay/relay/internal/room"
	"github.com/ephemeral-relay/relay/internal/session"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Handler is the relay's single WebSocket upgrade endpoint.
type Handler struct {
	cfg      config.Config
	registry *room.Registry
	log      logs.Logger
	limiter  *middleware.Limiter
	upgrader websocket.Upgrader
}

// New builds the upgrade handler. limiter may be nil to disable
// connection-attempt rate limiting.
func New(cfg config.Config, registry *room.Registry, log logs.Logger, limiter *middleware.Limiter) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		log:      log,
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// The origin gate runs explicitly in ServeHTTP so it can
			// distinguish 400 (malformed/missing Origin) from 403
			// (mismatched host); the upgrader's own CheckOrigin is left
			// permissive since the gate has already decided.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.AllowWS(r) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	switch originguard.Check(h.cfg.AllowedOriginHost, r.Header.Get("Origin")) {
	case originguard.BadRequest:
		http.Error(w, "bad origin", http.StatusBadRequest)
		return
	case originguard.Forbidden:
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", logs.F("err", err), logs.F("remote", r.RemoteAddr))
		return
	}

	msgLimiter := newMessageLimiter(h.cfg)
	sess := session.New(conn, h.registry, h.log.Named("session"), msgLimiter)

	go func() {
		defer conn.Close()
		sess.Serve(h.cfg.MaxMessageSize, h.cfg.Heartbeat, h.cfg.Handshake)
	}()
}

func newMessageLimiter(cfg config.Config) *rate.Limiter {
	if cfg.MsgRatePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.MsgRatePerSec), cfg.MsgBurst)
}

// RegisterActiveGauges is a small startup-time convenience so /metrics
// reads zero instead of stale data before the first room event.
func RegisterActiveGauges(registry *room.Registry) {
	metrics.SetRooms(registry.RoomCount())
	metrics.SetPeers(registry.TotalOccupancy())
}
