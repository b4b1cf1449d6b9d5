package signaling

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"callrelay/internal/auth"
	"callrelay/internal/config"
	"callrelay/pkg/logger"
)

// Handler upgrades authenticated requests to signaling connections.
type Handler struct {
	gate     *auth.Gate
	relay    *Relay
	cfg      ClientConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(gate *auth.Gate, relay *Relay, cfg config.SignalingConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		gate:  gate,
		relay: relay,
		cfg: ClientConfig{
			SendQueue:         cfg.SendQueue,
			WriteTimeout:      cfg.ForwardTimeout,
			PingInterval:      cfg.PingInterval,
			MaxMessageBytes:   cfg.MaxMessageBytes,
			MessagesPerSecond: cfg.MessagesPerSecond,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is not checked; the token is.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve verifies the session token before upgrading, so a rejected client gets a plain
// 401 and is never registered. The connection's identity is fixed for its lifetime.
func (h *Handler) Serve(c *gin.Context) {
	id, err := h.gate.VerifyConnection(auth.TokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Warn("websocket upgrade failed", "err", err)
		return
	}

	identity := id.Mobile
	client := newClient(ws, identity, h.cfg, logger.FromGin(c))
	client.keepalive = func() { h.relay.KeepAlive(client) }
	go client.writePump()

	ctx := logger.With(context.WithoutCancel(c.Request.Context()), client.log)
	h.relay.Connect(identity, client)
	client.readLoop(func(raw []byte) {
		h.relay.Handle(ctx, identity, client, raw)
	})
	h.relay.Disconnect(ctx, client)
	client.log.Info("signaling disconnected")
}
