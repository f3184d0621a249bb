package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/oidc"
)

var upgrader = websocket.Upgrader{
	// clients are CLIs and native apps, not browsers
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

type Handler struct {
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewHandler(hub *Hub, logger *zap.SugaredLogger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// Subscribe upgrades an authenticated request and holds the connection open
// until the client leaves. Mount it behind oidc's Authenticate middleware.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "user_id", claims.Subject, "err", err)
		return
	}
	c := newConn(ws, claims.Subject)
	h.hub.register(c)
	h.logger.Debugw("push subscriber connected", "user_id", claims.Subject)

	c.readLoop()

	h.hub.unregister(c)
	c.close()
	h.logger.Debugw("push subscriber left", "user_id", claims.Subject)
}
