package events

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks open push connections per user.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*conn]struct{}
	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{conns: make(map[string]map[*conn]struct{}), logger: logger}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
}

// Publish sends event to every connection of userID.
func (h *Hub) Publish(userID, event string) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := Message{Event: event, UserID: userID}
	for _, c := range targets {
		if err := c.enqueue(msg); err != nil {
			h.logger.Warnw("drop push event", "user_id", userID, "event", event, "err", err)
		}
	}
	h.logger.Debugw("published", "user_id", userID, "event", event, "connections", len(targets))
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.conns
	h.conns = make(map[string]map[*conn]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}
