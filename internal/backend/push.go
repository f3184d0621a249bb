package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ovaphlow/englishbuds/internal/events"
	"github.com/ovaphlow/englishbuds/internal/session"
)

const (
	maxPushBackoff = 30 * time.Second
	// the server pings every 54s; a silent connection is dropped after this
	pushReadWait  = 75 * time.Second
	pushWriteWait = 5 * time.Second
)

func (c *AuthClient) startPush(s *session.Session) {
	if !c.push || s == nil {
		return
	}
	c.mu.Lock()
	if c.pushDone != nil && c.pushUser == s.User.ID {
		select {
		case <-c.pushDone:
		default:
			// already listening; reconnects pick up the newest token
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	c.stopListening()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.stopPush = cancel
	c.pushDone = done
	c.pushUser = s.User.ID
	c.mu.Unlock()
	go c.listen(ctx, s.User.ID, done)
}

func (c *AuthClient) stopListening() {
	c.mu.Lock()
	cancel, done := c.stopPush, c.pushDone
	c.stopPush, c.pushDone = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// listen relays pushed events for userID until ctx ends, the server signs
// the user out, or the token is rejected. It never refreshes tokens itself;
// a refresh restarts it through adopt.
func (c *AuthClient) listen(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)
	backoff := time.Second
	for {
		c.mu.Lock()
		cur := c.current
		c.mu.Unlock()
		if cur == nil || cur.User.ID != userID {
			return
		}

		u := wsURL(c.base) + "/auth/v1/events?access_token=" + url.QueryEscape(cur.AccessToken)
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				c.logger.Debugw("push channel rejected token", "user_id", userID)
				return
			}
			c.logger.Debugw("push channel dial failed", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxPushBackoff)
			continue
		}
		backoff = time.Second
		if c.relay(ctx, ws, userID) || ctx.Err() != nil {
			return
		}
	}
}

// relay reads events until the connection drops; it reports whether the
// server signed the user out.
func (c *AuthClient) relay(ctx context.Context, ws *websocket.Conn, userID string) bool {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(c.readWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.readWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pushWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		var m events.Message
		if err := ws.ReadJSON(&m); err != nil {
			c.logger.Debugw("push channel closed", "user_id", userID, "err", err)
			return false
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.readWait))
		if m.UserID != userID {
			continue
		}
		c.logger.Debugw("push event", "event", m.Event, "user_id", userID)
		switch session.Event(m.Event) {
		case session.EventSignedOut:
			c.clear(context.Background())
			c.emit(session.EventSignedOut, nil)
			return true
		case session.EventUserUpdated:
			c.mu.Lock()
			cur := copySession(c.current)
			c.mu.Unlock()
			if cur != nil {
				c.emit(session.EventUserUpdated, cur)
			}
		}
	}
}
