package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

const (
	wsPingInterval = 30 * time.Second
	wsCloseGrace   = 2 * time.Second
)

// RequireUpgrade rejects plain HTTP requests on WebSocket routes
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// SocketLookup answers unknown job ids with 404 before the connection is upgraded
func (h *StreamHandler) SocketLookup(c *fiber.Ctx) error {
	if _, err := h.jobs.Get(c.UserContext(), c.Params("id")); err != nil {
		return jobError(c, err)
	}
	return c.Next()
}

// Socket handles GET /ws/jobs/:id. It carries the same events as the SSE stream:
// a snapshot first, then every change, and a close frame after the terminal event.
// {"type":"ping"} is answered with {"type":"pong"}.
func (h *StreamHandler) Socket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		jobID := conn.Params("id")

		var writeMu sync.Mutex
		write := func(messageType int, data []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(messageType, data)
		}
		writeEvent := func(ev model.JobEvent) error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return write(websocket.TextMessage, data)
		}
		// closeAfter sends a normal close frame and lets the read loop end once
		// the peer answers, or after the grace period
		closeAfter := func() {
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
			_ = conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
		}

		// the job may have been removed between the lookup and the upgrade
		sub, snapshot, err := h.openFeed(context.Background(), jobID)
		if err != nil {
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "job not found"))
			return
		}
		defer h.hub.Unsubscribe(sub)

		done := make(chan struct{})
		defer close(done)

		if err := writeEvent(snapshot); err != nil {
			return
		}
		if model.IsTerminalEvent(snapshot.Type) {
			closeAfter()
		} else {
			go func() {
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()

				for {
					select {
					case <-done:
						return
					case ev, ok := <-sub.C:
						if !ok {
							closeAfter()
							return
						}
						if err := writeEvent(ev); err != nil {
							return
						}
						if model.IsTerminalEvent(ev.Type) {
							closeAfter()
							return
						}
					case <-ticker.C:
						if err := write(websocket.PingMessage, nil); err != nil {
							return
						}
					}
				}
			}()
		}

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Str("job_id", jobID).Msg("websocket closed")
				}
				return
			}

			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == model.EventPing {
				pong, _ := json.Marshal(model.WSMessage{Type: model.EventPong})
				if err := write(websocket.TextMessage, pong); err != nil {
					return
				}
			}
		}
	})
}
