package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ares-project/aresnet/internal/events"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

// streamMessage is one event as sent over the websocket.
type streamMessage struct {
	Event     string      `json:"event"`
	Source    string      `json:"source"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents streams protocol events to a websocket client. A client
// that cannot keep up loses events rather than slowing the bus.
func (s *Server) handleEvents(c *gin.Context) {
	if s.eventBus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream is not available"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	name := "ws." + uuid.NewString()
	out := make(chan streamMessage, streamBuffer)
	s.eventBus.SubscribeMany(events.StreamedEvents, name, func(ctx context.Context, ev events.Event) error {
		select {
		case out <- streamMessage{Event: string(ev.Type), Source: ev.Source, Payload: ev.Payload, Timestamp: time.Now().UTC()}:
		default:
		}
		return nil
	})
	defer func() {
		for _, t := range events.StreamedEvents {
			s.eventBus.Unsubscribe(t, name)
		}
	}()

	s.logger.Debug().Str("client", name).Str("client_ip", c.ClientIP()).Msg("event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			s.logger.Debug().Str("client", name).Msg("event stream closed")
			return
		case <-s.eventBus.StopCh():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
