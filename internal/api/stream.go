package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trade-journal-go/internal/analytics"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	streamBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is one frame on /api/stream.
type streamMessage struct {
	Type string          `json:"type"`
	Data analytics.State `json:"data"`
}

// stream pushes every published analytics state to the client, starting with
// the current one. A client that falls behind by more than streamBacklog
// states is disconnected.
func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	l := s.logger.With(zap.String("remote", c.Request.RemoteAddr))
	l.Debug("Stream client connected")

	states := make(chan analytics.State, streamBacklog)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := s.engine.Analytics().Subscribe(analytics.SubscriberFunc(func(state analytics.State) {
		select {
		case states <- state:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	}), analytics.SubscribeOptions{Immediate: true})
	defer unsubscribe()

	// The read loop only tracks liveness; client frames are ignored.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
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
		case state := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamMessage{Type: "state", Data: PresentState(state)}); err != nil {
				l.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			l.Warn("Stream client too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			l.Debug("Stream client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
