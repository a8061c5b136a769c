package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/output"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades to WebSocket and streams live records to the
// client, each with the findings of the per-record detectors.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.cfg.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream not enabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	records := s.cfg.Hub.Subscribe()
	defer s.cfg.Hub.Unsubscribe(records)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClientConnected()
		defer s.cfg.Metrics.ClientDisconnected()
	}

	// Read pump: detect client disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	engine := s.cfg.Report.Engine
	for {
		select {
		case <-gone:
			return
		case rec, ok := <-records:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(writeWait))
				return
			}
			ev := output.StreamEvent{Record: rec}
			if engine != nil {
				ev = output.NewStreamEvent(rec, engine.Inspect(rec))
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
