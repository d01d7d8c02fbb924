package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/eventbus"
	"github.com/kubilitics/invcore/internal/metrics"
)

const streamHeartbeatInterval = 20 * time.Second

// upgrader is shared across the three streaming endpoints; CheckOrigin
// defers to the same allowlist the REST CORS middleware enforces, rather
// than the unconditional true the teacher's websocket.go left as a TODO.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // same-origin requests carry no Origin header
			}
			return s.originAllowed(origin)
		},
	}
}

// streamConn pumps events from one bus Subscription to one WebSocket
// client until the connection closes or the subscription is torn down.
// Grounded on the teacher's websocket.go WSConnection: an upgrade, a
// heartbeat goroutine, and a send loop selecting on both the data channel
// and a done signal.
func (s *Server) streamConn(w http.ResponseWriter, r *http.Request, topic eventbus.Topic, streamName string) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Log(audit.NewEvent("server", audit.LevelWarn, "websocket upgrade failed").
				WithDetail("stream", streamName).WithDetail("error", err.Error()))
		}
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(topic)
	defer sub.Unsubscribe()

	metrics.WebSocketConnections.WithLabelValues(streamName).Inc()
	defer metrics.WebSocketConnections.WithLabelValues(streamName).Dec()

	done := make(chan struct{})
	go s.drainClientReads(conn, done)

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// drainClientReads discards any client-sent frames (these streams are
// server-to-client only) and closes done the moment the read loop errors,
// which is how gorilla/websocket surfaces the client closing the socket.
func (s *Server) drainClientReads(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleStreamLogs streams every audit.Event as it is logged (spec §6.3's
// /stream/logs).
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	s.streamConn(w, r, eventbus.TopicLogs, "logs")
}

// handleStreamStatus streams one MonitorStatus frame per snapshot tick
// (spec §6.3's /stream/status).
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	s.streamConn(w, r, eventbus.TopicStatus, "status")
}

// handleStreamReports streams a frame for every created/sealed
// InvestigationReport (spec §6.3's /stream/reports).
func (s *Server) handleStreamReports(w http.ResponseWriter, r *http.Request) {
	s.streamConn(w, r, eventbus.TopicReports, "reports")
}
