package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStreamLogsWS serves a workload's logs over a WebSocket, one JSON
// LogEntry per message, closed with CloseNormalClosure when the stream ends.
func (s *Server) handleStreamLogsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	query, err := domain.ParseLogQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}

	if _, err := s.workloadSvc.GetWorkload(r.Context(), id); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "workload_id", id, "error", err)
		return
	}
	defer conn.Close()

	recordStreamOpen("ws")
	defer recordStreamClose("ws")

	// Reader goroutine: consumes pongs and unblocks on client close.
	clientGone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	entries := make(chan domain.LogEntry, 64)
	result := make(chan error, 1)
	go func() {
		done, err := s.streamLogsFiltered(r, id, query, func(entry domain.LogEntry) error {
			select {
			case entries <- entry:
				return nil
			case <-clientGone:
				return websocket.ErrCloseSent
			}
		})
		close(entries)
		if done {
			result <- nil
		} else {
			result <- err
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case entry, ok := <-entries:
			if !ok {
				if err := <-result; err != nil {
					logger.Debug("websocket stream ended", "workload_id", id, "error", err)
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
