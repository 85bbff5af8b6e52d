package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portscope/internal/api/middleware"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/scanning"
)

// WebSocket timing constants.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Stream message types.
const (
	MessageResult    = "result"
	MessageCompleted = "completed"
)

// StreamMessage is one frame of a scan stream. A stream carries one
// result message per classified port in arrival order, then a single
// completed message.
type StreamMessage struct {
	Type      string               `json:"type"`
	Result    *scanning.PortResult `json:"result,omitempty"`
	Scan      *ScanInfo            `json:"scan,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// StreamHandler streams scan results over WebSocket.
type StreamHandler struct {
	manager  *ScanManager
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler. checkOrigin may be nil to
// accept any origin.
func NewStreamHandler(manager *ScanManager, logger *logging.Logger, checkOrigin func(*http.Request) bool) *StreamHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &StreamHandler{
		manager: manager,
		logger:  logger.WithComponent("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ScanStream upgrades the connection and streams the results of one scan.
// Scans that already finished are replayed from their session.
//
// @Summary Stream scan results
// @Description Upgrade to WebSocket and receive one StreamMessage per classified port, then a completed message
// @Tags Scans
// @Param id path string true "Scan ID" format(uuid)
// @Success 101 {object} StreamMessage
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id}/ws [get]
// @ID streamScan
func (h *StreamHandler) ScanStream(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r, "id")
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	run, live := h.manager.lookup(id)
	var stored *scanning.ScanSession
	if !live {
		stored, err = h.manager.Session(r.Context(), id)
		if err != nil {
			writeCodedError(w, r, err)
			return
		}
	}

	requestID := middleware.GetRequestID(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.ErrorAPI("Failed to upgrade WebSocket connection", err, "request_id", requestID)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("Error closing WebSocket connection", "request_id", requestID, "error", err)
		}
	}()

	h.logger.InfoAPI("Scan stream opened",
		"request_id", requestID,
		"session_id", id.String(),
		"remote_addr", r.RemoteAddr)

	gone := h.readPump(conn, requestID)

	if live {
		h.streamRun(conn, run, gone, requestID)
		return
	}
	h.replay(conn, stored, requestID)
}

// readPump consumes client frames so that pongs and close messages are
// processed. The returned channel is closed when the client goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, requestID string) <-chan struct{} {
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket closed unexpectedly", "request_id", requestID, "error", err)
				}
				return
			}
		}
	}()
	return gone
}

func (h *StreamHandler) streamRun(conn *websocket.Conn, run *scanRun, gone <-chan struct{}, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	sent := 0
	for {
		fresh, changed, finished := run.snapshot(sent)
		for i := range fresh {
			if err := h.send(conn, StreamMessage{Type: MessageResult, Result: &fresh[i]}); err != nil {
				h.logger.Debug("Stream write failed", "request_id", requestID, "error", err)
				return
			}
		}
		sent += len(fresh)

		if finished {
			h.complete(conn, run.info(false), requestID)
			return
		}

		select {
		case <-changed:
		case <-gone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) replay(conn *websocket.Conn, session *scanning.ScanSession, requestID string) {
	for i := range session.Results {
		if err := h.send(conn, StreamMessage{Type: MessageResult, Result: &session.Results[i]}); err != nil {
			h.logger.Debug("Stream write failed", "request_id", requestID, "error", err)
			return
		}
	}
	info := infoFromSession(session)
	info.Session = nil
	h.complete(conn, info, requestID)
}

func (h *StreamHandler) complete(conn *websocket.Conn, info *ScanInfo, requestID string) {
	if err := h.send(conn, StreamMessage{Type: MessageCompleted, Scan: info}); err != nil {
		h.logger.Debug("Stream write failed", "request_id", requestID, "error", err)
		return
	}
	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan "+string(info.Status))
	_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(writeWait))
}

func (h *StreamHandler) send(conn *websocket.Conn, msg StreamMessage) error {
	msg.Timestamp = time.Now().UTC()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
