package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsMaxFrame    = 64 << 10
	wsSendBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame 是websocket回复帧，成功时为预测结果，失败时带错误信息
type wsFrame struct {
	Type       string           `json:"type"`
	Prediction *PredictResponse `json:"prediction,omitempty"`
	Error      string           `json:"error,omitempty"`
	Status     int              `json:"status,omitempty"`
}

// handlePredictWS 每个文本帧是一条记录，每条记录回复一帧
func (h *Handlers) handlePredictWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	connID := GetRequestID(r.Context())
	h.logger.Info("websocket client connected", zap.String("conn_id", connID))

	send := make(chan wsFrame, wsSendBacklog)
	done := make(chan struct{})
	go h.wsWritePump(conn, send, done)

	h.wsReadPump(conn, connID, send)
	close(send)
	<-done
	h.logger.Info("websocket client disconnected", zap.String("conn_id", connID))
}

func (h *Handlers) wsReadPump(conn *websocket.Conn, connID string, send chan<- wsFrame) {
	conn.SetReadLimit(wsMaxFrame)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		resp, err := h.predict(connID, payload)
		if err != nil {
			send <- wsFrame{Type: "error", Error: err.Error(), Status: errorStatus(err)}
			continue
		}
		send <- wsFrame{Type: "prediction", Prediction: resp}
	}
}

func (h *Handlers) wsWritePump(conn *websocket.Conn, send <-chan wsFrame, done chan<- struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case frame, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				h.logger.Error("marshal websocket frame failed", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				drain(conn, send)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(conn, send)
				return
			}
		}
	}
}

// drain closes conn so the read pump stops, then discards frames until it does.
func drain(conn *websocket.Conn, send <-chan wsFrame) {
	conn.Close()
	for range send {
	}
}
