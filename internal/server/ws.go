package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gonzalinux/voskd/internal/protocol"
	"github.com/gonzalinux/voskd/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 8 * 1024,
	// The service sits behind infrastructure that enforces origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes to one WebSocket connection. gorilla/websocket
// allows at most one concurrent writer; the ping ticker and the event sender
// share this lock.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) sendEvent(ev *protocol.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, data)
}

// handleWebSocket implements GET /ws: one streaming recognition session per
// connection. Binary frames carry PCM16LE audio; text frames carry JSON
// control messages.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	session, err := h.manager.CreateSession(r.URL.Query().Get("model"))
	if err != nil {
		h.logger.Warn("Failed to create session for WebSocket client",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	defer h.manager.RemoveSession(session.ID)

	conn.SetReadLimit(h.config.WebSocket.MaxMessageBytes)

	wc := &wsConn{
		conn:         conn,
		writeTimeout: h.config.WebSocket.GetWriteTimeoutDuration(),
	}

	h.logger.Info("WebSocket session started",
		slog.String("session_id", session.ID),
		slog.String("model", session.Model),
		slog.String("remote", r.RemoteAddr),
	)

	stopPing := h.startPing(wc)
	defer stopPing()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("WebSocket read error",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if !h.handleAudioFrame(wc, session, data) {
				return
			}

		case websocket.TextMessage:
			if !h.handleControlFrame(wc, session, data) {
				return
			}
		}
	}
}

// handleAudioFrame decodes one audio frame and sends the resulting event.
// Returns false when the connection should be torn down.
func (h *HTTPServer) handleAudioFrame(wc *wsConn, session *stream.Session, pcm []byte) bool {
	// Decodes run to completion once started, so the background context is
	// the right scope here.
	ev, err := session.Feed(context.Background(), pcm)
	if err != nil {
		if sendErr := wc.sendEvent(protocol.NewErrorEvent(session.ID, 0, err.Error())); sendErr != nil {
			return false
		}
		// Invalid frames are a client bug, not a session failure.
		return true
	}

	// Utterance and decode-error counters are recorded by the session itself.
	var out *protocol.Event
	switch ev.Kind {
	case stream.EventFinal:
		out = protocol.NewFinalEvent(session.ID, ev.Seq, ev.Result)
	case stream.EventDecodeError:
		out = protocol.NewErrorEvent(session.ID, ev.Seq, "decode failed, chunk skipped")
	default:
		out = protocol.NewPartialEvent(session.ID, ev.Seq, ev.Result)
	}

	return wc.sendEvent(out) == nil
}

// handleControlFrame applies one control message. Returns false when the
// connection should be torn down.
func (h *HTTPServer) handleControlFrame(wc *wsConn, session *stream.Session, data []byte) bool {
	ctrl, err := protocol.ParseControl(data)
	if err != nil {
		return wc.sendEvent(protocol.NewErrorEvent(session.ID, 0, err.Error())) == nil
	}

	switch ctrl.Type {
	case protocol.ControlConfig:
		if err := session.Configure(ctrl.MaxAlternatives, ctrl.Words, ctrl.PartialWords); err != nil {
			return wc.sendEvent(protocol.NewErrorEvent(session.ID, 0, err.Error())) == nil
		}

	case protocol.ControlReset:
		if err := session.Reset(); err != nil {
			return wc.sendEvent(protocol.NewErrorEvent(session.ID, 0, err.Error())) == nil
		}

	case protocol.ControlEOF:
		ev, err := session.Flush(context.Background())
		if err != nil {
			wc.sendEvent(protocol.NewErrorEvent(session.ID, 0, err.Error()))
			return false
		}
		if wc.sendEvent(protocol.NewFinalEvent(session.ID, ev.Seq, ev.Result)) != nil {
			return false
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		wc.writeMessage(websocket.CloseMessage, msg)
		return false
	}

	return true
}

// startPing keeps the connection alive with periodic pings. The returned
// function stops the ticker.
func (h *HTTPServer) startPing(wc *wsConn) func() {
	interval := h.config.WebSocket.GetPingIntervalDuration()
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := wc.writeMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
