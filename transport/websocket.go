// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// MaxMessageSize is the largest WebSocket message a client may send.
const MaxMessageSize = 10_000_000

// closeTimeout bounds writing a close control frame.
const closeTimeout = time.Second

var errTextMessage = errors.New("text message on protocol websocket")

// WebSocketHandler upgrades requests and runs a handshaking session on
// each connection.
type WebSocketHandler struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates the /ws handler.
func NewWebSocketHandler(config Config) *WebSocketHandler {
	config = config.withDefaults()
	return &WebSocketHandler{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a handshake token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: config.Logger.With("transport", "ws"),
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(r.Context(), func() { conn.Close() })
	defer stop()

	conn.SetReadLimit(MaxMessageSize)
	h.config.serveConnection("ws",
		func() ([]byte, error) {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return nil, err
			}
			if kind != websocket.BinaryMessage {
				return nil, errTextMessage
			}
			return data, nil
		},
		&webSocketWriter{conn: conn},
		nil,
		h.logger.With("remote", r.RemoteAddr),
	)
}

// webSocketWriter writes one binary message per frame.
type webSocketWriter struct {
	conn *websocket.Conn
}

func (w *webSocketWriter) WriteFrame(payload []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Shutdown sends a close frame and closes the connection.
func (w *webSocketWriter) Shutdown() error {
	return errors.Join(sendClose(w.conn), w.conn.Close())
}

func sendClose(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
}
