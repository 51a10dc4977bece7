// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/tokens"
)

// maxRuntimeMessageSize bounds one registration message.
const maxRuntimeMessageSize = 64 * 1024

// RuntimeRegistration is one token registration from the web runtime.
type RuntimeRegistration struct {
	Token       string   `json:"token"`
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions,omitempty"`
}

// RuntimeResult answers a registration.
type RuntimeResult struct {
	Result bool `json:"result"`
}

// RuntimeHandler serves token registration on "/" + token. Any other
// path, or any path when token is empty, is a bad request.
type RuntimeHandler struct {
	token    string
	tokens   *tokens.Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRuntimeHandler creates the registration handler.
func NewRuntimeHandler(token string, manager *tokens.Manager, logger *slog.Logger) *RuntimeHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RuntimeHandler{
		token:  token,
		tokens: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("transport", "runtime"),
	}
}

// Enabled reports whether a runtime token is configured.
func (h *RuntimeHandler) Enabled() bool { return h.token != "" }

func (h *RuntimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled() || r.URL.Path != "/"+h.token {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("runtime upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRuntimeMessageSize)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !isClosed(err) {
				h.logger.Debug("runtime connection ended", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			h.logger.Error("unexpected runtime message", "type", kind)
			sendClose(conn)
			return
		}
		var registration RuntimeRegistration
		if err := json.Unmarshal(data, &registration); err != nil {
			h.logger.Warn("invalid runtime registration", "error", err)
			sendClose(conn)
			return
		}

		registered := h.tokens.Register(registration.Token,
			origin.New(registration.Identity, registration.Permissions...))
		h.logger.Info("runtime token registration",
			"identity", registration.Identity,
			"permissions", registration.Permissions,
			"registered", registered,
		)
		if err := conn.WriteJSON(RuntimeResult{Result: registered}); err != nil {
			h.logger.Debug("runtime reply failed", "error", err)
			return
		}
	}
}
