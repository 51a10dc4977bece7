// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/apidaemon/lib/clock"
	"github.com/bureau-foundation/apidaemon/lib/metrics"
	"github.com/bureau-foundation/apidaemon/lib/netutil"
	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/session"
	"github.com/bureau-foundation/apidaemon/lib/tokens"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// writeTimeout bounds writing one frame to a client.
const writeTimeout = 10 * time.Second

// Config is the process-wide state shared by every connection of
// every transport.
type Config struct {
	Registry *registry.Registry
	Tokens   *tokens.Manager

	// SessionIDs allocates session ids. Transports of one daemon must
	// share it.
	SessionIDs *tracker.IDFactory

	// Connections indexes live connections by session id.
	Connections *outbound.Group

	// SlowThreshold is passed to each session.
	SlowThreshold time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionIDs == nil {
		c.SessionIDs = tracker.NewIDFactory(1, 1)
	}
	if c.Connections == nil {
		c.Connections = outbound.NewGroup()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// frameReader returns the next inbound payload.
type frameReader func() ([]byte, error)

// serveConnection runs one connection to completion on the calling
// goroutine. established is nil for connections that must handshake.
func (c *Config) serveConnection(name string, read frameReader, writer outbound.FrameWriter, established *origin.Attributes, logger *slog.Logger) {
	id := c.SessionIDs.Next()
	logger = logger.With("session", id)

	queue := outbound.NewQueue(outbound.DefaultCapacity, logger)
	c.Connections.Add(id, queue)
	defer c.Connections.Remove(id)
	c.Metrics.SessionOpened(name)

	written := make(chan error, 1)
	go func() { written <- queue.Run(writer) }()

	config := session.Config{
		ID:            id,
		Registry:      c.Registry,
		Tokens:        c.Tokens,
		Queue:         queue,
		Transport:     name,
		SlowThreshold: c.SlowThreshold,
		Clock:         c.Clock,
		Metrics:       c.Metrics,
		Logger:        logger,
	}
	var current *session.Session
	if established != nil {
		current = session.NewEstablished(config, *established)
	} else {
		current = session.New(config)
	}

	for {
		payload, err := read()
		if err != nil {
			if !isClosed(err) {
				logger.Info("connection read failed", "error", err)
			}
			break
		}
		if err := current.OnMessage(payload); err != nil {
			logger.Info("closing connection", "error", err)
			break
		}
	}

	current.Close()
	queue.Close()
	if err := <-written; err != nil {
		logger.Debug("connection write ended", "error", err)
	}
	c.Metrics.SessionClosed(name, queue.BytesSent())
	logger.Debug("connection closed", "bytes_sent", queue.BytesSent())
}

// isClosed reports whether err is an orderly end of the connection.
func isClosed(err error) bool {
	return netutil.IsExpectedCloseError(err) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
