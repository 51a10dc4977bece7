// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client speaks the api-daemon protocol from the client side.
//
// A [Client] wraps one connection. Requests are numbered with odd
// sequence numbers (the daemon numbers its own calls with even ones)
// and [Client.Call] blocks until the correlated response arrives.
// Events and daemon-initiated requests into client proxies are
// delivered on [Client.Incoming]; answer the latter with
// [Client.Reply].
//
// Unix socket connections are established immediately. WebSocket
// connections perform the token handshake first; see [DialWebSocket].
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/frame"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
)

// dialTimeout covers the connect phase only.
const dialTimeout = 5 * time.Second

// incomingCapacity bounds undelivered events. The read loop blocks
// when it is full.
const incomingCapacity = 256

var (
	// ErrClosed is returned for calls on a connection that has ended.
	ErrClosed = errors.New("client: connection closed")

	// ErrHandshakeRejected means the daemon refused the token.
	ErrHandshakeRejected = errors.New("client: handshake rejected")
)

// PermissionError is returned when the daemon answers a request with a
// permission error.
type PermissionError struct {
	Permission string
	Message    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %q denied: %s", e.Permission, e.Message)
}

// FrameConn carries whole payloads.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
}

// StreamConn frames payloads over a byte stream.
type StreamConn struct {
	conn net.Conn
}

// NewStreamConn wraps conn with the length-prefixed frame codec.
func NewStreamConn(conn net.Conn) *StreamConn { return &StreamConn{conn: conn} }

func (s *StreamConn) ReadFrame() ([]byte, error)      { return frame.Read(s.conn) }
func (s *StreamConn) WriteFrame(payload []byte) error { return frame.Write(s.conn, payload) }
func (s *StreamConn) Close() error                    { return s.conn.Close() }

// WebSocketConn carries one payload per binary message.
type WebSocketConn struct {
	conn *websocket.Conn
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn { return &WebSocketConn{conn: conn} }

func (w *WebSocketConn) ReadFrame() ([]byte, error) {
	kind, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", kind)
	}
	return data, nil
}

func (w *WebSocketConn) WriteFrame(payload []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (w *WebSocketConn) Close() error { return w.conn.Close() }

// Underlying returns the WebSocket connection, for tests that need to
// send non-binary messages.
func (w *WebSocketConn) Underlying() *websocket.Conn { return w.conn }

// DialUnix connects to the daemon's Unix socket.
func DialUnix(ctx context.Context, path string, logger *slog.Logger) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	return New(NewStreamConn(conn), logger), nil
}

// DialWebSocket connects to url (normally ws://host:port/ws) and
// authenticates with token.
func DialWebSocket(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	frames := NewWebSocketConn(conn)
	if err := Handshake(frames, token); err != nil {
		frames.Close()
		return nil, err
	}
	return New(frames, logger), nil
}

// Handshake sends token and waits for the acknowledgement. It must run
// before New starts reading the connection.
func Handshake(conn FrameConn, token string) error {
	request, err := codec.Marshal(protocol.Handshake{Token: token})
	if err != nil {
		return fmt.Errorf("encoding handshake: %w", err)
	}
	if err := conn.WriteFrame(request); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}
	reply, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading handshake acknowledgement: %w", err)
	}
	var ack protocol.HandshakeAck
	if err := codec.Unmarshal(reply, &ack); err != nil {
		return fmt.Errorf("decoding handshake acknowledgement: %w", err)
	}
	if !ack.Success {
		return ErrHandshakeRejected
	}
	return nil
}

// Client is safe for concurrent use.
type Client struct {
	conn   FrameConn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint64]chan protocol.BaseMessage
	sequence uint64
	err      error

	incoming  chan protocol.BaseMessage
	done      chan struct{}
	closeOnce sync.Once
}

// New starts reading conn, which must already be established.
func New(conn FrameConn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		conn:     conn,
		logger:   logger,
		pending:  make(map[uint64]chan protocol.BaseMessage),
		sequence: 1,
		incoming: make(chan protocol.BaseMessage, incomingCapacity),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		data, err := c.conn.ReadFrame()
		if err != nil {
			c.fail(err)
			return
		}
		message, err := protocol.DecodeBaseMessage(data)
		if err != nil {
			c.fail(err)
			return
		}
		if message.IsResponse() {
			c.mu.Lock()
			waiter, ok := c.pending[message.Response()]
			delete(c.pending, message.Response())
			c.mu.Unlock()
			if ok {
				waiter <- message
				continue
			}
			c.logger.Debug("response to unknown sequence", "sequence", message.Response())
			continue
		}
		select {
		case c.incoming <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	for sequence, waiter := range c.pending {
		close(waiter)
		delete(c.pending, sequence)
	}
	c.pending = nil
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection (io.EOF for a clean
// close by the daemon), or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Incoming delivers events and daemon-initiated requests.
func (c *Client) Incoming() <-chan protocol.BaseMessage { return c.incoming }

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

// Send writes message as is.
func (c *Client) Send(message protocol.BaseMessage) error {
	data, err := message.Encode()
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes one payload without encoding it.
func (c *Client) SendRaw(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteFrame(payload); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Call sends a request and waits for its response, which may be a
// permission error.
func (c *Client) Call(ctx context.Context, service, object uint32, content any) (protocol.BaseMessage, error) {
	data, err := codec.Marshal(content)
	if err != nil {
		return protocol.BaseMessage{}, fmt.Errorf("encoding request: %w", err)
	}

	waiter := make(chan protocol.BaseMessage, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return protocol.BaseMessage{}, ErrClosed
	}
	sequence := c.sequence
	c.sequence += 2
	c.pending[sequence] = waiter
	c.mu.Unlock()

	if err := c.Send(protocol.NewRequest(service, object, sequence, data)); err != nil {
		c.forget(sequence)
		return protocol.BaseMessage{}, err
	}

	select {
	case reply, ok := <-waiter:
		if !ok {
			return protocol.BaseMessage{}, fmt.Errorf("%w: %v", ErrClosed, c.Err())
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(sequence)
		return protocol.BaseMessage{}, ctx.Err()
	}
}

func (c *Client) forget(sequence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		delete(c.pending, sequence)
	}
}

// Invoke calls a service and decodes a successful response into
// result. A permission error is returned as *PermissionError.
func (c *Client) Invoke(ctx context.Context, service, object uint32, request, result any) error {
	reply, err := c.Call(ctx, service, object, request)
	if err != nil {
		return err
	}
	if reply.Kind.Type == protocol.KindPermissionError {
		return &PermissionError{Permission: reply.Kind.Permission, Message: reply.Kind.Message}
	}
	if result == nil {
		return nil
	}
	if err := codec.Unmarshal(reply.Content, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Reply answers a daemon-initiated request.
func (c *Client) Reply(request *protocol.BaseMessage, content any) error {
	data, err := codec.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	return c.Send(request.Reply(data))
}
