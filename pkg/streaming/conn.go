package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/verastack/switchboard/pkg/logger"
)

// Sentinel errors for connection operations.
var (
	// ErrNotConnected is returned by Send when no connection is established
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed is returned by Send when the connection drops
	// before the response arrives
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is a framed multi-stream connection over a WebSocket. Outgoing
// requests are correlated to responses by envelope id; peer-initiated
// requests are dispatched to the registered handler in arrival order.
type Conn struct {
	url          string
	handler      RequestHandler
	onDisconnect func(error)

	conn    *websocket.Conn
	writeMu sync.Mutex
	connMu  sync.Mutex

	pending     map[string]chan *Response
	pendingLock sync.Mutex

	connected atomic.Bool
}

// NewConn creates a connection bound to a URL, an inbound request handler,
// and a disconnection callback. The callback fires asynchronously, at most
// once per established connection, when the read loop exits.
func NewConn(url string, handler RequestHandler, onDisconnect func(error)) *Conn {
	return &Conn{
		url:          url,
		handler:      handler,
		onDisconnect: onDisconnect,
		pending:      make(map[string]chan *Response),
	}
}

// Connect performs the WebSocket handshake and starts the read loop.
func (c *Conn) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.conn = conn
	c.connected.Store(true)

	var once sync.Once
	go c.readLoop(conn, &once)

	logger.Debug("Streaming connection established", "url", c.url)
	return nil
}

// Disconnect closes the WebSocket connection. It is idempotent; the
// disconnection callback fires asynchronously via the read loop exit.
func (c *Conn) Disconnect() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	c.connected.Store(false)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected returns true while the read loop is live.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// Send transmits a request and waits for the correlated response.
func (c *Conn) Send(ctx context.Context, req *Request) (*Response, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	env := &Envelope{
		Type:    EnvelopeRequest,
		ID:      uuid.NewString(),
		Verb:    req.Verb,
		Path:    req.Path,
		Streams: req.Streams,
	}

	data, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	replyChan := make(chan *Response, 1)
	c.pendingLock.Lock()
	c.pending[env.ID] = replyChan
	c.pendingLock.Unlock()

	defer func() {
		c.pendingLock.Lock()
		delete(c.pending, env.ID)
		c.pendingLock.Unlock()
	}()

	if err := c.writeFrame(conn, data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp, ok := <-replyChan:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame serializes access to the WebSocket writer.
func (c *Conn) writeFrame(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// readLoop reads frames until the connection drops. Inbound requests are
// handled synchronously so server request order is preserved.
func (c *Conn) readLoop(conn *websocket.Conn, once *sync.Once) {
	var cause error

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", "error", err)
			}
			cause = err
			break
		}

		env, err := UnmarshalEnvelope(data)
		if err != nil {
			logger.Warn("Dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case EnvelopeResponse:
			c.routeResponse(env)
		case EnvelopeRequest:
			c.handleRequest(conn, env)
		}
	}

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	c.connected.Store(false)

	// Fail any in-flight sends
	c.pendingLock.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingLock.Unlock()

	once.Do(func() {
		if c.onDisconnect != nil {
			go c.onDisconnect(cause)
		}
	})
}

// routeResponse delivers a response envelope to the waiting sender.
func (c *Conn) routeResponse(env *Envelope) {
	c.pendingLock.Lock()
	replyChan, exists := c.pending[env.ID]
	if exists {
		delete(c.pending, env.ID)
	}
	c.pendingLock.Unlock()

	if !exists {
		logger.Warn("Response for unknown request", "id", env.ID)
		return
	}

	replyChan <- &Response{StatusCode: env.StatusCode, Streams: env.Streams}
}

// handleRequest dispatches a peer-initiated request and writes the
// handler's response back.
func (c *Conn) handleRequest(conn *websocket.Conn, env *Envelope) {
	req := &Request{Verb: env.Verb, Path: env.Path, Streams: env.Streams}

	resp := c.handler(req)
	if resp == nil {
		resp = NewResponse(http.StatusInternalServerError)
	}

	reply := &Envelope{
		Type:       EnvelopeResponse,
		ID:         env.ID,
		StatusCode: resp.StatusCode,
		Streams:    resp.Streams,
	}

	data, err := reply.Marshal()
	if err != nil {
		logger.Error("Failed to encode response frame", "error", err)
		return
	}

	if err := c.writeFrame(conn, data); err != nil {
		logger.Warn("Failed to write response frame", "error", err)
	}
}
