package directline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/verastack/switchboard/pkg/streaming"
)

// fakeConn is a scripted StreamingConn for controller tests.
type fakeConn struct {
	mu           sync.Mutex
	url          string
	handler      streaming.RequestHandler
	onDisconnect func(error)

	connectErr  error
	sendFn      func(f *fakeConn, req *streaming.Request) (*streaming.Response, error)
	requests    []*streaming.Request
	disconnects int
	closed      bool
}

func (f *fakeConn) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeConn) Send(ctx context.Context, req *streaming.Request) (*streaming.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	sendFn := f.sendFn
	f.mu.Unlock()

	if sendFn == nil {
		return streaming.NewResponse(http.StatusNotFound), nil
	}
	return sendFn(f, req)
}

// Disconnect models the transport contract: idempotent close, callback
// fired asynchronously once per established connection.
func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	cb := f.onDisconnect
	f.mu.Unlock()

	if cb != nil {
		go cb(errors.New("connection closed"))
	}
	return nil
}

// simulateClose models the server dropping the connection.
func (f *fakeConn) simulateClose() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cb := f.onDisconnect
	f.mu.Unlock()

	if cb != nil {
		go cb(errors.New("connection reset by peer"))
	}
}

// push delivers a server-initiated request to the registered handler, the
// way the read loop would.
func (f *fakeConn) push(req *streaming.Request) *streaming.Response {
	return f.handler(req)
}

// pushActivitySet frames an activity set push with optional attachment
// streams.
func (f *fakeConn) pushActivitySet(t *testing.T, set any, attachments ...*streaming.ContentStream) *streaming.Response {
	t.Helper()

	body, err := streaming.NewJSONStream("application/json", set)
	if err != nil {
		t.Fatalf("Failed to encode activity set: %v", err)
	}

	streams := append([]*streaming.ContentStream{body}, attachments...)
	return f.push(streaming.NewRequest(http.MethodPost, "/activities", streams...))
}

func (f *fakeConn) sentRequests() []*streaming.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*streaming.Request(nil), f.requests...)
}

func (f *fakeConn) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeDialer manufactures fakeConns and records them in dial order.
type fakeDialer struct {
	mu         sync.Mutex
	conns      []*fakeConn
	connectErr error
	sendFn     func(f *fakeConn, req *streaming.Request) (*streaming.Response, error)
}

func (d *fakeDialer) dial(url string, handler streaming.RequestHandler, onDisconnect func(error)) StreamingConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn := &fakeConn{
		url:          url,
		handler:      handler,
		onDisconnect: onDisconnect,
		connectErr:   d.connectErr,
		sendFn:       d.sendFn,
	}
	d.conns = append(d.conns, conn)
	return conn
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < len(d.conns) {
		return d.conns[i]
	}
	return nil
}

// handshakeOK answers the conversation handshake and post/upload requests
// the way a healthy server would.
func handshakeOK(f *fakeConn, req *streaming.Request) (*streaming.Response, error) {
	switch {
	case req.Verb == http.MethodPost && req.Path == "/v3/directline/conversations":
		body, err := streaming.NewJSONStream("application/json", map[string]string{"conversationId": "conv-test"})
		if err != nil {
			return nil, err
		}
		return streaming.NewResponse(http.StatusOK, body), nil
	default:
		body, err := streaming.NewJSONStream("application/json", map[string]string{"Id": "act-1"})
		if err != nil {
			return nil, err
		}
		return streaming.NewResponse(http.StatusOK, body), nil
	}
}

// newTestClient builds a client wired to the dialer with test-friendly
// reconnect pacing.
func newTestClient(t *testing.T, d *fakeDialer, opts Options) *Client {
	t.Helper()

	if opts.Token == "" {
		opts.Token = "tok-1"
	}
	if opts.Domain == "" {
		opts.Domain = "https://example.com"
	}

	client, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	client.ctrl.dial = d.dial
	client.ctrl.reconnectDelay = func() time.Duration { return time.Millisecond }
	client.ctrl.refreshInterval = time.Hour

	t.Cleanup(client.End)
	return client
}

// waitForStatus consumes the status channel until the wanted state appears.
func waitForStatus(t *testing.T, ch <-chan ConnectionStatus, want ConnectionStatus) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("Status channel closed while waiting for %s", want)
			}
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for status %s", want)
		}
	}
}

// recvActivity receives one activity or fails the test.
func recvActivity(t *testing.T, sub *Subscription) Activity {
	t.Helper()

	select {
	case a, ok := <-sub.C:
		if !ok {
			t.Fatalf("Activity stream closed unexpectedly: %v", sub.Err())
		}
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for activity")
		return Activity{}
	}
}
