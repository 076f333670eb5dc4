package streaming

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// echoServer upgrades each connection and answers every request frame with
// a 200 response carrying one JSON stream.
func echoServer(t *testing.T, onRequest func(*Envelope)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			env, err := UnmarshalEnvelope(data)
			if err != nil {
				t.Logf("Malformed frame: %v", err)
				continue
			}
			if onRequest != nil {
				onRequest(env)
			}

			body, _ := NewJSONStream("application/json", map[string]string{"echo": env.Path})
			reply := &Envelope{
				Type:       EnvelopeResponse,
				ID:         env.ID,
				StatusCode: 200,
				Streams:    []*ContentStream{body},
			}
			out, _ := reply.Marshal()
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// TestSendReceivesResponse tests request/response correlation.
func TestSendReceivesResponse(t *testing.T) {
	server := echoServer(t, nil)
	defer server.Close()

	conn := NewConn(wsURL(server), func(*Request) *Response {
		return NewResponse(200)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	resp, err := conn.Send(ctx, NewRequest("POST", "/v3/directline/conversations"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if len(resp.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(resp.Streams))
	}

	var body map[string]string
	if err := resp.Streams[0].ReadAsJSON(&body); err != nil {
		t.Fatalf("ReadAsJSON failed: %v", err)
	}
	if body["echo"] != "/v3/directline/conversations" {
		t.Errorf("Unexpected echo: %s", body["echo"])
	}
}

// TestSendNotConnected tests Send before Connect.
func TestSendNotConnected(t *testing.T) {
	conn := NewConn("ws://localhost:0", nil, nil)

	_, err := conn.Send(context.Background(), NewRequest("POST", "/x"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

// TestInboundRequestDispatch tests that server-initiated requests reach the
// handler and the handler's response is written back.
func TestInboundRequestDispatch(t *testing.T) {
	serverGotResponse := make(chan *Envelope, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Push a server-initiated request
		body, _ := NewJSONStream("application/json", map[string]any{"activities": []any{}})
		push := &Envelope{
			Type:    EnvelopeRequest,
			ID:      "push-1",
			Verb:    "POST",
			Path:    "/activities",
			Streams: []*ContentStream{body},
		}
		out, _ := push.Marshal()
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			return
		}

		// Read the client's response to the push
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := UnmarshalEnvelope(data)
		if err != nil {
			return
		}
		serverGotResponse <- env

		// Keep the connection open until the test finishes
		conn.ReadMessage()
	}))
	defer server.Close()

	handled := make(chan *Request, 1)
	conn := NewConn(wsURL(server), func(req *Request) *Response {
		handled <- req
		return NewResponse(200)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	select {
	case req := <-handled:
		if req.Verb != "POST" || req.Path != "/activities" {
			t.Errorf("Unexpected request: %s %s", req.Verb, req.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Handler was not invoked")
	}

	select {
	case env := <-serverGotResponse:
		if env.Type != EnvelopeResponse || env.ID != "push-1" {
			t.Errorf("Unexpected response envelope: %+v", env)
		}
		if env.StatusCode != 200 {
			t.Errorf("Expected status 200, got %d", env.StatusCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not receive the response")
	}
}

// TestDisconnectCallback tests that the callback fires once when the server
// closes the connection.
func TestDisconnectCallback(t *testing.T) {
	closeConn := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-closeConn
		conn.Close()
	}))
	defer server.Close()

	var mu sync.Mutex
	calls := 0
	disconnected := make(chan struct{})

	conn := NewConn(wsURL(server), func(*Request) *Response {
		return NewResponse(200)
	}, func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(disconnected)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	close(closeConn)

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect callback did not fire")
	}

	if conn.IsConnected() {
		t.Error("Expected connection to be marked disconnected")
	}

	// Idempotent disconnect must not fire the callback again
	conn.Disconnect()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 disconnect callback, got %d", calls)
	}
}

// TestSendFailsOnConnectionLoss tests that in-flight sends error out when
// the connection drops.
func TestSendFailsOnConnectionLoss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Read the request, then drop the connection without answering
		conn.ReadMessage()
		conn.Close()
	}))
	defer server.Close()

	conn := NewConn(wsURL(server), func(*Request) *Response {
		return NewResponse(200)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, err := conn.Send(ctx, NewRequest("POST", "/x"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}
