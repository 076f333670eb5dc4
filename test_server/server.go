// Standalone mock Direct Line streaming server for manual end-to-end runs.
// It accepts streaming connections, answers the conversation handshake and
// token refresh, and echoes posted activities back as server pushes.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/verastack/switchboard/pkg/streaming"
)

var upgrader = websocket.Upgrader{}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	http.HandleFunc("/conversations/connect", handleConnect)
	http.HandleFunc("/tokens/refresh", handleRefresh)

	log.Printf("Mock Direct Line server starting on %s", *addr)
	log.Println("Endpoints:")
	log.Println("  WS   /conversations/connect?token=...")
	log.Println("  POST /tokens/refresh")

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// handleRefresh rotates the bearer token. Any non-empty token is accepted.
func handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, "Missing bearer token", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"token":      "mock-token-" + uuid.NewString(),
		"expires_in": 1800,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding refresh response: %v", err)
	}

	log.Printf("POST /tokens/refresh - 200 OK")
}

// handleConnect upgrades to a streaming connection and serves framed
// requests on it.
func handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		http.Error(w, "Missing token", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}

	session := &session{
		conn:           conn,
		conversationID: r.URL.Query().Get("conversationId"),
	}
	if session.conversationID == "" {
		session.conversationID = "conv-" + uuid.NewString()
	}

	log.Printf("Streaming connection opened, conversation %s", session.conversationID)
	session.serve()
	log.Printf("Streaming connection closed, conversation %s", session.conversationID)
}

type session struct {
	conn           *websocket.Conn
	writeMu        sync.Mutex
	conversationID string
}

func (s *session) serve() {
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := streaming.UnmarshalEnvelope(data)
		if err != nil {
			log.Printf("Dropping malformed frame: %v", err)
			continue
		}
		if env.Type != streaming.EnvelopeRequest {
			continue
		}

		resp, echo := s.handleRequest(env)
		s.writeEnvelope(&streaming.Envelope{
			Type:       streaming.EnvelopeResponse,
			ID:         env.ID,
			StatusCode: resp.StatusCode,
			Streams:    resp.Streams,
		})

		// Echo posted activities back as a server push after the response
		if echo != nil {
			s.pushActivity(echo, env.Streams[1:])
		}
	}
}

// handleRequest answers one client request. The second return value, when
// non-nil, is an activity to echo back to the client.
func (s *session) handleRequest(env *streaming.Envelope) (*streaming.Response, map[string]any) {
	log.Printf("%s %s (%d streams)", env.Verb, env.Path, len(env.Streams))

	switch {
	case env.Verb == http.MethodPost && env.Path == "/v3/directline/conversations":
		body, err := streaming.NewJSONStream("application/json", map[string]any{
			"conversationId": s.conversationID,
			"expires_in":     1800,
		})
		if err != nil {
			return streaming.NewResponse(http.StatusInternalServerError), nil
		}
		return streaming.NewResponse(http.StatusOK, body), nil

	case env.Verb == http.MethodPost && strings.HasSuffix(env.Path, "/activities"):
		if len(env.Streams) != 1 {
			return streaming.NewResponse(http.StatusBadRequest), nil
		}
		var activity map[string]any
		if err := env.Streams[0].ReadAsJSON(&activity); err != nil {
			return streaming.NewResponse(http.StatusBadRequest), nil
		}
		id := uuid.NewString()
		body, err := streaming.NewJSONStream("application/json", map[string]string{"Id": id})
		if err != nil {
			return streaming.NewResponse(http.StatusInternalServerError), nil
		}
		activity["id"] = id
		return streaming.NewResponse(http.StatusOK, body), activity

	case env.Verb == http.MethodPut && strings.HasSuffix(env.Path, "/upload"):
		if len(env.Streams) < 1 {
			return streaming.NewResponse(http.StatusBadRequest), nil
		}
		var activity map[string]any
		if err := env.Streams[0].ReadAsJSON(&activity); err != nil {
			return streaming.NewResponse(http.StatusBadRequest), nil
		}
		id := uuid.NewString()
		body, err := streaming.NewJSONStream("application/json", map[string]string{"Id": id})
		if err != nil {
			return streaming.NewResponse(http.StatusInternalServerError), nil
		}
		activity["id"] = id
		return streaming.NewResponse(http.StatusOK, body), activity

	default:
		return streaming.NewResponse(http.StatusNotFound), nil
	}
}

// pushActivity frames an activity set as a server-initiated request,
// carrying any attachment streams after the JSON envelope.
func (s *session) pushActivity(activity map[string]any, attachments []*streaming.ContentStream) {
	activity["timestamp"] = time.Now().Format(time.RFC3339)

	set, err := streaming.NewJSONStream("application/json", map[string]any{
		"activities": []any{activity},
	})
	if err != nil {
		log.Printf("Failed to encode activity set: %v", err)
		return
	}

	s.writeEnvelope(&streaming.Envelope{
		Type:    streaming.EnvelopeRequest,
		ID:      uuid.NewString(),
		Verb:    http.MethodPost,
		Path:    fmt.Sprintf("/v3/directline/conversations/%s/activities", s.conversationID),
		Streams: append([]*streaming.ContentStream{set}, attachments...),
	})
}

func (s *session) writeEnvelope(env *streaming.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		log.Printf("Failed to encode frame: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Printf("Failed to write frame: %v", err)
	}
}
