// Package streaming implements a framed multi-stream request/response
// protocol over a single WebSocket connection. Each frame carries a JSON
// header line describing the message and its content streams, followed by
// the concatenated stream payloads. Either side can initiate requests; the
// peer answers with a response correlated by envelope id.
package streaming

import (
	"encoding/json"
	"fmt"
)

// ContentStream is one ordered body stream of a request or response.
type ContentStream struct {
	ContentType string
	body        []byte
}

// NewStream creates a content stream from raw bytes.
func NewStream(contentType string, body []byte) *ContentStream {
	return &ContentStream{ContentType: contentType, body: body}
}

// NewTextStream creates a content stream from a UTF-8 string.
func NewTextStream(contentType, text string) *ContentStream {
	return &ContentStream{ContentType: contentType, body: []byte(text)}
}

// NewJSONStream creates a content stream by JSON-encoding v.
func NewJSONStream(contentType string, v any) (*ContentStream, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream body: %w", err)
	}
	return &ContentStream{ContentType: contentType, body: data}, nil
}

// Bytes returns the raw stream payload.
func (s *ContentStream) Bytes() []byte {
	return s.body
}

// Len returns the payload length in bytes.
func (s *ContentStream) Len() int {
	return len(s.body)
}

// ReadAsString returns the payload as a UTF-8 string.
func (s *ContentStream) ReadAsString() string {
	return string(s.body)
}

// ReadAsJSON decodes the payload into v.
func (s *ContentStream) ReadAsJSON(v any) error {
	if err := json.Unmarshal(s.body, v); err != nil {
		return fmt.Errorf("failed to decode stream body: %w", err)
	}
	return nil
}
