package streaming

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnvelopeType distinguishes requests from responses on the wire.
type EnvelopeType string

// Envelope type constants.
const (
	EnvelopeRequest  EnvelopeType = "request"
	EnvelopeResponse EnvelopeType = "response"
)

// Envelope is one decoded wire frame: a request or response header plus its
// content streams.
type Envelope struct {
	Type       EnvelopeType
	ID         string
	Verb       string
	Path       string
	StatusCode int
	Streams    []*ContentStream
}

// header is the JSON wire header. Stream payloads follow the header line in
// declaration order.
type header struct {
	Type       EnvelopeType `json:"type"`
	ID         string       `json:"id"`
	Verb       string       `json:"verb,omitempty"`
	Path       string       `json:"path,omitempty"`
	StatusCode int          `json:"statusCode,omitempty"`
	Streams    []streamInfo `json:"streams"`
}

type streamInfo struct {
	ContentType string `json:"contentType"`
	Length      int    `json:"length"`
}

// Marshal encodes the envelope as a header line followed by the
// concatenated stream payloads.
func (e *Envelope) Marshal() ([]byte, error) {
	h := header{
		Type:       e.Type,
		ID:         e.ID,
		Verb:       e.Verb,
		Path:       e.Path,
		StatusCode: e.StatusCode,
		Streams:    make([]streamInfo, 0, len(e.Streams)),
	}

	total := 0
	for _, s := range e.Streams {
		h.Streams = append(h.Streams, streamInfo{ContentType: s.ContentType, Length: s.Len()})
		total += s.Len()
	}

	head, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope header: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(head)+1+total))
	buf.Write(head)
	buf.WriteByte('\n')
	for _, s := range e.Streams {
		buf.Write(s.Bytes())
	}

	return buf.Bytes(), nil
}

// UnmarshalEnvelope decodes a wire frame into an envelope, slicing the
// payload section into streams per the header's declared lengths.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	sep := bytes.IndexByte(data, '\n')
	if sep < 0 {
		return nil, fmt.Errorf("invalid frame: missing header separator")
	}

	var h header
	if err := json.Unmarshal(data[:sep], &h); err != nil {
		return nil, fmt.Errorf("invalid frame header: %w", err)
	}

	if h.Type != EnvelopeRequest && h.Type != EnvelopeResponse {
		return nil, fmt.Errorf("invalid frame type: %q", h.Type)
	}
	if h.ID == "" {
		return nil, fmt.Errorf("invalid frame: missing id")
	}

	e := &Envelope{
		Type:       h.Type,
		ID:         h.ID,
		Verb:       h.Verb,
		Path:       h.Path,
		StatusCode: h.StatusCode,
		Streams:    make([]*ContentStream, 0, len(h.Streams)),
	}

	payload := data[sep+1:]
	offset := 0
	for i, info := range h.Streams {
		if info.Length < 0 || offset+info.Length > len(payload) {
			return nil, fmt.Errorf("invalid frame: stream %d length %d exceeds payload", i, info.Length)
		}
		e.Streams = append(e.Streams, NewStream(info.ContentType, payload[offset:offset+info.Length]))
		offset += info.Length
	}
	if offset != len(payload) {
		return nil, fmt.Errorf("invalid frame: %d trailing payload bytes", len(payload)-offset)
	}

	return e, nil
}
