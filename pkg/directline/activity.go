// Package directline implements a streaming Direct Line chat client. It
// owns the lifecycle of one conversation: session establishment, bearer
// token rotation, inbound activity delivery with startup gating, outbound
// posting with attachment upload, and bounded transparent reconnection.
package directline

import (
	"encoding/json"
	"time"
)

// Protocol constants.
const (
	// DirectLineVersion is the protocol version reported in the bot-agent header
	DirectLineVersion = "DirectLine/3.0"

	// MaxRetryCount bounds reconnection attempts and token refresh retries
	MaxRetryCount = 3

	// RefreshTokenLifetime is the nominal validity window of an issued token
	RefreshTokenLifetime = 30 * time.Minute

	// RefreshTokenInterval is how often the refresher rotates the token
	// (half the token lifetime)
	RefreshTokenInterval = 15 * time.Minute

	// RequestTimeout bounds token refresh and attachment fetch requests
	RequestTimeout = 20 * time.Second
)

// ActivityTypeMessage routes attachment-carrying activities through the
// upload endpoint.
const ActivityTypeMessage = "message"

// ChannelAccount identifies a conversation participant.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Attachment is a piece of content carried by an activity. Inbound
// attachments arrive with a data URI in ContentURL; outbound attachments
// reference an HTTP URL the sender dereferences before upload.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Name        string          `json:"name,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Activity is one chat-protocol message frame. The client forwards
// activities between server and consumer without interpreting content
// beyond the type used for attachment routing.
type Activity struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	From        *ChannelAccount `json:"from,omitempty"`
	Text        string          `json:"text,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ChannelData json.RawMessage `json:"channelData,omitempty"`
}

// ActivitySet is the server's per-push envelope. It always carries exactly
// one activity; attachment bytes ride as additional content streams.
type ActivitySet struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark,omitempty"`
}

// conversationInfo is the body of the conversation handshake response.
type conversationInfo struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
}

// resourceResponse carries the server-assigned id of a posted activity.
type resourceResponse struct {
	ID string `json:"Id"`
}
