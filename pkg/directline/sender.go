package directline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/verastack/switchboard/pkg/logger"
	"github.com/verastack/switchboard/pkg/streaming"
)

// PostActivity sends an outbound activity and returns its server-assigned
// id. Message activities carrying attachments go through the upload path;
// everything else posts as a single JSON body. Transport-level failures
// disconnect the connection (reconnection is driven by the disconnect
// path, not by retrying the send).
func (c *Controller) PostActivity(ctx context.Context, a Activity) (string, error) {
	c.mu.Lock()
	conn := c.conn
	conversationID := c.conversationID
	c.mu.Unlock()

	if c.status.Current() == StatusEnded {
		return "", ErrEnded
	}
	if conn == nil || conversationID == "" {
		return "", ErrConversationNotStarted
	}

	if a.Type == ActivityTypeMessage && len(a.Attachments) > 0 {
		return c.postWithAttachments(ctx, conn, conversationID, a)
	}
	return c.postPlain(ctx, conn, conversationID, a)
}

// postPlain sends the activity as the sole JSON body stream.
func (c *Controller) postPlain(ctx context.Context, conn StreamingConn, conversationID string, a Activity) (string, error) {
	body, err := streaming.NewJSONStream("application/json; charset=utf-8", a)
	if err != nil {
		return "", err
	}

	req := streaming.NewRequest(http.MethodPost, "/v3/directline/conversations/"+conversationID+"/activities", body)

	resp, err := conn.Send(ctx, req)
	if err != nil {
		logger.Error("Failed to post activity", "error", err)
		conn.Disconnect()
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("post activity returned status %d", resp.StatusCode)
		logger.Error("Failed to post activity", "error", err)
		conn.Disconnect()
		return "", err
	}

	return readResourceID(conn, resp)
}

// postWithAttachments fetches every attachment's bytes, then frames a
// multi-stream upload: the attachment-stripped activity JSON first, the
// fetched payloads after it in source order.
func (c *Controller) postWithAttachments(ctx context.Context, conn StreamingConn, conversationID string, a Activity) (string, error) {
	if a.From == nil || a.From.ID == "" {
		return "", fmt.Errorf("message with attachments requires from.id")
	}

	fetched := make([]*streaming.ContentStream, 0, len(a.Attachments))
	for _, att := range a.Attachments {
		data, err := c.fetchAttachment(ctx, att.ContentURL)
		if err != nil {
			logger.Error("Failed to fetch attachment", "url", att.ContentURL, "error", err)
			return "", err
		}
		fetched = append(fetched, streaming.NewStream(att.ContentType, data))
	}

	stripped := a
	stripped.Attachments = nil
	head, err := streaming.NewJSONStream("application/vnd.microsoft.activity", stripped)
	if err != nil {
		return "", err
	}

	path := "/v3/directline/conversations/" + conversationID + "/users/" + url.PathEscape(a.From.ID) + "/upload"
	req := streaming.NewRequest(http.MethodPut, path, append([]*streaming.ContentStream{head}, fetched...)...)

	resp, err := conn.Send(ctx, req)
	if err != nil {
		logger.Error("Failed to upload attachments", "error", err)
		conn.Disconnect()
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("attachment upload returned status %d", resp.StatusCode)
		logger.Error("Failed to upload attachments", "error", err)
		conn.Disconnect()
		return "", err
	}

	// Some servers answer an upload with no body; tolerated, no id to report.
	if len(resp.Streams) == 0 {
		logger.Warn("Attachment upload response carried no streams")
		return "", nil
	}

	return readResourceID(conn, resp)
}

// readResourceID extracts the server-assigned id from a single-stream
// response.
func readResourceID(conn StreamingConn, resp *streaming.Response) (string, error) {
	if len(resp.Streams) != 1 {
		err := fmt.Errorf("response carried %d streams, want 1", len(resp.Streams))
		logger.Error("Malformed post response", "error", err)
		conn.Disconnect()
		return "", err
	}

	var rr resourceResponse
	if err := resp.Streams[0].ReadAsJSON(&rr); err != nil {
		logger.Error("Malformed post response", "error", err)
		conn.Disconnect()
		return "", err
	}

	return rr.ID, nil
}

// fetchAttachment dereferences an attachment URL to raw bytes.
func (c *Controller) fetchAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}

	return data, nil
}
