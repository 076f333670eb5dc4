package directline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/verastack/switchboard/pkg/logger"
)

// startRefresher launches the token refresh loop once. The loop is scoped
// to the controller's context and exits on End.
func (c *Controller) startRefresher() {
	c.mu.Lock()
	if c.refreshStarted {
		c.mu.Unlock()
		return
	}
	c.refreshStarted = true
	interval := c.refreshInterval
	c.mu.Unlock()

	c.wg.Add(1)
	go c.refreshLoop(interval)
}

// refreshLoop rotates the bearer token every refresh interval. Each tick
// waits for the connection to be Online before refreshing; a fatal
// authentication failure or an exhausted retry budget stops the loop.
func (c *Controller) refreshLoop(interval time.Duration) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
		}

		if !c.awaitOnlineStatus() {
			return
		}

		if !c.refreshToken() {
			return
		}
	}
}

// awaitOnlineStatus blocks until the connection is Online. Returns false
// when the client ends first.
func (c *Controller) awaitOnlineStatus() bool {
	if c.status.Current() == StatusOnline {
		return true
	}

	ch, cancel := c.status.Subscribe()
	defer cancel()

	for {
		select {
		case s, ok := <-ch:
			if !ok || s == StatusEnded {
				return false
			}
			if s == StatusOnline {
				return true
			}
		case <-c.ctx.Done():
			return false
		}
	}
}

// refreshToken performs one refresh cycle: an initial request plus up to
// MaxRetryCount immediate retries on retryable errors. Returns false when
// the loop must stop: a fatal 403/404, or an exhausted budget (token
// cleared, transport disconnected).
func (c *Controller) refreshToken() bool {
	for attempt := 0; ; attempt++ {
		token, expiresIn, status, err := c.requestRefresh()
		if err == nil {
			c.adoptToken(token, expiresIn)
			return true
		}

		if status == http.StatusForbidden || status == http.StatusNotFound {
			logger.Error("Token refresh rejected, giving up", "status", status)
			c.disconnectTransport()
			return false
		}

		if attempt >= MaxRetryCount {
			break
		}
		logger.Warn("Token refresh failed, retrying", "error", err, "retries_left", MaxRetryCount-attempt)
	}

	logger.Error("Token refresh retries exhausted")
	c.mu.Lock()
	c.token = ""
	c.authExhausted = true
	c.mu.Unlock()
	c.disconnectTransport()
	return false
}

// requestRefresh POSTs to the refresh endpoint with the current token.
func (c *Controller) requestRefresh() (token string, expiresIn int, status int, err error) {
	ctx, cancel := context.WithTimeout(c.ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.domain+"/tokens/refresh", nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())
	req.Header.Set("x-ms-bot-agent", c.botAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, resp.StatusCode, fmt.Errorf("token refresh returned status %d", resp.StatusCode)
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if body.Token == "" {
		return "", 0, resp.StatusCode, fmt.Errorf("refresh response missing token")
	}

	return body.Token, body.ExpiresIn, resp.StatusCode, nil
}

// adoptToken installs a rotated token and persists it when a store is
// configured.
func (c *Controller) adoptToken(token string, expiresIn int) {
	c.mu.Lock()
	c.token = token
	conversationID := c.conversationID
	c.mu.Unlock()

	logger.Info("Token refreshed", "expires_in", expiresIn)

	if c.tokenStore == nil || conversationID == "" {
		return
	}

	lifetime := RefreshTokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}
	if err := c.tokenStore.SaveToken(conversationID, token, time.Now().Add(lifetime)); err != nil {
		logger.Warn("Failed to persist refreshed token", "error", err)
	}
}

// disconnectTransport closes the current connection; the disconnection
// callback decides what happens next.
func (c *Controller) disconnectTransport() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
}
