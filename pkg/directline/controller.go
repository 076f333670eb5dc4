package directline

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/verastack/switchboard/pkg/logger"
	"github.com/verastack/switchboard/pkg/streaming"
)

// Reconnect delay bounds: a fixed floor plus uniform jitter.
const (
	reconnectDelayFloor  = 3 * time.Second
	reconnectDelayJitter = 12 * time.Second
)

// domainPattern matches the http/https service URLs the client accepts.
var domainPattern = regexp.MustCompile(`^http(s?)://`)

// secureRandomDuration returns a cryptographically secure random duration
// in the range [0, max). This is used for jitter to prevent timing attacks
// and thundering herd problems.
func secureRandomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	_, err := cryptorand.Read(b[:])
	if err != nil {
		// Fallback to zero jitter if crypto/rand fails (very unlikely)
		return 0
	}
	n := binary.LittleEndian.Uint64(b[:])
	return time.Duration(n % uint64(max))
}

// TokenStore persists rotated tokens. Implemented by storage.TokenStore.
type TokenStore interface {
	SaveToken(conversationID, token string, expiresAt time.Time) error
}

// Options configures a client.
type Options struct {
	// Token is the initial bearer token (required)
	Token string

	// Domain is the http(s) service base URL (required)
	Domain string

	// ConversationID resumes an existing conversation when set
	ConversationID string

	// BotAgent is appended to the bot-agent header when set
	BotAgent string

	// TokenStore receives rotated tokens when set
	TokenStore TokenStore

	// HTTPClient overrides the client used for token refresh and
	// attachment fetch. Defaults to a client with the request timeout.
	HTTPClient *http.Client
}

// Controller owns the connection state machine: handshake, status
// publication, startup queue gating, token refresh, bounded reconnection,
// and teardown.
type Controller struct {
	domain   string
	botAgent string

	mu             sync.Mutex
	token          string
	authExhausted  bool
	conversationID string
	conn           StreamingConn
	gen            int // connection generation; stale disconnect callbacks are ignored
	queueActivities bool
	queue          []Activity
	retryCount     int
	refreshStarted bool

	activities *activityFeed
	status     *statusFeed
	ownStatus  <-chan ConnectionStatus // the controller's own observer, for the Online barrier

	dial            DialFunc
	httpClient      *http.Client
	tokenStore      TokenStore
	refreshInterval time.Duration
	reconnectDelay  func() time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	endOnce sync.Once
}

// newController validates options and builds the state machine. The
// connection is not opened until the first activity subscription.
func newController(opts Options) (*Controller, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if !domainPattern.MatchString(opts.Domain) {
		return nil, fmt.Errorf("domain must start with http:// or https://, got: %s", opts.Domain)
	}

	botAgent := DirectLineVersion + " (directlineStreaming)"
	if opts.BotAgent != "" {
		botAgent = DirectLineVersion + " (directlineStreaming; " + opts.BotAgent + ")"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		domain:          strings.TrimSuffix(opts.Domain, "/"),
		botAgent:        botAgent,
		token:           opts.Token,
		conversationID:  opts.ConversationID,
		retryCount:      MaxRetryCount,
		activities:      newActivityFeed(),
		status:          newStatusFeed(),
		dial:            defaultDial,
		httpClient:      httpClient,
		tokenStore:      opts.TokenStore,
		refreshInterval: RefreshTokenInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
	c.reconnectDelay = func() time.Duration {
		return reconnectDelayFloor + secureRandomDuration(reconnectDelayJitter)
	}
	c.activities.start = c.start

	ownStatus, _ := c.status.Subscribe()
	c.ownStatus = ownStatus

	return c, nil
}

// start runs on the first activity subscription: it launches the token
// refresher and performs the initial handshake.
func (c *Controller) start() {
	c.startRefresher()
	c.connect()
}

// connectURL rewrites the service domain to a ws(s) URL with the connect
// path and encoded credentials.
func (c *Controller) connectURL(token, conversationID string) (string, error) {
	m := domainPattern.FindStringSubmatch(c.domain)
	if m == nil {
		return "", fmt.Errorf("domain must start with http:// or https://, got: %s", c.domain)
	}

	u, err := url.Parse("ws" + m[1] + strings.TrimPrefix(c.domain, "http"+m[1]))
	if err != nil {
		return "", fmt.Errorf("invalid domain: %w", err)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/conversations/connect"

	q := url.Values{}
	q.Set("token", token)
	if conversationID != "" {
		q.Set("conversationId", conversationID)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// connect performs one handshake attempt. Failures before the transport is
// established route directly into the disconnect path; failures after it
// close the transport and let the read-loop callback drive reconnection.
func (c *Controller) connect() {
	c.mu.Lock()
	if c.status.Current() == StatusEnded {
		c.mu.Unlock()
		return
	}
	c.queueActivities = true
	c.gen++
	gen := c.gen
	token := c.token
	conversationID := c.conversationID
	c.mu.Unlock()

	if c.status.Current() != StatusConnecting {
		c.status.publish(StatusConnecting)
	}

	connectURL, err := c.connectURL(token, conversationID)
	if err != nil {
		c.handleDisconnect(gen, err)
		return
	}

	handler := &inboundHandler{ctrl: c}
	conn := c.dial(connectURL, handler.handle, func(cause error) {
		c.handleDisconnect(gen, cause)
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, RequestTimeout)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		logger.Error("Transport connect failed", "error", err)
		c.handleDisconnect(gen, err)
		return
	}

	if err := c.handshake(ctx, conn); err != nil {
		logger.Error("Handshake failed", "error", err)
		conn.Disconnect()
		return
	}

	logger.Info("Conversation online", "conversation_id", c.ConversationID())
}

// handshake starts or resumes the conversation over the established
// transport, publishes Online, and flushes the startup queue once Online
// has been observed.
func (c *Controller) handshake(ctx context.Context, conn StreamingConn) error {
	req := streaming.NewRequest(http.MethodPost, "/v3/directline/conversations")

	resp, err := conn.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("conversation start failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("conversation start returned status %d", resp.StatusCode)
	}
	if len(resp.Streams) != 1 {
		return fmt.Errorf("conversation start returned %d streams, want 1", len(resp.Streams))
	}

	var info conversationInfo
	if err := resp.Streams[0].ReadAsJSON(&info); err != nil {
		return fmt.Errorf("conversation start response: %w", err)
	}
	if info.ConversationID == "" {
		return errors.New("conversation start response missing conversationId")
	}

	c.mu.Lock()
	c.conversationID = info.ConversationID
	c.mu.Unlock()

	c.status.publish(StatusOnline)

	// The flush must not outrace status observers: wait until our own
	// observer has seen Online, which guarantees every subscriber channel
	// was enqueued first.
	c.awaitOnline()
	c.flushQueue()

	c.mu.Lock()
	c.retryCount = MaxRetryCount
	c.mu.Unlock()

	return nil
}

// awaitOnline drains the controller's own status subscription until Online
// is observed.
func (c *Controller) awaitOnline() {
	for {
		select {
		case s, ok := <-c.ownStatus:
			if !ok || s == StatusOnline {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// flushQueue publishes queued activities in arrival order and opens the
// gate. Holding the lock across the publishes orders late arrivals strictly
// after the flush.
func (c *Controller) flushQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	queued := c.queue
	c.queue = nil
	c.queueActivities = false

	for _, a := range queued {
		c.activities.publish(a)
	}
}

// deliver routes an inbound activity to the startup queue or the feed.
func (c *Controller) deliver(a Activity) {
	c.mu.Lock()
	if c.queueActivities {
		c.queue = append(c.queue, a)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.activities.publish(a)
}

// failActivities terminally errors the activity feed.
func (c *Controller) failActivities(err error) {
	logger.Error("Activity stream failed", "error", err)
	c.activities.fail(err)
}

// handleDisconnect is the disconnection callback for connection generation
// gen. It is a no-op after End, terminal when auth is exhausted or the
// retry budget runs out, and otherwise schedules a jittered re-handshake.
func (c *Controller) handleDisconnect(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++ // consume this generation

	if c.status.Current() == StatusEnded {
		c.mu.Unlock()
		return
	}

	if c.authExhausted || c.token == "" {
		c.mu.Unlock()
		c.failActivities(ErrTokenUnavailable)
		return
	}

	c.retryCount--
	retries := c.retryCount
	c.mu.Unlock()

	if retries <= 0 {
		if cause == nil {
			cause = ErrMaxRetriesExceeded
		}
		c.failActivities(cause)
		return
	}

	c.status.publish(StatusConnecting)

	delay := c.reconnectDelay()
	logger.Info("Scheduling reconnect", "delay", delay, "retries_left", retries, "cause", cause)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(delay):
			c.connect()
		case <-c.ctx.Done():
		}
	}()
}

// Reconnect swaps credentials and performs a fresh handshake. As an
// explicit user action it does not consume the retry budget.
func (c *Controller) Reconnect(conversationID, token string) {
	c.mu.Lock()
	if c.status.Current() == StatusEnded {
		c.mu.Unlock()
		return
	}
	c.conversationID = conversationID
	c.token = token
	c.authExhausted = false
	conn := c.conn
	c.conn = nil
	c.gen++ // orphan the old connection so its callback is ignored
	c.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connect()
	}()
}

// End shuts the client down: Ended is published, the transport is
// disconnected exactly once, and both feeds terminate. Idempotent.
func (c *Controller) End() {
	c.endOnce.Do(func() {
		c.status.publish(StatusEnded)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.gen++ // suppress the disconnect callback
		c.mu.Unlock()

		c.cancel()

		if conn != nil {
			conn.Disconnect()
		}

		c.status.close()
		c.activities.complete()
		logger.Info("Client ended")
	})
}

// ConversationID returns the current conversation id, once known.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// currentToken returns the current bearer token.
func (c *Controller) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
