package directline

import "context"

// Client is the public facade over the connection controller.
type Client struct {
	ctrl *Controller
}

// New creates a client. No connection is opened until the first call to
// Activities.
func New(opts Options) (*Client, error) {
	ctrl, err := newController(opts)
	if err != nil {
		return nil, err
	}
	return &Client{ctrl: ctrl}, nil
}

// Activities subscribes to the shared inbound activity stream. The first
// subscription initiates the connection handshake; later subscribers share
// the same connection. The subscription channel closes on terminal failure
// or End; Err reports the terminal error.
func (c *Client) Activities() *Subscription {
	return c.ctrl.activities.Subscribe()
}

// ConnectionStatus subscribes to connection state changes. The current
// value is delivered first. The cancel func releases the subscription.
func (c *Client) ConnectionStatus() (<-chan ConnectionStatus, func()) {
	return c.ctrl.status.Subscribe()
}

// PostActivity sends an outbound activity and returns its server-assigned
// id.
func (c *Client) PostActivity(ctx context.Context, a Activity) (string, error) {
	return c.ctrl.PostActivity(ctx, a)
}

// Reconnect swaps the conversation id and token, then performs a fresh
// handshake.
func (c *Client) Reconnect(conversationID, token string) {
	c.ctrl.Reconnect(conversationID, token)
}

// End shuts the client down. Terminal and idempotent.
func (c *Client) End() {
	c.ctrl.End()
}

// ConversationID returns the current conversation id, once known.
func (c *Client) ConversationID() string {
	return c.ctrl.ConversationID()
}
