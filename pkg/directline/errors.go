package directline

import "errors"

// Sentinel errors for client operations
var (
	// ErrTokenUnavailable is the terminal error when reconnection is
	// impossible because token refresh gave up
	ErrTokenUnavailable = errors.New("token unavailable")

	// ErrMalformedActivitySet is the terminal error for a server push whose
	// activity set does not contain exactly one activity
	ErrMalformedActivitySet = errors.New("activity set must contain exactly one activity")

	// ErrMaxRetriesExceeded is the terminal error when the reconnection
	// budget is exhausted and the last disconnect carried no cause; when it
	// did carry one, that cause is reported instead
	ErrMaxRetriesExceeded = errors.New("maximum reconnection attempts exceeded")

	// ErrConversationNotStarted is returned by PostActivity while no
	// transport has been opened or no conversation id is known yet
	ErrConversationNotStarted = errors.New("conversation not started")

	// ErrEnded is returned for operations on an ended client
	ErrEnded = errors.New("client ended")
)
