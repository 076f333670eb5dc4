package directline

import "sync"

// activityFeed is the multicast activity stream behind Client.Activities.
// It is lazy: the first subscription triggers the start hook (the
// connection handshake). Subsequent subscribers share the same underlying
// connection and receive activities published after they join.
type activityFeed struct {
	mu      sync.Mutex
	subs    map[int]chan Activity
	nextID  int
	err     error
	done    bool
	start   func()
	started bool
}

// Subscription is one consumer's view of the activity stream. C closes when
// the stream terminates; Err reports the terminal error, if any.
type Subscription struct {
	C    <-chan Activity
	feed *activityFeed
	id   int
}

func newActivityFeed() *activityFeed {
	return &activityFeed{subs: make(map[int]chan Activity)}
}

// Subscribe registers a consumer and, on the first call, triggers the start
// hook.
func (f *activityFeed) Subscribe() *Subscription {
	f.mu.Lock()

	ch := make(chan Activity, 64)
	id := f.nextID
	f.nextID++

	if f.done {
		close(ch)
		f.mu.Unlock()
		return &Subscription{C: ch, feed: f, id: id}
	}

	f.subs[id] = ch

	var start func()
	if !f.started {
		f.started = true
		start = f.start
	}
	f.mu.Unlock()

	if start != nil {
		go start()
	}

	return &Subscription{C: ch, feed: f, id: id}
}

// publish delivers an activity to every subscriber; the order across
// subscribers is not defined. No-op after the feed terminates.
func (f *activityFeed) publish(a Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return
	}
	for _, ch := range f.subs {
		ch <- a
	}
}

// fail terminates the feed with an error and closes every subscription.
func (f *activityFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return
	}
	f.done = true
	f.err = err

	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// complete terminates the feed without error.
func (f *activityFeed) complete() {
	f.fail(nil)
}

// terminalErr returns the feed's terminal error, if it has one.
func (f *activityFeed) terminalErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Err returns the stream's terminal error. It is meaningful once C has
// closed; a nil result means the stream completed normally.
func (s *Subscription) Err() error {
	return s.feed.terminalErr()
}

// Cancel removes this subscription from the feed.
func (s *Subscription) Cancel() {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[s.id]; ok {
		delete(f.subs, s.id)
		close(ch)
	}
}
