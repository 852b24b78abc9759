package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
)

// Broadcaster is the single process-wide fan-out point for board events.
// One channel per project id plus the wildcard channel, which mirrors
// everything. Created once in main, closed at shutdown; nothing here is
// persisted and there is no replay.
type Broadcaster struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewBroadcaster(logger *zap.Logger, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		logger: logger,
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Publish hands the event to every live subscriber of the project channel
// and the wildcard channel. Fire-and-forget: a full subscriber queue drops
// the event for that subscriber only, and publishing never blocks the
// mutation path.
func (b *Broadcaster) Publish(ev model.BoardEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs[ev.ProjectID] {
		s.deliver(ev, b.logger)
	}
	for s := range b.subs[model.WildcardChannel] {
		s.deliver(ev, b.logger)
	}
}

// Subscribe opens a live sequence on a project channel or the wildcard.
// Events published before the call are not replayed. origin is the
// subscriber's own client marker; events carrying the same marker are
// suppressed so a client never hears its own mutations echoed back.
func (b *Broadcaster) Subscribe(channelKey string, origin *string) *Subscription {
	s := &Subscription{
		b:      b,
		key:    channelKey,
		origin: origin,
		ch:     make(chan model.BoardEvent, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.done = true
		return s
	}
	set, ok := b.subs[channelKey]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[channelKey] = set
	}
	set[s] = struct{}{}
	return s
}

// Close tears down every subscription. Publish becomes a no-op afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			if !s.done {
				s.done = true
				close(s.ch)
			}
		}
	}
	b.subs = nil
}

// Subscription is one consumer's view of a channel. Each subscriber gets its
// own copy of every event; there are no acks.
type Subscription struct {
	b      *Broadcaster
	key    string
	origin *string
	ch     chan model.BoardEvent
	done   bool // guarded by b.mu
}

// Events yields the live sequence. The channel is closed when the
// subscription or the broadcaster shuts down.
func (s *Subscription) Events() <-chan model.BoardEvent {
	return s.ch
}

// Close unregisters the subscriber so the broadcaster stops queueing for it.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if set, ok := s.b.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.b.subs, s.key)
		}
	}
	close(s.ch)
}

// deliver runs under the broadcaster's read lock, so s.ch cannot be closed
// concurrently (Close takes the write lock).
func (s *Subscription) deliver(ev model.BoardEvent, logger *zap.Logger) {
	// Echo suppression: the originator already applied the change
	// optimistically. Nil-origin (server-initiated) events reach everyone.
	if ev.Origin != nil && s.origin != nil && *ev.Origin == *s.origin {
		return
	}
	select {
	case s.ch <- ev:
	default:
		logger.Warn("subscriber lagging, dropping event",
			zap.String("channel", s.key),
			zap.String("action", string(ev.Action)),
		)
	}
}
