// Package hub implements the in-process broadcast fan-out between platform
// adapters and display surfaces.
//
// Every subscriber owns an ordered queue drained by its own goroutine, so a
// slow reader never blocks Publish or other subscribers. Publish appends to
// each queue while holding the hub lock, which keeps the order of successive
// Publish calls from one caller intact for every subscriber. A subscriber whose
// queue grows past the configured limit is evicted and its channel closed.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/telemetry"
)

// DefaultBufferLimit is the per-subscriber queue size used when none is configured.
const DefaultBufferLimit = 1024

const (
	EventChatMessage = "chat_message"
	EventClearChat   = "clear_chat"
)

// Event is one delivery to a subscriber. Data is nil for clear_chat.
type Event struct {
	Name string           `json:"event"`
	Data *message.Message `json:"data,omitempty"`
}

// Encode renders the event as the JSON frame sent to display surfaces.
func (e Event) Encode() ([]byte, error) { return json.Marshal(e) }

// Hub fans published messages out to all current subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	limit  int
	now    func() time.Time
}

// New creates a hub whose subscribers may fall at most limit events behind.
func New(limit int) *Hub {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &Hub{subs: make(map[uint64]*Subscription), limit: limit, now: time.Now}
}

// Subscribe registers a new subscriber. The first event on its channel is
// always the synthetic welcome message.
func (h *Hub) Subscribe() *Subscription {
	welcome := message.Welcome(h.now())
	s := &Subscription{
		out:     make(chan Event),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		queue:   []Event{{Name: EventChatMessage, Data: &welcome}},
	}
	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	s.notify()
	go s.pump()
	telemetry.SetHubSubscribers(n)
	return s
}

// Unsubscribe removes s. Once it returns, s's channel is closed and receives
// nothing further. Calling it more than once is safe.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, s.id)
	n := len(h.subs)
	h.mu.Unlock()
	s.stop()
	<-s.stopped
	telemetry.SetHubSubscribers(n)
}

// Publish delivers m to every current subscriber. It never blocks on a subscriber:
// a subscriber whose queue already holds the configured limit is evicted
// instead, so delivery is exactly once only for subscribers that keep up.
func (h *Hub) Publish(m message.Message) {
	h.broadcast(Event{Name: EventChatMessage, Data: &m})
	telemetry.IncHubPublished()
}

// BroadcastClear tells every subscriber to discard its buffered messages.
func (h *Hub) BroadcastClear() {
	h.broadcast(Event{Name: EventClearChat})
}

func (h *Hub) broadcast(ev Event) {
	var evicted []uint64
	h.mu.Lock()
	for id, s := range h.subs {
		if !s.enqueue(ev, h.limit) {
			delete(h.subs, id)
			evicted = append(evicted, id)
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	for _, id := range evicted {
		slog.Warn("hub: subscriber too slow, dropped", slog.Uint64("subscriber", id), slog.Int("limit", h.limit))
		telemetry.IncHubEvicted()
	}
	if len(evicted) > 0 {
		telemetry.SetHubSubscribers(n)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		h.Unsubscribe(s)
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id uint64

	mu     sync.Mutex
	queue  []Event
	closed bool

	out     chan Event
	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// ID returns the hub-assigned subscriber id.
func (s *Subscription) ID() uint64 { return s.id }

// Events returns the delivery channel. It is closed when the subscription ends,
// either through Unsubscribe or eviction.
func (s *Subscription) Events() <-chan Event { return s.out }

// Done is closed as soon as the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// enqueue appends ev and reports false if the queue is over limit.
func (s *Subscription) enqueue(ev Event, limit int) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= limit {
		s.mu.Unlock()
		s.stop()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) pump() {
	defer close(s.stopped)
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}
