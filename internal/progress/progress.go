// Package progress implements the per-job progress broadcast. Each job
// owns a Hub; the pipeline publishes ordered events into it and any number
// of SSE handlers subscribe. Late subscribers replay the full sequence;
// subscribers of an already-terminal job receive one synthetic final
// event. Slow consumers lose the oldest undelivered event first and
// observe the gap as a jump in sequence numbers.
package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/model"
)

// subscriberBuffer is each subscriber's channel capacity. It covers the
// full replay of any normal job; beyond it the slow-consumer policy
// applies.
const subscriberBuffer = 256

// Hub is one job's ordered event stream.
type Hub struct {
	jobID string

	mu     sync.Mutex
	seq    uint64
	events []model.ProgressEvent
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates the hub for a job.
func NewHub(jobID string) *Hub {
	return &Hub{
		jobID: jobID,
		subs:  make(map[*Subscription]struct{}),
	}
}

// Publish stamps the event with the next sequence number and fans it out.
// Percent never decreases: a lower value than the previous event is
// clamped. Publishing a terminal event closes the hub after the fan-out;
// publishing into a closed hub is a no-op.
func (h *Hub) Publish(ev model.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	ev.Seq = h.seq
	if last := len(h.events); last > 0 && ev.Percent < h.events[last-1].Percent {
		ev.Percent = h.events[last-1].Percent
	}
	h.events = append(h.events, ev)

	for s := range h.subs {
		s.offer(ev)
	}
	if ev.Terminal {
		h.closeLocked()
	}
}

// Subscribe registers a new consumer. A live hub replays every event
// published so far; a closed hub delivers one synthetic final event and
// an immediately closed channel.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscription{
		hub: h,
		ch:  make(chan model.ProgressEvent, subscriberBuffer),
	}
	if h.closed {
		if last, ok := h.lastLocked(); ok {
			last.Terminal = true
			s.ch <- last
		}
		s.closed = true
		close(s.ch)
		return s
	}

	for _, ev := range h.events {
		s.offer(ev)
	}
	h.subs[s] = struct{}{}
	return s
}

// Last returns the most recent event, if any.
func (h *Hub) Last() (model.ProgressEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLocked()
}

// Closed reports whether the hub has finished.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close ends the stream. Subscriber channels close once their buffered
// backlog drains. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *Hub) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.closed = true
		close(s.ch)
	}
	h.subs = nil
}

func (h *Hub) lastLocked() (model.ProgressEvent, bool) {
	if len(h.events) == 0 {
		return model.ProgressEvent{}, false
	}
	return h.events[len(h.events)-1], true
}

// Subscription is one consumer's view of a hub.
type Subscription struct {
	hub    *Hub
	ch     chan model.ProgressEvent
	closed bool // guarded by hub.mu
}

// Events is the consumer channel. It closes when the hub closes or the
// subscription is cancelled; buffered events drain first.
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.ch
}

// Cancel detaches the subscription. Safe to call after the hub closed.
func (s *Subscription) Cancel() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
}

// offer delivers without ever blocking the publisher. A full buffer drops
// the oldest undelivered event to make room. Runs under hub.mu, so there
// is exactly one sender per channel.
func (s *Subscription) offer(ev model.ProgressEvent) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		zap.L().Debug("progress: slow subscriber dropped event",
			zap.String("job_id", s.hub.jobID),
			zap.Uint64("seq", ev.Seq),
		)
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}
