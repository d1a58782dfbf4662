// Package sse streams engine notifications to connected clients as Server-Sent Events.
package sse

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var errClosed = errors.New("subscriber closed")

// DefaultHeartbeat keeps idle connections open through proxies that time out silent streams.
const DefaultHeartbeat = 25 * time.Second

// Subscriber is one open event stream. A non-empty UserID limits it to that user's events.
type Subscriber struct {
	w      http.ResponseWriter
	flush  http.Flusher
	done   chan struct{}
	ID     string
	UserID string
	mu     sync.Mutex
	closed bool
}

// Done is closed when the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}

// close stops further writes; the handler may already have returned.
func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// Stats counts hub activity.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Sent        int64 `json:"sent"`
	Evicted     int64 `json:"evicted"`
}

// Hub fans events out to subscribers.
type Hub struct {
	subs      map[string]*Subscriber
	heartbeat time.Duration
	seq       atomic.Uint64
	nextSub   atomic.Uint64
	sent      atomic.Int64
	evicted   atomic.Int64
	mu        sync.RWMutex
}

// NewHub creates a hub. A heartbeat of zero disables keep-alive comments.
func NewHub(heartbeat time.Duration) *Hub {
	return &Hub{
		subs:      make(map[string]*Subscriber),
		heartbeat: heartbeat,
	}
}

// Subscribe registers w as a stream. w must support flushing.
func (h *Hub) Subscribe(w http.ResponseWriter, userID string) (*Subscriber, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer %T cannot stream", w)
	}
	sub := &Subscriber{
		w:      w,
		flush:  flusher,
		done:   make(chan struct{}),
		ID:     "sub-" + strconv.FormatUint(h.nextSub.Add(1), 10),
		UserID: userID,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	log.Debug().Str("subscriber", sub.ID).Str("user", userID).Int("subscribers", n).Msg("SSE subscriber joined")
	return sub, nil
}

// Unsubscribe removes sub and closes its Done channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()

	if ok {
		sub.close()
		log.Debug().Str("subscriber", sub.ID).Msg("SSE subscriber left")
	}
}

// Publish sends event to every subscriber watching userID (and to unfiltered ones).
// Each published event gets the next sequence number as its SSE id.
// Subscribers whose connection fails are evicted.
func (h *Hub) Publish(event, userID string, data any) {
	frame, err := encodeFrame(h.seq.Add(1), event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode SSE event")
		return
	}

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.UserID == "" || sub.UserID == userID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		err := sub.send(frame)
		if errors.Is(err, errClosed) {
			continue
		}
		if err != nil {
			log.Debug().Err(err).Str("subscriber", sub.ID).Msg("Evicting SSE subscriber")
			h.evicted.Add(1)
			h.Unsubscribe(sub)
			continue
		}
		h.sent.Add(1)
	}
}

// encodeFrame renders one SSE message. Event ids let clients resume with Last-Event-ID.
func encodeFrame(id uint64, event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// CloseAll ends every stream so their handlers return.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{Subscribers: n, Sent: h.sent.Load(), Evicted: h.evicted.Load()}
}

// ServeHTTP streams events. The optional "user" query parameter filters the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")

	sub, err := h.Subscribe(w, r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer h.Unsubscribe(sub)

	hello, err := encodeFrame(0, "connected", map[string]string{"subscriber": sub.ID})
	if err != nil || sub.send(hello) != nil {
		return
	}

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case <-tick:
			if sub.send([]byte(": ping\n\n")) != nil {
				return
			}
		}
	}
}
