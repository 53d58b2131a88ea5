// Package sse implements a Server-Sent Events broker that streams notebook
// changes and run results to clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	// Path is the notebook the event concerns. Clients filtering by path
	// only receive events with that path; empty reaches every client.
	Path string `json:"-"`
}

// Notebook change kinds accepted by PublishNotebookEvent.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// RunEvent reports a finished notebook run.
type RunEvent struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Tag        string `json:"tag,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	// Error is empty for a successful run.
	Error string `json:"error,omitempty"`
}

const (
	clientBuffer = 64
	// historySize is the number of recent events kept for clients resuming
	// with Last-Event-ID.
	historySize = 128
)

type notebookEventReq struct {
	kind string
	path string
}

type subscription struct {
	ch     chan []byte
	path   string
	lastID uint64
}

type record struct {
	id   uint64
	path string
	raw  []byte
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable
// state (clients, event history, tags throttle timestamp). Public methods
// communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	tagsMin   time.Duration
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	notebookCh    chan notebookEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets the interval of the keep-alive comments written to idle
// streams. Zero or negative disables them.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// NewBroker creates a new SSE broker with the given tags.updated throttle
// interval.
func NewBroker(tagsThrottle time.Duration, opts ...Option) *Broker {
	if tagsThrottle <= 0 {
		tagsThrottle = 2 * time.Second
	}

	b := &Broker{
		tagsMin:       tagsThrottle,
		heartbeat:     25 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		notebookCh:    make(chan notebookEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	history := make([]record, 0, historySize)
	var seq uint64
	var lastTags time.Time

	// send never blocks the loop; a client with a full buffer misses the event.
	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, record{id: seq, path: event.Path, raw: raw})

		for ch, filter := range clients {
			if filter == "" || event.Path == "" || filter == event.Path {
				send(ch, raw)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.path
			if sub.lastID == 0 {
				continue
			}
			for _, rec := range history {
				if rec.id > sub.lastID && (sub.path == "" || rec.path == "" || rec.path == sub.path) {
					send(sub.ch, rec.raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.notebookCh:
			switch req.kind {
			case KindCreated, KindUpdated, KindDeleted:
				broadcast(Event{
					Type: "notebook." + req.kind,
					Data: map[string]string{"path": req.path},
					Path: req.path,
				})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastTags) >= b.tagsMin {
				lastTags = now
				broadcast(Event{Type: "tags.updated", Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving every event and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe("", 0)
}

// SubscribePath adds a client receiving only the events of one notebook,
// plus events not tied to a notebook. When lastID is non-zero, retained
// events newer than it are delivered first.
func (b *Broker) SubscribePath(path string, lastID uint64) chan []byte {
	return b.subscribe(path, lastID)
}

func (b *Broker) subscribe(path string, lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, path: path, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNotebookEvent publishes a notebook change (kind is KindCreated,
// KindUpdated or KindDeleted) and a throttled tags.updated event.
func (b *Broker) PublishNotebookEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.notebookCh <- notebookEventReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// PublishRunEvent publishes run.completed, or run.failed when ev carries an
// error.
func (b *Broker) PublishRunEvent(ev RunEvent) {
	typ := "run.completed"
	if ev.Error != "" {
		typ = "run.failed"
	}
	b.Publish(Event{Type: typ, Data: ev, Path: ev.Path})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// path query parameter limits the stream to one notebook; a Last-Event-ID
// header replays the retained events the client missed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.subscribe(r.URL.Query().Get("path"), lastID)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
