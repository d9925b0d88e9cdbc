package hub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/you/liveoverlay/internal/core"
)

// Controller is the control surface the hub exposes to subscribers (the
// desktop shell and overlay UI drive connect/disconnect through it).
type Controller interface {
	Connect(ctx context.Context, username string) error
	Disconnect()
	Status() (connected bool, username string)
}

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub fans canonical events out to all live WebSocket subscribers. Broadcast
// is fire-and-forget, at most once per subscriber per event: a subscriber
// whose send buffer is full is skipped, one whose transport errors is pruned.
type Hub struct {
	ctrl    Controller
	metrics *Metrics

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	ch   chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

type statusMessage struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Username  string `json:"username"`
}

type controlMessage struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
}

func New(ctrl Controller, metrics *Metrics) *Hub {
	return &Hub{
		ctrl:    ctrl,
		metrics: metrics,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Broadcast serializes ev once and delivers it to a snapshot of the current
// subscriber set. Never blocks on a slow subscriber and never raises to the
// caller.
func (h *Hub) Broadcast(ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("hub: encode %s event: %v", ev.Type, err)
		return
	}
	h.metrics.IncEvent(string(ev.Type))

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- data:
		default:
			h.metrics.IncBroadcastDrops()
		}
	}
}

// Subscribers reports the current live subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket subscription: a status
// snapshot first, then every broadcast event, with inbound control frames
// driving the controller.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("hub: accept: %v", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		ch:   make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncSubscribers(1)
	log.Printf("hub: subscriber %s connected (%d total)", sub.id, h.Subscribers())

	defer h.remove(sub, "closed")

	h.sendStatus(sub)
	go h.writePump(sub)
	h.readPump(r.Context(), sub)
}

func (h *Hub) sendStatus(sub *subscriber) {
	connected, username := false, ""
	if h.ctrl != nil {
		connected, username = h.ctrl.Status()
	}
	data, err := json.Marshal(statusMessage{Type: "status", Connected: connected, Username: username})
	if err != nil {
		return
	}
	select {
	case sub.ch <- data:
	default:
	}
}

func (h *Hub) writePump(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.ch:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := sub.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.remove(sub, "write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, sub *subscriber) {
	for {
		_, data, err := sub.conn.Read(ctx)
		if err != nil {
			return
		}

		var ctl controlMessage
		if err := json.Unmarshal(data, &ctl); err != nil {
			continue
		}
		h.handleControl(sub, ctl)
	}
}

func (h *Hub) handleControl(sub *subscriber, ctl controlMessage) {
	if h.ctrl == nil {
		return
	}
	switch ctl.Action {
	case "connect":
		if err := h.ctrl.Connect(context.Background(), ctl.Username); err != nil {
			// the error event has already been broadcast by the router
			log.Printf("hub: connect via subscriber %s: %v", sub.id, err)
		}
	case "disconnect":
		h.ctrl.Disconnect()
	case "status":
		h.sendStatus(sub)
	}
}

func (h *Hub) remove(sub *subscriber, reason string) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	sub.doneOnce.Do(func() { close(sub.done) })
	_ = sub.conn.Close(websocket.StatusNormalClosure, "")

	if present {
		h.metrics.IncSubscribers(-1)
		log.Printf("hub: subscriber %s removed (%s)", sub.id, reason)
	}
}

// Shutdown detaches every subscriber and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.doneOnce.Do(func() { close(sub.done) })
		_ = sub.conn.Close(websocket.StatusGoingAway, "shutting down")
		h.metrics.IncSubscribers(-1)
	}
}
