package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"tradepit/internal/game"
	"tradepit/internal/wire"
)

const (
	eventQueueSize = 1024
	clientSendSize = 64
)

// HubMetrics receives connection and delivery counters.
type HubMetrics interface {
	SessionOpened()
	SessionClosed()
	PublishDropped()
	SlowClientDropped()
}

type nopHubMetrics struct{}

func (nopHubMetrics) SessionOpened()     {}
func (nopHubMetrics) SessionClosed()     {}
func (nopHubMetrics) PublishDropped()    {}
func (nopHubMetrics) SlowClientDropped() {}

// Hub fans engine events out to websocket sessions. The engine hands events to Publish
// without blocking; one dispatcher goroutine encodes them and pushes them into each
// client's buffered send queue. A client whose queue is full is dropped.
type Hub struct {
	log     *slog.Logger
	metrics HubMetrics
	events  chan game.Event

	// overflow holds one-shot events that did not fit in events. Snapshots are never
	// parked here; the next one supersedes them.
	overflowMu sync.Mutex
	overflow   []game.Event
	wake       chan struct{}

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id     string
	send   chan []byte
	closed bool
}

func NewHub(logger *slog.Logger, metrics HubMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopHubMetrics{}
	}
	return &Hub{
		log:     logger.With("component", "hub"),
		metrics: metrics,
		events:  make(chan game.Event, eventQueueSize),
		wake:    make(chan struct{}, 1),
		clients: map[string]*client{},
	}
}

// Publish never blocks. When the queue is full a snapshot is dropped, while any other
// event is parked and delivered by the dispatcher after the events already queued.
func (h *Hub) Publish(ev game.Event) {
	select {
	case h.events <- ev:
		return
	default:
	}
	if ev.Kind == game.EventSnapshot {
		h.metrics.PublishDropped()
		h.log.Warn("event queue full, dropping snapshot")
		return
	}
	h.overflowMu.Lock()
	h.overflow = append(h.overflow, ev)
	h.overflowMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run dispatches events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			h.dispatch(ev)
		case <-h.wake:
			h.drainQueued()
		}
	}
}

// drainQueued dispatches everything already in the queue, then the parked events.
func (h *Hub) drainQueued() {
	for len(h.events) > 0 {
		h.dispatch(<-h.events)
	}
	h.overflowMu.Lock()
	parked := h.overflow
	h.overflow = nil
	h.overflowMu.Unlock()
	for _, ev := range parked {
		h.dispatch(ev)
	}
}

// register adds a session. It fails when the id is already connected or the hub is closed.
func (h *Hub) register(id string) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	if _, ok := h.clients[id]; ok {
		return nil, false
	}
	c := &client{id: id, send: make(chan []byte, clientSendSize)}
	h.clients[id] = c
	h.metrics.SessionOpened()
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.metrics.SessionClosed()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}

// sendTo queues a frame for one session outside the event stream.
func (h *Hub) sendTo(id string, frame []byte) {
	var slow []*client
	h.mu.RLock()
	if c, ok := h.clients[id]; ok && !h.offer(c, frame) {
		slow = append(slow, c)
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

func (h *Hub) offer(c *client, frame []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) dropSlow(slow []*client) {
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range slow {
		if c.closed {
			continue
		}
		h.log.Warn("dropping slow session", "session", c.id)
		h.metrics.SlowClientDropped()
		h.removeLocked(c)
	}
}

func (h *Hub) dispatch(ev game.Event) {
	if ev.Kind == game.EventSnapshot {
		if snap, ok := ev.Payload.(*game.Snapshot); ok {
			h.broadcastSnapshot(snap)
		}
		return
	}
	frame, err := wire.Encode(string(ev.Kind), ev.Payload)
	if err != nil {
		h.log.Error("encode event", "kind", ev.Kind, "err", err)
		return
	}
	if !ev.Broadcast() {
		h.sendTo(ev.SessionID, frame)
		return
	}
	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		if !h.offer(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// stateFrame mirrors wire.State with the shared market view encoded once per snapshot.
type stateFrame struct {
	Market       json.RawMessage        `json:"market"`
	IsAdmin      bool                   `json:"is_admin"`
	You          *game.ParticipantView  `json:"you,omitempty"`
	Participants []game.ParticipantView `json:"participants,omitempty"`
}

func (h *Hub) broadcastSnapshot(snap *game.Snapshot) {
	market, err := json.Marshal(snap.Market)
	if err != nil {
		h.log.Error("encode market view", "err", err)
		return
	}
	var everyone []game.ParticipantView
	var slow []*client
	h.mu.RLock()
	for id, c := range h.clients {
		frame := stateFrame{Market: market}
		if snap.IsAdmin(id) {
			if everyone == nil {
				everyone = sortedViews(snap)
			}
			frame.IsAdmin = true
			frame.Participants = everyone
		} else if v, ok := snap.Participants[id]; ok {
			frame.You = &v
		}
		data, err := wire.Encode(string(game.EventSnapshot), frame)
		if err != nil {
			h.log.Error("encode state", "session", id, "err", err)
			continue
		}
		if !h.offer(c, data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

func sortedViews(snap *game.Snapshot) []game.ParticipantView {
	out := make([]game.ParticipantView, 0, len(snap.Participants))
	for _, v := range snap.Participants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *Hub) connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
