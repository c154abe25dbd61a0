// Package realtime fans committed board changes out to connected clients.
// Events travel over Redis pub/sub on per-space channels so that every API
// instance can deliver them to the sockets it holds.
package realtime

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const defaultSubscriberBuffer = 64

// Hub tracks which subscribers have joined which space.
type Hub struct {
	logger *log.Logger
	buffer int

	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

// Subscriber is a single connected client. Payloads for the spaces it joined
// arrive on C in publish order.
type Subscriber struct {
	ch     chan []byte
	rooms  map[string]struct{}
	closed bool
}

// NewHub creates a Hub whose subscribers buffer up to buffer payloads.
func NewHub(logger *log.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{logger: logger, buffer: buffer, rooms: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber that has not joined any space yet.
func (h *Hub) Subscribe() *Subscriber {
	return &Subscriber{ch: make(chan []byte, h.buffer), rooms: make(map[string]struct{})}
}

// C returns the delivery channel. It is closed once the subscriber is removed.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Join adds the subscriber to the space's room.
func (h *Hub) Join(s *Subscriber, spaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	room, ok := h.rooms[spaceID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[spaceID] = room
	}
	room[s] = struct{}{}
	s.rooms[spaceID] = struct{}{}
}

// Leave removes the subscriber from the space's room.
func (h *Hub) Leave(s *Subscriber, spaceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, spaceID)
}

// Remove drops the subscriber from every room and closes its channel.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// Rooms reports how many subscribers are in the space's room.
func (h *Hub) Rooms(spaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[spaceID])
}

// Broadcast delivers payload to every subscriber of the space and returns the
// number reached. A subscriber whose buffer is full is removed: it has fallen
// behind and must reload the board on reconnect.
func (h *Hub) Broadcast(spaceID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for s := range h.rooms[spaceID] {
		select {
		case s.ch <- payload:
			delivered++
		default:
			h.logger.WithField("space", spaceID).Warn("subscriber lagging, disconnecting")
			h.removeLocked(s)
		}
	}
	return delivered
}

func (h *Hub) leaveLocked(s *Subscriber, spaceID string) {
	delete(s.rooms, spaceID)
	room, ok := h.rooms[spaceID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, spaceID)
	}
}

func (h *Hub) removeLocked(s *Subscriber) {
	if s.closed {
		return
	}
	for spaceID := range s.rooms {
		h.leaveLocked(s, spaceID)
	}
	s.closed = true
	close(s.ch)
}
