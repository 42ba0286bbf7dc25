package realtime

import (
	"context"
	"sync"
)

// Hub keeps room membership per board. A session may be in many rooms.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	joined map[*Session]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Session]struct{}),
		joined: make(map[*Session]map[string]struct{}),
	}
}

// Join is idempotent.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	rooms, ok := h.joined[s]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[s] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave is a no-op when the session is not in the room.
func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(s, room)
}

// LeaveAll removes the session from every room it joined.
func (h *Hub) LeaveAll(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.joined[s] {
		h.leave(s, room)
	}
	delete(h.joined, s)
}

func (h *Hub) leave(s *Session, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[s]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, s)
		}
	}
}

func (h *Hub) IsMember(s *Session, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][s]
	return ok
}

// Members returns a snapshot of the room.
func (h *Hub) Members(room string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		out = append(out, s)
	}
	return out
}

// Deliver queues msg on every local member of room and returns how many accepted it.
func (h *Hub) Deliver(room string, msg []byte) int {
	n := 0
	for _, s := range h.Members(room) {
		if s.Send(msg) {
			n++
		}
	}
	return n
}

// Broadcast implements Broadcaster for a single instance.
func (h *Hub) Broadcast(_ context.Context, room string, msg []byte) int {
	return h.Deliver(room, msg)
}
