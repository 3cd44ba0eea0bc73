package gateway

import "sync"

// RoomRegistry maps logical room identifiers (conversation keys,
// contest IDs) to the connections currently bound to them. Rooms exist
// implicitly: the first join creates one, removing the last member
// deletes it. The registry is process-local and rebuilt empty on
// restart; durable history lives in the message store, not here.
type RoomRegistry struct {
	mu      sync.RWMutex
	members map[string]map[string]*Connection // roomID -> connID -> connection
	joined  map[string]map[string]struct{}    // connID -> set of roomIDs
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		members: make(map[string]map[string]*Connection),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join binds a connection to a room. Joining a room the connection is
// already in is a no-op.
func (r *RoomRegistry) Join(conn *Connection, roomID string) {
	if conn == nil || roomID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[roomID]
	if !ok {
		room = make(map[string]*Connection)
		r.members[roomID] = room
	}
	room[conn.ID] = conn

	set, ok := r.joined[conn.ID]
	if !ok {
		set = make(map[string]struct{})
		r.joined[conn.ID] = set
	}
	set[roomID] = struct{}{}
}

// Leave unbinds a connection from a room. Leaving a room the
// connection is not in is a no-op. Empty rooms are pruned immediately.
func (r *RoomRegistry) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

// LeaveAll removes a connection from every room it joined, pruning
// rooms that become empty. Called on disconnect.
func (r *RoomRegistry) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[connID] {
		r.leaveLocked(connID, roomID)
	}
}

func (r *RoomRegistry) leaveLocked(connID, roomID string) {
	if room, ok := r.members[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.members, roomID)
		}
	}
	if set, ok := r.joined[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Members returns a snapshot of the connections currently in a room.
// An unknown room yields an empty slice.
func (r *RoomRegistry) Members(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.members[roomID]
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// Contains reports whether the connection is currently bound to the room.
func (r *RoomRegistry) Contains(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.members[roomID]
	if !ok {
		return false
	}
	_, ok = room[connID]
	return ok
}

// RoomCount returns the number of rooms with at least one member.
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}

// Rooms returns a snapshot of the room IDs the connection is bound to.
func (r *RoomRegistry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.joined[connID]
	rooms := make([]string, 0, len(set))
	for roomID := range set {
		rooms = append(rooms, roomID)
	}
	return rooms
}
