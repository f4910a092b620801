package live

import (
	"sync"
)

type set map[string]struct{}

// RoomTracker tracks which connections are members of which rooms. This is
// what decides who receives a fanned-out event, so nothing outside this type
// may mutate room membership. Rooms are created lazily on first join and
// deleted eagerly when their last member leaves.
type RoomTracker struct {
	// map of room name to member connection IDs.
	roomToConns map[string]set
	connToRooms map[ConnID]set
	mu          *sync.RWMutex
}

func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		roomToConns: make(map[string]set),
		connToRooms: make(map[ConnID]set),
		mu:          &sync.RWMutex{},
	}
}

// Join adds the connection to the room. Joining an already-joined room is a
// no-op; returns true if the connection was newly added.
func (t *RoomTracker) Join(connID ConnID, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.roomToConns[room]
	if conns == nil {
		conns = make(set)
		t.roomToConns[room] = conns
	}
	if _, exists := conns[string(connID)]; exists {
		return false
	}
	conns[string(connID)] = struct{}{}
	rooms := t.connToRooms[connID]
	if rooms == nil {
		rooms = make(set)
		t.connToRooms[connID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave removes the connection from the room, deleting the room if it is now
// empty. Leaving a room the connection never joined is a no-op.
func (t *RoomTracker) Leave(connID ConnID, room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaveLocked(connID, room)
}

// LeaveAll removes the connection from every room it is in, returning the
// rooms it left. Called on disconnect.
func (t *RoomTracker) LeaveAll(connID ConnID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := t.connToRooms[connID]
	if len(rooms) == 0 {
		return nil
	}
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		t.leaveLocked(connID, room)
	}
	return left
}

func (t *RoomTracker) leaveLocked(connID ConnID, room string) {
	conns := t.roomToConns[room]
	delete(conns, string(connID))
	if len(conns) == 0 {
		delete(t.roomToConns, room)
	}
	rooms := t.connToRooms[connID]
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(t.connToRooms, connID)
	}
}

// ConnsForRoom returns the member connections of the room, filtered by the
// filter function if provided.
func (t *RoomTracker) ConnsForRoom(room string, filter func(connID ConnID) bool) []ConnID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := t.roomToConns[room]
	if len(conns) == 0 {
		return nil
	}
	result := make([]ConnID, 0, len(conns))
	for c := range conns {
		if filter == nil || filter(ConnID(c)) {
			result = append(result, ConnID(c))
		}
	}
	return result
}

func (t *RoomTracker) RoomsForConn(connID ConnID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := t.connToRooms[connID]
	if len(rooms) == 0 {
		return nil
	}
	result := make([]string, 0, len(rooms))
	for room := range rooms {
		result = append(result, room)
	}
	return result
}

func (t *RoomTracker) NumMembers(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roomToConns[room])
}

// NumRooms returns how many rooms currently have members. Empty rooms are
// deleted eagerly, so this is also the total room count.
func (t *RoomTracker) NumRooms() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roomToConns)
}
