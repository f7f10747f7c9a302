package hub

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/queue-coordinator/types"
)

// Hub keeps one broadcast group per room. A group is the set of connections that receive the room's queue updates.
// Membership is owned by the coordinator; the hub never decides who belongs to a room.
type Hub struct {
	// roomId -> connId -> conn
	groups map[string]map[string]types.Conn

	// connId -> set of roomIds, used to clean up on disconnect
	byConn map[string]map[string]struct{}

	logger hclog.Logger

	// mutex for manipulating the groups
	sync.RWMutex
}

func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		groups: make(map[string]map[string]types.Conn),
		byConn: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Attach adds conn to the group of roomId. Attaching twice is a no-op.
func (h *Hub) Attach(roomId string, conn types.Conn) {
	if conn == nil {
		return
	}
	h.Lock()
	defer h.Unlock()
	group, ok := h.groups[roomId]
	if !ok {
		group = make(map[string]types.Conn)
		h.groups[roomId] = group
	}
	group[conn.Id()] = conn
	rooms, ok := h.byConn[conn.Id()]
	if !ok {
		rooms = make(map[string]struct{})
		h.byConn[conn.Id()] = rooms
	}
	rooms[roomId] = struct{}{}
}

// Detach removes conn from the group of roomId.
func (h *Hub) Detach(roomId string, conn types.Conn) {
	if conn == nil {
		return
	}
	h.Lock()
	defer h.Unlock()
	h.detach(roomId, conn.Id())
}

func (h *Hub) detach(roomId, connId string) {
	if group, ok := h.groups[roomId]; ok {
		delete(group, connId)
		if len(group) == 0 {
			delete(h.groups, roomId)
		}
	}
	if rooms, ok := h.byConn[connId]; ok {
		delete(rooms, roomId)
		if len(rooms) == 0 {
			delete(h.byConn, connId)
		}
	}
}

// DetachAll dissolves the group of roomId.
func (h *Hub) DetachAll(roomId string) {
	h.Lock()
	defer h.Unlock()
	for connId := range h.groups[roomId] {
		h.detach(roomId, connId)
	}
	delete(h.groups, roomId)
}

// Leave removes conn from every group it is attached to and returns the affected room ids.
func (h *Hub) Leave(conn types.Conn) []string {
	if conn == nil {
		return nil
	}
	h.Lock()
	defer h.Unlock()
	rooms := make([]string, 0, len(h.byConn[conn.Id()]))
	for roomId := range h.byConn[conn.Id()] {
		rooms = append(rooms, roomId)
	}
	for _, roomId := range rooms {
		h.detach(roomId, conn.Id())
	}
	return rooms
}

// Members returns the connections of the group of roomId in no particular order.
func (h *Hub) Members(roomId string) []types.Conn {
	h.RLock()
	defer h.RUnlock()
	members := make([]types.Conn, 0, len(h.groups[roomId]))
	for _, conn := range h.groups[roomId] {
		members = append(members, conn)
	}
	return members
}

// IsMember reports whether conn is attached to the group of roomId.
func (h *Hub) IsMember(roomId string, conn types.Conn) bool {
	if conn == nil {
		return false
	}
	h.RLock()
	defer h.RUnlock()
	_, ok := h.groups[roomId][conn.Id()]
	return ok
}

// Groups returns the number of non-empty groups.
func (h *Hub) Groups() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.groups)
}

// Broadcast sends the event to every member of the group of roomId. Delivery is best-effort: a failing connection is
// logged and skipped, it never stops delivery to the others. It returns the number of successful deliveries.
func (h *Hub) Broadcast(roomId, event string, payload interface{}) int {
	return h.BroadcastExcept(roomId, nil, event, payload)
}

// BroadcastExcept is Broadcast without the connection except.
func (h *Hub) BroadcastExcept(roomId string, except types.Conn, event string, payload interface{}) int {
	delivered := 0
	for _, conn := range h.Members(roomId) {
		if except != nil && conn.Id() == except.Id() {
			continue
		}
		if h.Notify(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

// Notify sends the event to a single connection. A nil or stale connection is silently skipped.
func (h *Hub) Notify(conn types.Conn, event string, payload interface{}) bool {
	if conn == nil {
		return false
	}
	if err := conn.Emit(event, payload); err != nil {
		h.logger.Debug("could not deliver event", "conn", conn.Id(), "event", event, "error", err)
		return false
	}
	return true
}
