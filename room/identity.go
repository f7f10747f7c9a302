package room

import (
	"sync"

	"github.com/tcriess/queue-coordinator/types"
)

// IdentityMap maps a durable user id to the connection the user is currently live on. It is an index for direct
// notifications only; queue membership never depends on it.
type IdentityMap struct {
	byUser map[string]types.Conn
	byConn map[string]map[string]struct{}

	sync.RWMutex
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		byUser: make(map[string]types.Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Set unconditionally overwrites the entry of userId and returns the connection it replaced, if any.
func (m *IdentityMap) Set(userId string, conn types.Conn) types.Conn {
	m.Lock()
	defer m.Unlock()
	prev := m.byUser[userId]
	if prev != nil {
		m.unindex(prev.Id(), userId)
	}
	m.byUser[userId] = conn
	users, ok := m.byConn[conn.Id()]
	if !ok {
		users = make(map[string]struct{})
		m.byConn[conn.Id()] = users
	}
	users[userId] = struct{}{}
	return prev
}

func (m *IdentityMap) Get(userId string) (types.Conn, bool) {
	m.RLock()
	defer m.RUnlock()
	conn, ok := m.byUser[userId]
	return conn, ok
}

// Delete drops the entry of userId. Unknown users are ignored.
func (m *IdentityMap) Delete(userId string) {
	m.Lock()
	defer m.Unlock()
	if conn, ok := m.byUser[userId]; ok {
		m.unindex(conn.Id(), userId)
		delete(m.byUser, userId)
	}
}

// DeleteConn drops every entry still pointing at the connection connId and returns the affected user ids.
func (m *IdentityMap) DeleteConn(connId string) []string {
	m.Lock()
	defer m.Unlock()
	users := m.byConn[connId]
	res := make([]string, 0, len(users))
	for userId := range users {
		delete(m.byUser, userId)
		res = append(res, userId)
	}
	delete(m.byConn, connId)
	return res
}

// HasConn reports whether any user is still mapped to the connection connId.
func (m *IdentityMap) HasConn(connId string) bool {
	m.RLock()
	defer m.RUnlock()
	return len(m.byConn[connId]) > 0
}

func (m *IdentityMap) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.byUser)
}

func (m *IdentityMap) unindex(connId, userId string) {
	if users, ok := m.byConn[connId]; ok {
		delete(users, userId)
		if len(users) == 0 {
			delete(m.byConn, connId)
		}
	}
}
