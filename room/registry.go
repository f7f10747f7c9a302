package room

import (
	"fmt"
	"sync"

	"github.com/folkengine/goname"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/queue-coordinator/clock"
	"github.com/tcriess/queue-coordinator/types"
)

const (
	defaultTombstones = 4096
	maxIdAttempts     = 3
)

// RegistryOptions configures a Registry. Zero values select the defaults.
type RegistryOptions struct {
	Clock  clock.Clock
	Logger hclog.Logger
	// Tombstones is the number of destroyed room ids remembered to guarantee they are never handed out again.
	Tombstones int
	Policy     *AdmissionPolicy
	// NewId overrides the id generator (UUIDv4).
	NewId func() (string, error)
}

// Registry is the canonical set of live rooms.
type Registry struct {
	rooms      map[string]*Room
	tombstones *lru.Cache
	clock      clock.Clock
	policy     *AdmissionPolicy
	newId      func() (string, error)
	logger     hclog.Logger

	sync.RWMutex
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Tombstones <= 0 {
		opts.Tombstones = defaultTombstones
	}
	if opts.NewId == nil {
		opts.NewId = newRoomId
	}
	tombstones, err := lru.New(opts.Tombstones)
	if err != nil {
		return nil, err
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		tombstones: tombstones,
		clock:      opts.Clock,
		policy:     opts.Policy,
		newId:      opts.NewId,
		logger:     opts.Logger,
	}, nil
}

func newRoomId() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create opens a new room with an empty queue and zeroed metrics. organizerConn becomes the organizer's live
// connection. An empty queueName is replaced by a generated one.
func (r *Registry) Create(organizerId string, organizerConn types.Conn, queueName, attention string) (*Room, error) {
	if queueName == "" {
		queueName = goname.New(goname.FantasyMap).FirstLast()
	}
	r.Lock()
	defer r.Unlock()
	for i := 0; i < maxIdAttempts; i++ {
		id, err := r.newId()
		if err != nil {
			return nil, fmt.Errorf("could not generate room id: %w", err)
		}
		if _, ok := r.rooms[id]; ok {
			r.logger.Warn("room id collision", "room", id)
			continue
		}
		if r.tombstones.Contains(id) {
			r.logger.Warn("room id of a destroyed room generated again", "room", id)
			continue
		}
		room := newRoom(id, organizerId, organizerConn, queueName, attention, r.clock, r.policy, r.logger)
		r.rooms[id] = room
		r.logger.Info("room created", "room", id, "organizer", organizerId, "queue_name", queueName)
		return room, nil
	}
	return nil, ErrIdExhausted
}

// Get looks up a live room.
func (r *Registry) Get(id string) (*Room, bool) {
	r.RLock()
	defer r.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Remove drops the room from the registry and remembers its id as destroyed.
func (r *Registry) Remove(id string) (*Room, bool) {
	r.Lock()
	defer r.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	delete(r.rooms, id)
	r.tombstones.Add(id, struct{}{})
	r.logger.Info("room removed", "room", id)
	return room, true
}

// WasDestroyed reports whether id belonged to a room destroyed recently enough to still be remembered.
func (r *Registry) WasDestroyed(id string) bool {
	return r.tombstones.Contains(id)
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.rooms)
}

// Rooms returns the live rooms in no particular order.
func (r *Registry) Rooms() []*Room {
	r.RLock()
	defer r.RUnlock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
