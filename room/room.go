package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
	"github.com/tcriess/queue-coordinator/clock"
	"github.com/tcriess/queue-coordinator/types"
)

// Participant is one queued user. Conn is the connection the user was last seen on, it may be stale.
type Participant struct {
	UserId   string
	Conn     types.Conn
	JoinTime time.Time
}

// Departure describes a participant leaving the queue, either served or by its own choice.
type Departure struct {
	Participant
	Wait time.Duration
	Kind WaitKind
	// ServiceGap is the time since the previous check-in. Only set for served departures after the first one.
	ServiceGap    time.Duration
	HasServiceGap bool
}

// Room is one organizer-owned waiting line.
//
// All methods except the immutable fields require the caller to hold the room lock. The lock serializes every
// mutation of the room and every snapshot taken for a broadcast.
type Room struct {
	Id          string
	OrganizerId string
	QueueName   string
	Attention   string

	organizerConn types.Conn
	queue         []*Participant
	lastCheckin   time.Time
	metrics       Metrics
	destroyed     bool

	policy *AdmissionPolicy
	clock  clock.Clock
	logger hclog.Logger

	sync.Mutex
}

func newRoom(id, organizerId string, organizerConn types.Conn, queueName, attention string, c clock.Clock, policy *AdmissionPolicy, logger hclog.Logger) *Room {
	return &Room{
		Id:            id,
		OrganizerId:   organizerId,
		QueueName:     queueName,
		Attention:     attention,
		organizerConn: organizerConn,
		queue:         make([]*Participant, 0),
		metrics:       newMetrics(c.Now()),
		policy:        policy,
		clock:         c,
		logger:        logger.With("room", id),
	}
}

// Destroyed reports whether the room has been finalized. A destroyed room may still be referenced by callers that
// looked it up before destruction; they must treat it as not found.
func (r *Room) Destroyed() bool {
	return r.destroyed
}

func (r *Room) OrganizerConn() types.Conn {
	return r.organizerConn
}

// SetOrganizerConn rewrites the organizer's live connection and returns the previous one.
func (r *Room) SetOrganizerConn(conn types.Conn) types.Conn {
	prev := r.organizerConn
	r.organizerConn = conn
	return prev
}

// Len returns the number of waiting participants.
func (r *Room) Len() int {
	return len(r.queue)
}

func (r *Room) index(userId string) int {
	_, idx, ok := lo.FindIndexOf(r.queue, func(p *Participant) bool {
		return p.UserId == userId
	})
	if !ok {
		return -1
	}
	return idx
}

// IsQueued reports whether userId is waiting in the queue. It never mutates the room.
func (r *Room) IsQueued(userId string) bool {
	return r.index(userId) >= 0
}

// Position returns the 1-based position of userId, or 0 if the user is not queued.
func (r *Room) Position(userId string) int {
	return r.index(userId) + 1
}

// RefreshConn points a queued participant at a new connection. It returns false if the user is not queued.
func (r *Room) RefreshConn(userId string, conn types.Conn) bool {
	idx := r.index(userId)
	if idx < 0 {
		return false
	}
	r.queue[idx].Conn = conn
	return true
}

// Admit appends userId to the end of the queue. Duplicates, destroyed rooms and admissions refused by the
// admission rule are no-ops and return false.
func (r *Room) Admit(userId string, conn types.Conn) bool {
	if r.destroyed || r.IsQueued(userId) {
		return false
	}
	if !r.policy.Allows(AdmissionEnv{
		RoomId:       r.Id,
		UserId:       userId,
		OrganizerId:  r.OrganizerId,
		QueueLength:  len(r.queue),
		TotalEntered: r.metrics.TotalEntered,
	}) {
		r.logger.Debug("admission refused by rule", "user", userId)
		return false
	}
	r.queue = append(r.queue, &Participant{
		UserId:   userId,
		Conn:     conn,
		JoinTime: r.clock.Now(),
	})
	r.metrics.recordAdmission()
	r.checkInvariants()
	return true
}

// DequeueFront serves the head of the queue. It returns false on an empty or destroyed room.
func (r *Room) DequeueFront() (Departure, bool) {
	if r.destroyed || len(r.queue) == 0 {
		return Departure{}, false
	}
	now := r.clock.Now()
	head := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]

	dep := Departure{
		Participant: *head,
		Wait:        now.Sub(head.JoinTime),
		Kind:        WaitServed,
	}
	r.metrics.recordServed(dep.Wait)
	if !r.lastCheckin.IsZero() {
		dep.ServiceGap = now.Sub(r.lastCheckin)
		dep.HasServiceGap = true
		r.metrics.recordServiceGap(dep.ServiceGap)
	}
	r.lastCheckin = now
	r.checkInvariants()
	return dep, true
}

// Exit removes userId wherever it is in the queue. It returns false if the user is not queued.
func (r *Room) Exit(userId string) (Departure, bool) {
	if r.destroyed {
		return Departure{}, false
	}
	idx := r.index(userId)
	if idx < 0 {
		return Departure{}, false
	}
	p := r.queue[idx]
	r.queue = append(r.queue[:idx], r.queue[idx+1:]...)

	dep := Departure{
		Participant: *p,
		Wait:        r.clock.Now().Sub(p.JoinTime),
		Kind:        WaitExitedEarly,
	}
	r.metrics.recordExit(dep.Wait)
	r.checkInvariants()
	return dep, true
}

// Participants returns a copy of the queue in service order.
func (r *Room) Participants() []Participant {
	return lo.Map(r.queue, func(p *Participant, _ int) Participant {
		return *p
	})
}

// Metrics returns a copy of the counters of the accumulator.
func (r *Room) Metrics() Metrics {
	m := r.metrics
	m.WaitTimes = append([]WaitRecord(nil), r.metrics.WaitTimes...)
	m.ServiceTimes = append([]time.Duration(nil), r.metrics.ServiceTimes...)
	return m
}

// Snapshot renders the state every connection of the room is synchronized to.
func (r *Room) Snapshot() types.QueueUpdateMessage {
	return types.QueueUpdateMessage{
		QueueName: r.QueueName,
		Attention: r.Attention,
		Participants: lo.Map(r.queue, func(p *Participant, _ int) types.Participant {
			return types.Participant{UserId: p.UserId, JoinTime: p.JoinTime.UnixMilli()}
		}),
		OrganizerId: r.OrganizerId,
	}
}

// Info renders the read-only projection of the room.
func (r *Room) Info() types.RoomInfo {
	return types.RoomInfo{
		RoomId:      r.Id,
		OrganizerId: r.OrganizerId,
		QueueName:   r.QueueName,
		Waiting:     len(r.queue),
	}
}

// Finalize marks the room destroyed and produces the final report. Finalizing twice returns false.
func (r *Room) Finalize() (types.FinalReport, bool) {
	if r.destroyed {
		return types.FinalReport{}, false
	}
	r.destroyed = true
	return types.FinalReport{
		RoomId:    r.Id,
		QueueName: r.QueueName,
		Metrics:   r.metrics.Report(r.clock.Now(), len(r.queue)),
	}, true
}

func (r *Room) checkInvariants() {
	seen := make(map[string]struct{}, len(r.queue))
	for _, p := range r.queue {
		if _, ok := seen[p.UserId]; ok {
			reportViolation(r.logger, fmt.Errorf("%w: user %s queued twice in room %s", ErrInvariant, p.UserId, r.Id))
			return
		}
		seen[p.UserId] = struct{}{}
	}
	m := r.metrics
	if m.TotalEntered != m.CheckedIn+m.ExitedEarly+len(r.queue) {
		reportViolation(r.logger, fmt.Errorf("%w: flow of room %s does not add up (entered %d, checked in %d, exited %d, waiting %d)",
			ErrInvariant, r.Id, m.TotalEntered, m.CheckedIn, m.ExitedEarly, len(r.queue)))
	}
}
