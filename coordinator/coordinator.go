package coordinator

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/queue-coordinator/hub"
	"github.com/tcriess/queue-coordinator/room"
	"github.com/tcriess/queue-coordinator/types"
)

// Options wires a Coordinator. Registry, Identities and Hub are required.
type Options struct {
	Registry   *room.Registry
	Identities *room.IdentityMap
	Hub        *hub.Hub
	Archive    Archive
	Observer   Observer
	Logger     hclog.Logger
}

// Coordinator routes the inbound events of every connection to the rooms they address. It owns no state of its own:
// the registry, the identity map and the hub are injected.
type Coordinator struct {
	registry   *room.Registry
	identities *room.IdentityMap
	hub        *hub.Hub
	archive    Archive
	observer   Observer
	logger     hclog.Logger
}

func New(opts Options) *Coordinator {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		registry:   opts.Registry,
		identities: opts.Identities,
		hub:        opts.Hub,
		archive:    opts.Archive,
		observer:   opts.Observer,
		logger:     opts.Logger,
	}
}

// lockRoom resolves a live room and returns it locked. Rooms destroyed after the registry lookup count as absent.
func (c *Coordinator) lockRoom(roomId string) (*room.Room, bool) {
	r, ok := c.registry.Get(roomId)
	if !ok {
		return nil, false
	}
	r.Lock()
	if r.Destroyed() {
		r.Unlock()
		return nil, false
	}
	return r, true
}

func (c *Coordinator) roomNotFound(conn types.Conn, event, roomId string) {
	c.logger.Debug("room not found", "event", event, "room", roomId)
	c.hub.Notify(conn, types.EventRoomNotFound, types.Empty{})
	c.observer.Operation(event, OutcomeNotFound)
}

// broadcastState pushes the room's snapshot to its group. The caller holds the room lock.
func (c *Coordinator) broadcastState(r *room.Room) {
	n := c.hub.Broadcast(r.Id, types.EventUpdateQueue, r.Snapshot())
	c.observer.QueueLength(r.Id, r.Len())
	c.logger.Trace("queue broadcast", "room", r.Id, "waiting", r.Len(), "delivered", n)
}

// CreateRoom opens a room owned by msg.OrganizerId with conn as the organizer connection and acknowledges it with
// room-created.
func (c *Coordinator) CreateRoom(conn types.Conn, msg types.CreateRoomMessage) (string, error) {
	r, err := c.registry.Create(msg.OrganizerId, conn, msg.QueueName, msg.Attention)
	if err != nil {
		c.logger.Error("could not create room", "organizer", msg.OrganizerId, "error", err)
		c.observer.Operation(types.EventCreateRoom, OutcomeError)
		return "", err
	}
	if msg.OrganizerId != "" {
		c.identities.Set(msg.OrganizerId, conn)
	}
	c.hub.Attach(r.Id, conn)
	c.hub.Notify(conn, types.EventRoomCreated, types.RoomCreatedMessage{RoomId: r.Id})
	c.observer.RoomOpened(r.Id)
	c.observer.QueueLength(r.Id, 0)
	c.observer.Operation(types.EventCreateRoom, OutcomeOk)
	return r.Id, nil
}

// JoinRoom establishes the presence of a user in a room: the identity entry is rewritten to conn and conn joins the
// room's group. A join of the organizer moves the organizer connection. Joining never admits to the queue.
func (c *Coordinator) JoinRoom(conn types.Conn, msg types.RoomMessage) {
	r, ok := c.lockRoom(msg.RoomId)
	if !ok {
		c.roomNotFound(conn, types.EventJoinRoom, msg.RoomId)
		return
	}
	defer r.Unlock()

	userId := msg.User()
	if userId != "" {
		if prev := c.identities.Set(userId, conn); prev != nil && prev.Id() != conn.Id() && !c.identities.HasConn(prev.Id()) {
			// the previous connection serves no other identity any more
			c.hub.Detach(r.Id, prev)
		}
	}
	if userId != "" && userId == r.OrganizerId {
		if prev := r.SetOrganizerConn(conn); prev != nil && prev.Id() != conn.Id() {
			c.hub.Detach(r.Id, prev)
			c.logger.Info("organizer reconnected", "room", r.Id, "conn", conn.Id())
		}
	} else if r.RefreshConn(userId, conn) {
		c.logger.Debug("participant reconnected", "room", r.Id, "user", userId, "position", r.Position(userId))
	}
	c.hub.Attach(r.Id, conn)
	c.broadcastState(r)
	c.observer.Operation(types.EventJoinRoom, OutcomeOk)
}

// AddToQueue appends a user to the end of the queue. A user already queued is left where it is. The participant's
// connection is taken from the identity map; a user that never joined is queued without one and picks it up on its
// next join.
func (c *Coordinator) AddToQueue(conn types.Conn, msg types.RoomMessage) {
	r, ok := c.lockRoom(msg.RoomId)
	if !ok {
		c.roomNotFound(conn, types.EventAddToQueue, msg.RoomId)
		return
	}
	defer r.Unlock()

	userId := msg.User()
	if userId == "" {
		c.logger.Debug("add-to-queue without user", "room", r.Id)
		c.observer.Operation(types.EventAddToQueue, OutcomeInvalid)
		return
	}
	userConn, _ := c.identities.Get(userId)
	if !r.Admit(userId, userConn) {
		c.logger.Debug("admission ignored", "room", r.Id, "user", userId)
		c.observer.Operation(types.EventAddToQueue, OutcomeNoop)
		return
	}
	c.logger.Debug("admitted", "room", r.Id, "user", userId, "position", r.Len())
	c.broadcastState(r)
	c.observer.Operation(types.EventAddToQueue, OutcomeOk)
}

// DequeueUser serves the head of the queue. The served user is notified directly and loses its identity entry.
// An empty queue only re-sends the current state.
func (c *Coordinator) DequeueUser(conn types.Conn, msg types.RoomMessage) {
	r, ok := c.lockRoom(msg.RoomId)
	if !ok {
		c.roomNotFound(conn, types.EventDequeueUser, msg.RoomId)
		return
	}
	defer r.Unlock()

	dep, ok := r.DequeueFront()
	if !ok {
		c.broadcastState(r)
		c.observer.Operation(types.EventDequeueUser, OutcomeNoop)
		return
	}
	served := dep.Conn
	if current, ok := c.identities.Get(dep.UserId); ok {
		served = current
	}
	if !c.hub.Notify(served, types.EventQueueCompletionConfirmation, types.Empty{}) {
		c.logger.Debug("served user not reachable", "room", r.Id, "user", dep.UserId)
	}
	c.identities.Delete(dep.UserId)
	c.logger.Debug("served", "room", r.Id, "user", dep.UserId, "wait", dep.Wait)

	c.observer.Departure(dep.Kind.String(), dep.Wait)
	if dep.HasServiceGap {
		c.observer.ServiceGap(dep.ServiceGap)
	}
	c.broadcastState(r)
	c.observer.Operation(types.EventDequeueUser, OutcomeOk)
}

// ExitQueue removes a user from anywhere in the queue. The user's identity entry is dropped even if it was not queued.
func (c *Coordinator) ExitQueue(conn types.Conn, msg types.RoomMessage) {
	r, ok := c.lockRoom(msg.RoomId)
	if !ok {
		c.roomNotFound(conn, types.EventExitQueue, msg.RoomId)
		return
	}
	defer r.Unlock()

	userId := msg.User()
	dep, ok := r.Exit(userId)
	if userId != "" {
		c.identities.Delete(userId)
	}
	if !ok {
		c.observer.Operation(types.EventExitQueue, OutcomeNoop)
		return
	}
	c.logger.Debug("exited early", "room", r.Id, "user", userId, "wait", dep.Wait)
	c.observer.Departure(dep.Kind.String(), dep.Wait)
	c.broadcastState(r)
	c.observer.Operation(types.EventExitQueue, OutcomeOk)
}

// IsPresent reports whether userId is queued in roomId. found is false if the room does not exist.
func (c *Coordinator) IsPresent(roomId, userId string) (present bool, found bool) {
	r, ok := c.lockRoom(roomId)
	if !ok {
		return false, false
	}
	defer r.Unlock()
	return r.IsQueued(userId), true
}

// ImInRoom answers a presence check: yes-you-in if the user is queued, room-not-found if the room is gone and
// nothing otherwise.
func (c *Coordinator) ImInRoom(conn types.Conn, msg types.RoomMessage) {
	present, found := c.IsPresent(msg.RoomId, msg.User())
	switch {
	case !found:
		c.roomNotFound(conn, types.EventImInRoom, msg.RoomId)
	case present:
		c.hub.Notify(conn, types.EventYesYouIn, types.Empty{})
		c.observer.Operation(types.EventImInRoom, OutcomeOk)
	default:
		c.observer.Operation(types.EventImInRoom, OutcomeNoop)
	}
}

// EndAndDestroyRoom finalizes the room: the organizer connection receives the final report, every other member of
// the group receives queue-ended and the room is gone for good. Unknown rooms are ignored.
func (c *Coordinator) EndAndDestroyRoom(conn types.Conn, msg types.RoomMessage) {
	report, ok := c.destroy(msg.RoomId)
	if !ok {
		c.observer.Operation(types.EventEndAndDestroyRoom, OutcomeNoop)
		return
	}
	if c.archive != nil {
		if err := c.archive.StoreReport(report); err != nil {
			c.logger.Error("could not archive final report", "room", report.RoomId, "error", err)
		}
	}
	c.observer.RoomClosed(report.RoomId)
	c.observer.Operation(types.EventEndAndDestroyRoom, OutcomeOk)
}

func (c *Coordinator) destroy(roomId string) (types.FinalReport, bool) {
	r, ok := c.lockRoom(roomId)
	if !ok {
		return types.FinalReport{}, false
	}
	defer r.Unlock()

	report, ok := r.Finalize()
	if !ok {
		return types.FinalReport{}, false
	}
	c.registry.Remove(r.Id)

	organizerConn := r.OrganizerConn()
	if !c.hub.Notify(organizerConn, types.EventFinalReportData, report) {
		c.logger.Warn("final report not delivered", "room", r.Id, "organizer", r.OrganizerId)
	}
	ended := c.hub.BroadcastExcept(r.Id, organizerConn, types.EventQueueEnded, types.Empty{})
	c.identities.Delete(r.OrganizerId)
	c.hub.DetachAll(r.Id)
	c.logger.Info("room destroyed", "room", r.Id, "entered", report.Metrics.TotalEntered,
		"checked_in", report.Metrics.CheckedIn, "exited_early", report.Metrics.ExitedEarly,
		"waiting_at_close", report.Metrics.WaitingAtClose, "notified", ended)
	return report, true
}

// Disconnect forgets a closed connection. Queues are never touched: a dropped connection is not an exit.
func (c *Coordinator) Disconnect(conn types.Conn) {
	rooms := c.hub.Leave(conn)
	users := c.identities.DeleteConn(conn.Id())
	c.logger.Debug("connection closed", "conn", conn.Id(), "rooms", rooms, "users", users)
}

// Lookup returns the read-only projection of a live room, room.ErrRoomNotFound if there is none.
func (c *Coordinator) Lookup(roomId string) (types.RoomInfo, error) {
	r, ok := c.lockRoom(roomId)
	if !ok {
		return types.RoomInfo{}, fmt.Errorf("lookup %q: %w", roomId, room.ErrRoomNotFound)
	}
	defer r.Unlock()
	return r.Info(), nil
}

// Rooms returns the number of live rooms.
func (c *Coordinator) Rooms() int {
	return c.registry.Len()
}
