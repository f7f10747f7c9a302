package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/queue-coordinator/clock"
	"github.com/tcriess/queue-coordinator/conntest"
	"github.com/tcriess/queue-coordinator/hub"
	"github.com/tcriess/queue-coordinator/room"
	"github.com/tcriess/queue-coordinator/types"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memArchive struct {
	mu      sync.Mutex
	reports []types.FinalReport
	err     error
}

func (a *memArchive) StoreReport(report types.FinalReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, report)
	return a.err
}

type countingObserver struct {
	mu         sync.Mutex
	operations map[string]int
	opened     int
	closed     int
	departures map[string]int
	gaps       []time.Duration
}

func newCountingObserver() *countingObserver {
	return &countingObserver{operations: make(map[string]int), departures: make(map[string]int)}
}

func (o *countingObserver) Operation(event, outcome string) {
	o.mu.Lock()
	o.operations[event+"/"+outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) RoomOpened(string) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) RoomClosed(string) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *countingObserver) QueueLength(string, int) {}

func (o *countingObserver) Departure(kind string, _ time.Duration) {
	o.mu.Lock()
	o.departures[kind]++
	o.mu.Unlock()
}

func (o *countingObserver) ServiceGap(gap time.Duration) {
	o.mu.Lock()
	o.gaps = append(o.gaps, gap)
	o.mu.Unlock()
}

type fixture struct {
	c          *Coordinator
	clock      *clock.FakeClock
	identities *room.IdentityMap
	hub        *hub.Hub
	archive    *memArchive
	observer   *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clock.Fake(epoch)
	reg, err := room.NewRegistry(room.RegistryOptions{Clock: fc})
	require.NoError(t, err)
	f := &fixture{
		clock:      fc,
		identities: room.NewIdentityMap(),
		hub:        hub.NewHub(hclog.NewNullLogger()),
		archive:    &memArchive{},
		observer:   newCountingObserver(),
	}
	f.c = New(Options{
		Registry:   reg,
		Identities: f.identities,
		Hub:        f.hub,
		Archive:    f.archive,
		Observer:   f.observer,
	})
	return f
}

// open creates a room for organizer "org" and returns its id and the organizer connection.
func (f *fixture) open(t *testing.T) (string, *conntest.Recorder) {
	t.Helper()
	org := conntest.New("org-conn")
	roomId, err := f.c.CreateRoom(org, types.CreateRoomMessage{OrganizerId: "org", QueueName: "Front desk", Attention: "bring your ticket"})
	require.NoError(t, err)
	return roomId, org
}

// enter joins userId on a fresh connection and admits it.
func (f *fixture) enter(roomId, userId string) *conntest.Recorder {
	conn := conntest.New(userId + "-conn")
	f.c.JoinRoom(conn, types.RoomMessage{RoomId: roomId, UserId: userId})
	f.c.AddToQueue(conn, types.RoomMessage{RoomId: roomId, UserId: userId})
	return conn
}

func lastState(t *testing.T, conn *conntest.Recorder) types.QueueUpdateMessage {
	t.Helper()
	data, ok := conn.Last(types.EventUpdateQueue)
	require.True(t, ok, "no %s received by %s", types.EventUpdateQueue, conn.Id())
	return data.(types.QueueUpdateMessage)
}

func userIds(msg types.QueueUpdateMessage) []string {
	ids := make([]string, 0, len(msg.Participants))
	for _, p := range msg.Participants {
		ids = append(ids, p.UserId)
	}
	return ids
}

func TestCreateRoomAcknowledges(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)

	data, ok := org.Last(types.EventRoomCreated)
	require.True(t, ok)
	assert.Equal(t, types.RoomCreatedMessage{RoomId: roomId}, data)

	info, err := f.c.Lookup(roomId)
	require.NoError(t, err)
	assert.Equal(t, types.RoomInfo{RoomId: roomId, OrganizerId: "org", QueueName: "Front desk"}, info)
	assert.Equal(t, 1, f.c.Rooms())
	assert.Equal(t, 1, f.observer.opened)
}

func TestQueueLifecycle(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)

	a := f.enter(roomId, "A")
	f.clock.Advance(time.Second)
	b := f.enter(roomId, "B")
	f.clock.Advance(time.Second)
	c := f.enter(roomId, "C")
	assert.Equal(t, []string{"A", "B", "C"}, userIds(lastState(t, org)))
	assert.Equal(t, []string{"A", "B", "C"}, userIds(lastState(t, c)))

	f.clock.Advance(time.Minute)
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, a.Count(types.EventQueueCompletionConfirmation))
	assert.Equal(t, 0, b.Count(types.EventQueueCompletionConfirmation))
	assert.Equal(t, []string{"B", "C"}, userIds(lastState(t, org)))
	_, ok := f.identities.Get("A")
	assert.False(t, ok)

	f.clock.Advance(time.Minute)
	f.c.ExitQueue(b, types.RoomMessage{RoomId: roomId, UserId: "B"})
	assert.Equal(t, []string{"C"}, userIds(lastState(t, org)))
	assert.Equal(t, []string{"C"}, userIds(lastState(t, c)))

	f.clock.Advance(time.Minute)
	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})

	data, ok := org.Last(types.EventFinalReportData)
	require.True(t, ok)
	report := data.(types.FinalReport)
	assert.Equal(t, roomId, report.RoomId)
	assert.Equal(t, "Front desk", report.QueueName)
	assert.Equal(t, 3, report.Metrics.TotalEntered)
	assert.Equal(t, 1, report.Metrics.CheckedIn)
	assert.Equal(t, 1, report.Metrics.ExitedEarly)
	assert.Equal(t, 1, report.Metrics.WaitingAtClose)
	assert.Equal(t, epoch.UnixMilli(), report.Metrics.StartTime)
	assert.Equal(t, (3*time.Minute + 2*time.Second).Milliseconds(), report.Metrics.DurationMs)
	require.Len(t, report.Metrics.WaitTimes, 2)
	assert.Equal(t, types.WaitTime{Duration: (time.Minute + 2*time.Second).Milliseconds(), Type: types.WaitKindCheckedIn}, report.Metrics.WaitTimes[0])
	assert.Equal(t, types.WaitTime{Duration: (2*time.Minute + time.Second).Milliseconds(), Type: types.WaitKindExitedEarly}, report.Metrics.WaitTimes[1])

	assert.Equal(t, 0, org.Count(types.EventQueueEnded))
	for _, conn := range []*conntest.Recorder{a, b, c} {
		assert.Equal(t, 1, conn.Count(types.EventQueueEnded), conn.Id())
		assert.Equal(t, 0, conn.Count(types.EventFinalReportData), conn.Id())
	}

	require.Len(t, f.archive.reports, 1)
	assert.Equal(t, report, f.archive.reports[0])
	assert.Equal(t, 1, f.observer.closed)
	assert.Equal(t, 1, f.observer.departures["checkedIn"])
	assert.Equal(t, 1, f.observer.departures["exitedEarly"])
	assert.Equal(t, 0, f.hub.Groups())
	_, ok = f.identities.Get("org")
	assert.False(t, ok)
}

func TestServiceGapsBetweenCheckins(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	for _, u := range []string{"A", "B", "C"} {
		f.enter(roomId, u)
	}
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	f.clock.Advance(40 * time.Second)
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	f.clock.Advance(20 * time.Second)
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, []time.Duration{40 * time.Second, 20 * time.Second}, f.observer.gaps)

	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	data, _ := org.Last(types.EventFinalReportData)
	assert.Equal(t, []int64{40000, 20000}, data.(types.FinalReport).Metrics.ServiceTimes)
}

func TestEmptyDequeueResendsState(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)

	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 2, org.Count(types.EventUpdateQueue))
	assert.Empty(t, lastState(t, org).Participants)
	assert.Equal(t, 2, f.observer.operations["dequeue-user/noop"])

	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	data, _ := org.Last(types.EventFinalReportData)
	m := data.(types.FinalReport).Metrics
	assert.Equal(t, 0, m.TotalEntered)
	assert.Equal(t, 0, m.CheckedIn)
	assert.Empty(t, m.WaitTimes)
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	conn := conntest.New("a-conn")
	for i := 0; i < 3; i++ {
		f.c.JoinRoom(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	}
	assert.Empty(t, lastState(t, org).Participants)

	f.c.AddToQueue(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	f.c.JoinRoom(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	f.c.AddToQueue(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	assert.Equal(t, []string{"A"}, userIds(lastState(t, org)))
	assert.Equal(t, 1, f.observer.operations["add-to-queue/noop"])
	assert.Len(t, f.hub.Members(roomId), 2)
}

func TestOrganizerReconnect(t *testing.T) {
	f := newFixture(t)
	roomId, first := f.open(t)
	second := conntest.New("org-conn-2")

	f.c.JoinRoom(second, types.RoomMessage{RoomId: roomId, UserId: "org"})
	first.Reset()
	f.enter(roomId, "A")
	f.c.EndAndDestroyRoom(second, types.RoomMessage{RoomId: roomId})

	assert.Empty(t, first.Emitted())
	assert.Equal(t, 1, second.Count(types.EventFinalReportData))
	assert.Equal(t, 0, second.Count(types.EventQueueEnded))
	assert.Equal(t, []string{"A"}, userIds(lastState(t, second)))
}

func TestOrganizerJoinIsNotAdmission(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	f.c.JoinRoom(org, types.RoomMessage{RoomId: roomId, UserId: "org"})
	assert.Empty(t, lastState(t, org).Participants)
	assert.Equal(t, "org", lastState(t, org).OrganizerId)
}

func TestParticipantReconnectKeepsPosition(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	old := f.enter(roomId, "A")
	f.enter(roomId, "B")

	fresh := conntest.New("a-conn-2")
	f.c.JoinRoom(fresh, types.RoomMessage{RoomId: roomId, PeerId: "A"})
	assert.Equal(t, []string{"A", "B"}, userIds(lastState(t, fresh)))

	old.Reset()
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, fresh.Count(types.EventQueueCompletionConfirmation))
	assert.Empty(t, old.Emitted())
}

func TestServedUserWithoutIdentityFallsBackToParticipantConn(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	a := f.enter(roomId, "A")
	f.identities.Delete("A")

	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, a.Count(types.EventQueueCompletionConfirmation))
}

func TestStaleConnectionsDoNotBreakOperations(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	a := f.enter(roomId, "A")
	b := f.enter(roomId, "B")
	a.Close()

	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, []string{"B"}, userIds(lastState(t, b)))
	assert.Equal(t, []string{"B"}, userIds(lastState(t, org)))
}

func TestAddToQueueWithoutJoin(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)

	// the organizer admits a walk-in that never joined
	f.c.AddToQueue(org, types.RoomMessage{RoomId: roomId, UserId: "W"})
	assert.Equal(t, []string{"W"}, userIds(lastState(t, org)))
	_, ok := f.identities.Get("W")
	assert.False(t, ok)
	got, ok := f.identities.Get("org")
	require.True(t, ok)
	assert.Equal(t, "org-conn", got.Id())
	assert.Len(t, f.hub.Members(roomId), 1)

	f.c.AddToQueue(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, f.observer.operations["add-to-queue/invalid"])
	assert.Equal(t, []string{"W"}, userIds(lastState(t, org)))
}

func TestWalkInJoinKeepsOrganizerInGroup(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	f.c.AddToQueue(org, types.RoomMessage{RoomId: roomId, UserId: "W"})

	w := conntest.New("w-conn")
	f.c.JoinRoom(w, types.RoomMessage{RoomId: roomId, UserId: "W"})
	assert.True(t, f.hub.IsMember(roomId, org))
	assert.True(t, f.hub.IsMember(roomId, w))

	org.Reset()
	f.enter(roomId, "B")
	assert.Equal(t, []string{"W", "B"}, userIds(lastState(t, org)))

	// the walk-in picked up its own connection on join
	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, w.Count(types.EventQueueCompletionConfirmation))
	assert.Equal(t, 0, org.Count(types.EventQueueCompletionConfirmation))
}

func TestServingUnjoinedWalkInNotifiesNobody(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	f.c.AddToQueue(org, types.RoomMessage{RoomId: roomId, UserId: "W"})

	f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 0, org.Count(types.EventQueueCompletionConfirmation))
	assert.Empty(t, lastState(t, org).Participants)
	assert.Equal(t, 1, f.observer.departures["checkedIn"])
	_, ok := f.identities.Get("org")
	assert.True(t, ok)
}

func TestRejoinKeepsSharedConnectionInGroup(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	kiosk := conntest.New("kiosk")
	f.c.JoinRoom(kiosk, types.RoomMessage{RoomId: roomId, UserId: "A"})
	f.c.JoinRoom(kiosk, types.RoomMessage{RoomId: roomId, UserId: "B"})

	phone := conntest.New("a-phone")
	f.c.JoinRoom(phone, types.RoomMessage{RoomId: roomId, UserId: "A"})
	assert.True(t, f.hub.IsMember(roomId, kiosk))

	kiosk.Reset()
	f.c.AddToQueue(kiosk, types.RoomMessage{RoomId: roomId, UserId: "B"})
	assert.Equal(t, []string{"B"}, userIds(lastState(t, kiosk)))
	assert.Equal(t, []string{"B"}, userIds(lastState(t, org)))

	// once B moves too, the kiosk serves nobody and leaves the group
	f.c.JoinRoom(conntest.New("b-phone"), types.RoomMessage{RoomId: roomId, UserId: "B"})
	assert.False(t, f.hub.IsMember(roomId, kiosk))
}

func TestExitUnknownUserCleansIdentity(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	conn := conntest.New("a-conn")
	f.c.JoinRoom(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	before := org.Count(types.EventUpdateQueue)

	f.c.ExitQueue(conn, types.RoomMessage{RoomId: roomId, UserId: "A"})
	_, ok := f.identities.Get("A")
	assert.False(t, ok)
	assert.Equal(t, before, org.Count(types.EventUpdateQueue))
	assert.Equal(t, 1, f.observer.operations["exit-queue/noop"])
}

func TestImInRoom(t *testing.T) {
	f := newFixture(t)
	roomId, _ := f.open(t)
	a := f.enter(roomId, "A")
	stranger := conntest.New("x")

	f.c.ImInRoom(a, types.RoomMessage{RoomId: roomId, UserId: "A"})
	assert.Equal(t, 1, a.Count(types.EventYesYouIn))

	f.c.ImInRoom(stranger, types.RoomMessage{RoomId: roomId, UserId: "X"})
	assert.Empty(t, stranger.Emitted())

	present, found := f.c.IsPresent("missing", "A")
	assert.False(t, present)
	assert.False(t, found)
	present, found = f.c.IsPresent(roomId, "A")
	assert.True(t, present)
	assert.True(t, found)
}

func TestDestructionIsTerminal(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	f.enter(roomId, "A")
	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	org.Reset()

	late := conntest.New("late")
	msg := types.RoomMessage{RoomId: roomId, UserId: "A"}
	f.c.JoinRoom(late, msg)
	f.c.AddToQueue(late, msg)
	f.c.DequeueUser(late, msg)
	f.c.ExitQueue(late, msg)
	f.c.ImInRoom(late, msg)
	assert.Equal(t, 5, late.Count(types.EventRoomNotFound))
	assert.Equal(t, 0, late.Count(types.EventUpdateQueue))

	f.c.EndAndDestroyRoom(late, msg)
	assert.Equal(t, 5, len(late.Emitted()))
	assert.Empty(t, org.Emitted())
	require.Len(t, f.archive.reports, 1)

	_, err := f.c.Lookup(roomId)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
	assert.Equal(t, 0, f.c.Rooms())
}

func TestArchiveFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.archive.err = errors.New("disk full")
	roomId, org := f.open(t)
	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	assert.Equal(t, 1, org.Count(types.EventFinalReportData))
	assert.Equal(t, 1, f.observer.operations["end-and-destroy-room/ok"])
}

func TestDisconnectKeepsQueue(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	a := f.enter(roomId, "A")
	f.enter(roomId, "B")

	f.c.Disconnect(a)
	assert.False(t, f.hub.IsMember(roomId, a))
	_, ok := f.identities.Get("A")
	assert.False(t, ok)

	f.c.JoinRoom(org, types.RoomMessage{RoomId: roomId, UserId: "org"})
	assert.Equal(t, []string{"A", "B"}, userIds(lastState(t, org)))
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t)
	org := conntest.New("org-conn")

	f.c.HandleMessage(org, types.EventCreateRoom, map[string]interface{}{"organizerId": "org", "queueName": "Desk"})
	data, ok := org.Last(types.EventRoomCreated)
	require.True(t, ok)
	roomId := data.(types.RoomCreatedMessage).RoomId

	a := conntest.New("a-conn")
	raw := json.RawMessage(fmt.Sprintf(`{"roomId":%q,"peerId":"A"}`, roomId))
	f.c.HandleMessage(a, types.EventJoinRoom, raw)
	f.c.HandleMessage(a, types.EventAddToQueue, []byte(fmt.Sprintf(`{"roomId":%q,"userId":"A"}`, roomId)))
	assert.Equal(t, []string{"A"}, userIds(lastState(t, org)))
	assert.Equal(t, "Desk", lastState(t, org).QueueName)

	f.c.HandleMessage(a, types.EventImInRoom, map[string]interface{}{"roomId": roomId, "userId": "A"})
	assert.Equal(t, 1, a.Count(types.EventYesYouIn))

	f.c.HandleMessage(a, types.EventJoinRoom, json.RawMessage(`not json`))
	f.c.HandleMessage(a, types.EventJoinRoom, map[string]interface{}{"roomId": map[string]interface{}{"nested": 1}})
	assert.Equal(t, 2, f.observer.operations["join-room/invalid"])

	f.c.HandleMessage(a, "leave-room", nil)
	assert.Equal(t, 1, f.observer.operations["unknown/invalid"])

	f.c.HandleMessage(org, types.EventDequeueUser, map[string]interface{}{"roomId": roomId})
	assert.Equal(t, 1, a.Count(types.EventQueueCompletionConfirmation))
	f.c.HandleMessage(org, types.EventEndAndDestroyRoom, map[string]interface{}{"roomId": roomId})
	assert.Equal(t, 1, org.Count(types.EventFinalReportData))

	f.c.HandleMessage(a, types.EventExitQueue, map[string]interface{}{"roomId": roomId, "userId": "A"})
	assert.Equal(t, 1, a.Count(types.EventRoomNotFound))
}

func TestConcurrentOperationsOnOneRoom(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	const n = 100
	conns := make([]*conntest.Recorder, n)
	for i := 0; i < n; i++ {
		conns[i] = f.enter(roomId, fmt.Sprintf("u%03d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.c.DequeueUser(org, types.RoomMessage{RoomId: roomId})
		}()
		go func(i int) {
			defer wg.Done()
			f.c.ExitQueue(conns[i], types.RoomMessage{RoomId: roomId, UserId: fmt.Sprintf("u%03d", i)})
		}(i)
	}
	wg.Wait()

	f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	data, ok := org.Last(types.EventFinalReportData)
	require.True(t, ok)
	m := data.(types.FinalReport).Metrics
	assert.Equal(t, n, m.TotalEntered)
	assert.Equal(t, n, m.CheckedIn+m.ExitedEarly)
	assert.Equal(t, 0, m.WaitingAtClose)
	for _, conn := range conns {
		assert.LessOrEqual(t, conn.Count(types.EventQueueCompletionConfirmation), 1, conn.Id())
	}
}

func TestConcurrentAdmitAndDestroy(t *testing.T) {
	f := newFixture(t)
	roomId, org := f.open(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.enter(roomId, fmt.Sprintf("u%02d", i))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.c.EndAndDestroyRoom(org, types.RoomMessage{RoomId: roomId})
	}()
	wg.Wait()

	data, ok := org.Last(types.EventFinalReportData)
	require.True(t, ok)
	m := data.(types.FinalReport).Metrics
	assert.Equal(t, m.TotalEntered, m.WaitingAtClose)
	_, err := f.c.Lookup(roomId)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}
