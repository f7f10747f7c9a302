package types

// Events sent from the clients to the coordinator.
const (
	EventCreateRoom        = "create-room"
	EventJoinRoom          = "join-room"
	EventAddToQueue        = "add-to-queue"
	EventDequeueUser       = "dequeue-user"
	EventExitQueue         = "exit-queue"
	EventImInRoom          = "im-in-room"
	EventEndAndDestroyRoom = "end-and-destroy-room"
)

// Events sent from the coordinator to the clients.
const (
	EventRoomCreated                 = "room-created"
	EventRoomNotFound                = "room-not-found"
	EventUpdateQueue                 = "update-queue"
	EventQueueCompletionConfirmation = "queue-completion-confirmation"
	EventYesYouIn                    = "yes-you-in"
	EventFinalReportData             = "final-report-data"
	EventQueueEnded                  = "queue-ended"
)

// Empty is the payload of events that carry no data.
type Empty struct{}

// The different types of messages transferred from the client to here.

// CreateRoomMessage is sent by an organizer to open a new room.
type CreateRoomMessage struct {
	OrganizerId string `json:"organizerId" mapstructure:"organizerId"`
	QueueName   string `json:"queueName" mapstructure:"queueName"`
	Attention   string `json:"attention" mapstructure:"attention"`
}

// RoomMessage addresses a room and, for most events, a user in it.
// PeerId is the legacy name of UserId used by older clients on join-room.
type RoomMessage struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
	UserId string `json:"userId" mapstructure:"userId"`
	PeerId string `json:"peerId,omitempty" mapstructure:"peerId"`
}

// User returns the addressed user id, falling back to the legacy peer id.
func (m RoomMessage) User() string {
	if m.UserId != "" {
		return m.UserId
	}
	return m.PeerId
}

// The different types of messages transferred from here to the clients.

// RoomCreatedMessage acknowledges a create-room request.
type RoomCreatedMessage struct {
	RoomId string `json:"roomId"`
}

// QueueUpdateMessage is the full room state pushed to every connection of a room.
// Participants are in service order; clients derive positions from it and nothing else.
type QueueUpdateMessage struct {
	QueueName    string        `json:"queueName"`
	Attention    string        `json:"attention"`
	Participants []Participant `json:"participants"`
	OrganizerId  string        `json:"organizerId"`
}

// Participant is the wire view of a queued user.
type Participant struct {
	UserId   string `json:"userId"`
	JoinTime int64  `json:"joinTime"` // unix millis
}
