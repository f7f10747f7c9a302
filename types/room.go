package types

// RoomInfo is the read-only projection served by the room lookup endpoint.
type RoomInfo struct {
	RoomId      string `json:"roomId"`
	OrganizerId string `json:"organizerId"`
	QueueName   string `json:"queueName"`
	Waiting     int    `json:"waiting"`
}
