package types

// Wait time kinds as they appear on the wire.
const (
	WaitKindCheckedIn   = "checkedIn"
	WaitKindExitedEarly = "exitedEarly"
)

// WaitTime is the time one participant spent in the queue, and how the wait ended.
type WaitTime struct {
	Duration int64  `json:"duration"` // millis
	Type     string `json:"type"`
}

// Metrics is the final, serialized state of a room's metrics accumulator.
// All timestamps are unix millis, all durations millis.
type Metrics struct {
	StartTime      int64      `json:"startTime"`
	EndTime        int64      `json:"endTime"`
	DurationMs     int64      `json:"durationMs"`
	TotalEntered   int        `json:"totalEntered"`
	CheckedIn      int        `json:"checkedIn"`
	ExitedEarly    int        `json:"exitedEarly"`
	WaitingAtClose int        `json:"waitingAtClose"`
	WaitTimes      []WaitTime `json:"waitTimes"`
	ServiceTimes   []int64    `json:"serviceTimes"`
}

// FinalReport is sent once to the organizer when a room is destroyed.
type FinalReport struct {
	RoomId    string  `json:"roomId"`
	QueueName string  `json:"queueName"`
	Metrics   Metrics `json:"metrics"`
}
