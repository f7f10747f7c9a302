package coordinator

import (
	"time"

	"github.com/tcriess/queue-coordinator/types"
)

// Outcomes of an inbound event, reported to the Observer.
const (
	OutcomeOk       = "ok"
	OutcomeNoop     = "noop"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Observer receives the transitions of the coordinator, typically to export them as metrics.
type Observer interface {
	Operation(event, outcome string)
	RoomOpened(roomId string)
	RoomClosed(roomId string)
	QueueLength(roomId string, n int)
	Departure(kind string, wait time.Duration)
	ServiceGap(gap time.Duration)
}

// Archive stores the final reports of destroyed rooms.
type Archive interface {
	StoreReport(report types.FinalReport) error
}

type nopObserver struct{}

func (nopObserver) Operation(string, string) {}
func (nopObserver) RoomOpened(string) {}
func (nopObserver) RoomClosed(string) {}
func (nopObserver) QueueLength(string, int) {}
func (nopObserver) Departure(string, time.Duration) {}
func (nopObserver) ServiceGap(time.Duration) {}
