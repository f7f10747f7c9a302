package room

import (
	"time"

	"github.com/samber/lo"
	"github.com/tcriess/queue-coordinator/types"
)

// WaitKind tells how a participant left the queue.
type WaitKind int

const (
	WaitServed WaitKind = iota
	WaitExitedEarly
)

func (k WaitKind) String() string {
	if k == WaitExitedEarly {
		return types.WaitKindExitedEarly
	}
	return types.WaitKindCheckedIn
}

type WaitRecord struct {
	Duration time.Duration
	Kind     WaitKind
}

// Metrics accumulates the flow of one room. It is owned by the room and only read when the room is destroyed.
type Metrics struct {
	StartTime    time.Time
	TotalEntered int
	CheckedIn    int
	ExitedEarly  int
	WaitTimes    []WaitRecord
	ServiceTimes []time.Duration
}

func newMetrics(start time.Time) Metrics {
	return Metrics{
		StartTime:    start,
		WaitTimes:    make([]WaitRecord, 0),
		ServiceTimes: make([]time.Duration, 0),
	}
}

func (m *Metrics) recordAdmission() {
	m.TotalEntered++
}

func (m *Metrics) recordServed(wait time.Duration) {
	m.CheckedIn++
	m.WaitTimes = append(m.WaitTimes, WaitRecord{Duration: wait, Kind: WaitServed})
}

func (m *Metrics) recordExit(wait time.Duration) {
	m.ExitedEarly++
	m.WaitTimes = append(m.WaitTimes, WaitRecord{Duration: wait, Kind: WaitExitedEarly})
}

func (m *Metrics) recordServiceGap(gap time.Duration) {
	m.ServiceTimes = append(m.ServiceTimes, gap)
}

// Report stamps the end of the room and renders the accumulator in its wire form.
func (m *Metrics) Report(end time.Time, waitingAtClose int) types.Metrics {
	return types.Metrics{
		StartTime:      m.StartTime.UnixMilli(),
		EndTime:        end.UnixMilli(),
		DurationMs:     end.Sub(m.StartTime).Milliseconds(),
		TotalEntered:   m.TotalEntered,
		CheckedIn:      m.CheckedIn,
		ExitedEarly:    m.ExitedEarly,
		WaitingAtClose: waitingAtClose,
		WaitTimes: lo.Map(m.WaitTimes, func(w WaitRecord, _ int) types.WaitTime {
			return types.WaitTime{Duration: w.Duration.Milliseconds(), Type: w.Kind.String()}
		}),
		ServiceTimes: lo.Map(m.ServiceTimes, func(d time.Duration, _ int) int64 {
			return d.Milliseconds()
		}),
	}
}
