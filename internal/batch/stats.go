package batch

// Trigger identifies what caused a flush.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerSize
	TriggerTimer
	TriggerShutdown
)

func (t Trigger) String() string {
	switch t {
	case TriggerManual:
		return "manual"
	case TriggerSize:
		return "size"
	case TriggerTimer:
		return "timer"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time copy of the coordinator counters.
type Stats struct {
	TotalSubmitted    int64 `json:"total_submitted"`
	CurrentlyBuffered int64 `json:"currently_buffered"`
	TotalFlushed      int64 `json:"total_flushed"`

	// Records swapped out of the buffer whose sink write has not returned.
	InFlightRecords int64 `json:"in_flight_records"`

	FlushCount            int64 `json:"flush_count"`
	TimerTriggeredFlushes int64 `json:"timer_triggered_flushes"`
	SizeTriggeredFlushes  int64 `json:"size_triggered_flushes"`

	// Batches the store rejected. They are not re-buffered.
	DroppedBatches int64 `json:"dropped_batches"`
	DroppedRecords int64 `json:"dropped_records"`

	LastFlushAtMillis int64 `json:"last_flush_at_millis"`
	Running           bool  `json:"running"`
}
