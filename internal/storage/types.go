package storage

import "time"

// Record is one blocked-request event.
type Record struct {
	ID        int64 // assigned by the store; zero before insertion
	URL       string
	Host      string
	Reason    string
	Timestamp int64 // milliseconds since epoch, set by the producer at capture time
	Reported  bool
	SourceID  string // browser/session correlation tag
	TabID     int64

	// Acknowledgment metadata, written by MarkReported and MarkFailed.
	ReportStatus   int
	ReportResponse string
	ReportedAt     int64
	ReportFailures int
}

// Time returns the capture timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Ack carries the outcome of one delivery attempt to the remote endpoint.
type Ack struct {
	StatusCode int
	Response   string
}

// Statistics is a live count over persisted rows, taken in a single query.
type Statistics struct {
	Total      int64
	Unreported int64
	Reported   int64
	// Failed counts unreported rows with at least one failed delivery attempt.
	Failed int64
}
