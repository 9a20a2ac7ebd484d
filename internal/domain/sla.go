package domain

import "time"

// SLARecord holds cumulative seconds per status for one task. DONE has no
// counter because time after completion is not tracked.
type SLARecord struct {
	TaskID              int64     `json:"task_id"`
	OpenSeconds         int64     `json:"open_seconds"`
	InProgressSeconds   int64     `json:"in_progress_seconds"`
	BlockedSeconds      int64     `json:"blocked_seconds"`
	LastStatus          Status    `json:"last_status"`
	LastStatusChangedAt time.Time `json:"last_status_changed_at"`
}

// Counters is the accrual-relevant part of an SLA record
type Counters struct {
	Open       int64
	InProgress int64
	Blocked    int64
}

// Counters extracts the counters
func (r *SLARecord) Counters() Counters {
	return Counters{Open: r.OpenSeconds, InProgress: r.InProgressSeconds, Blocked: r.BlockedSeconds}
}

// SetCounters writes counters back
func (r *SLARecord) SetCounters(c Counters) {
	r.OpenSeconds = c.Open
	r.InProgressSeconds = c.InProgress
	r.BlockedSeconds = c.Blocked
}

// Total is the sum of all tracked seconds
func (c Counters) Total() int64 {
	return c.Open + c.InProgress + c.Blocked
}
