// Package sla accrues time spent in each task status.
package sla

import (
	"time"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// Elapsed returns whole seconds between from and now, clamped at zero
func Elapsed(from, now time.Time) int64 {
	secs := int64(now.Sub(from) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Accrue adds elapsed seconds to the counter of the status being left.
// DONE and unknown statuses accrue nothing.
func Accrue(c domain.Counters, old domain.Status, elapsed int64) domain.Counters {
	if elapsed <= 0 {
		return c
	}
	switch old {
	case domain.StatusOpen:
		c.Open += elapsed
	case domain.StatusInProgress:
		c.InProgress += elapsed
	case domain.StatusBlocked:
		c.Blocked += elapsed
	}
	return c
}

// Transition applies a status change to rec at now. The record's own
// LastStatus decides which counter accrues. The change time always becomes
// now, so it never stays ahead of the clock.
func Transition(rec *domain.SLARecord, next domain.Status, now time.Time) {
	elapsed := Elapsed(rec.LastStatusChangedAt, now)
	rec.SetCounters(Accrue(rec.Counters(), rec.LastStatus, elapsed))
	rec.LastStatus = next
	rec.LastStatusChangedAt = now
}

// New returns a zeroed record for a freshly created task
func New(taskID int64, status domain.Status, now time.Time) *domain.SLARecord {
	return &domain.SLARecord{
		TaskID:              taskID,
		LastStatus:          status,
		LastStatusChangedAt: now,
	}
}
