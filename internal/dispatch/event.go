// Package dispatch delivers analytics and notification events outside the
// request path.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// EventType identifies an outbound event
type EventType string

const (
	EventRecomputeSnapshot  EventType = "analytics.recompute_snapshot"
	EventNotifyAssignment   EventType = "notification.assignment"
	EventNotifyStatusChange EventType = "notification.status_change"
)

const dateLayout = "2006-01-02"

// Event is the wire form of every outbound message
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TenantID   string    `json:"tenant_id"`
	ProjectID  int64     `json:"project_id,omitempty"`
	Date       string    `json:"date,omitempty"`
	TaskID     int64     `json:"task_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Day parses the snapshot date of a recompute event
func (e *Event) Day() (time.Time, error) {
	if e.Date == "" {
		return domain.Day(e.OccurredAt), nil
	}
	return time.Parse(dateLayout, e.Date)
}

// Encode marshals the event as JSON
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a JSON event
func DecodeEvent(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" || e.TenantID == "" {
		return nil, fmt.Errorf("decode event: missing type or tenant_id")
	}
	return &e, nil
}

// Dispatcher is the outbound interface used by the lifecycle engine. A
// returned error means the event was not accepted for delivery.
type Dispatcher interface {
	RecomputeSnapshot(ctx context.Context, tenantID string, projectID int64, date time.Time) error
	NotifyAssignment(ctx context.Context, tenantID, userID string, taskID int64) error
	NotifyStatusChange(ctx context.Context, tenantID string, taskID int64, oldStatus, newStatus domain.Status) error
}

// Publisher delivers one event to its destination
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

func newEvent(t EventType, tenantID string, now time.Time) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       t,
		TenantID:   tenantID,
		OccurredAt: now.UTC(),
	}
}
