package domain

import (
	"encoding/json"
	"time"
)

// ActionKind classifies an activity record
type ActionKind string

const (
	ActionCreate       ActionKind = "CREATE"
	ActionStatusChange ActionKind = "STATUS_CHANGE"
	ActionAssign       ActionKind = "ASSIGN"
	ActionComment      ActionKind = "COMMENT"
	ActionDelete       ActionKind = "DELETE"
	ActionUpdate       ActionKind = "UPDATE"
)

// ChangeSet maps field names to values. It is stored as a JSON object so
// audit records stay machine readable.
type ChangeSet map[string]any

// MarshalJSONB encodes the change set for a JSONB column. Nil stays NULL.
func (c ChangeSet) MarshalJSONB() ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// ParseChangeSet decodes a JSONB column
func ParseChangeSet(b []byte) (ChangeSet, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var c ChangeSet
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// Activity is an immutable audit entry for one task mutation
type Activity struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task_id"`
	Action    ActionKind `json:"action"`
	OldValue  ChangeSet  `json:"old_value,omitempty"`
	NewValue  ChangeSet  `json:"new_value,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	ActorID   string     `json:"actor_id"`
	CreatedAt time.Time  `json:"created_at"`
}
