package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the completion state of a work order.
type Status string

const (
	StatusCompleted    Status = "COMPLETED"
	StatusNotCompleted Status = "NOT_COMPLETED"
)

// ParseStatus normalizes the backend's status spelling. The core API emits
// lower-case names, the web tier upper-case ones.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusNotCompleted), "":
		return StatusNotCompleted, nil
	default:
		return "", fmt.Errorf("models: unknown work order status %q", raw)
	}
}

// UnmarshalJSON normalizes status spelling on decode.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StatusFor returns the status a done/undone toggle targets.
func StatusFor(done bool) Status {
	if done {
		return StatusCompleted
	}
	return StatusNotCompleted
}

// WorkOrder is a field task bound to a machine and a conversation.
type WorkOrder struct {
	OrderID        string `json:"order_id"`
	MachineID      string `json:"machine_id"`
	MachineName    string `json:"machine_name"`
	ConversationID string `json:"conversation_id"`
	TaskName       string `json:"task_name"`
	TaskDesc       string `json:"task_desc"`
	Resolved       Status `json:"resolved"`
}

// Completed reports whether the work order is marked done.
func (w WorkOrder) Completed() bool {
	return w.Resolved == StatusCompleted
}

// WithStatus returns a copy of w carrying status s.
func (w WorkOrder) WithStatus(s Status) WorkOrder {
	w.Resolved = s
	return w
}
