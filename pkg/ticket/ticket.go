// Package ticket defines the unit of work the agent worker operates on and the
// single-writer holder used to share the latest server-side representation.
package ticket

import (
	"sync"
	"time"
)

// Status is the ticket lifecycle state. Transitions are driven by the control
// plane; the worker only reacts to them.
type Status string

const (
	StatusBacklog Status = "backlog"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
	StatusDone    Status = "done"
)

// SubtaskStatus is the per-subtask progress state.
type SubtaskStatus string

const (
	SubtaskIncomplete     SubtaskStatus = "incomplete"
	SubtaskInProgress     SubtaskStatus = "in-progress"
	SubtaskAwaitingReview SubtaskStatus = "awaiting-review"
	SubtaskComplete       SubtaskStatus = "complete"
	SubtaskRejected       SubtaskStatus = "rejected"
)

// Subtask is the atomic unit of developer work.
type Subtask struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      SubtaskStatus `json:"status"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Task groups subtasks under a name and description. Ordered within a ticket.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Subtasks    []Subtask `json:"subtasks"`
}

// Ticket is the unit of work fetched from the control plane.
type Ticket struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Branch      string   `json:"branchName,omitempty"`
	Tasks       []Task   `json:"tasks"`
	Activity    []string `json:"activity"`
	Cost        float64  `json:"cost"`
	MaxCost     float64  `json:"maxCost,omitempty"`
}

// HasValidPlan reports whether the ticket has at least one task and every
// task has at least one subtask.
func (t *Ticket) HasValidPlan() bool {
	if t == nil || len(t.Tasks) == 0 {
		return false
	}
	for i := range t.Tasks {
		if len(t.Tasks[i].Subtasks) == 0 {
			return false
		}
	}
	return true
}

// FindSubtask returns the task and subtask with the given subtask id, or nils.
func (t *Ticket) FindSubtask(subtaskID string) (*Task, *Subtask) {
	for i := range t.Tasks {
		for j := range t.Tasks[i].Subtasks {
			if t.Tasks[i].Subtasks[j].ID == subtaskID {
				return &t.Tasks[i], &t.Tasks[i].Subtasks[j]
			}
		}
	}
	return nil, nil
}

// Holder is a mutable cell holding the latest ticket representation returned
// by the control plane. Tool handlers read through the holder instead of
// capturing stale snapshots; only API responses are written back.
type Holder struct {
	mu sync.RWMutex
	t  *Ticket
}

// NewHolder creates a holder seeded with the given ticket (may be nil).
func NewHolder(t *Ticket) *Holder {
	return &Holder{t: t}
}

// Get returns the current ticket. May be nil before the first fetch.
func (h *Holder) Get() *Ticket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.t
}

// Set replaces the held ticket with a fresh server representation.
func (h *Holder) Set(t *Ticket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.t = t
}
