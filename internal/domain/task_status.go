package domain

// TaskStatus represents the current state of a TransferTask.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Rank orders statuses along the lifecycle. Completed and failed share the
// terminal rank. Unknown statuses rank below pending.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusPending:
		return 1
	case TaskStatusInProgress:
		return 2
	case TaskStatusCompleted, TaskStatusFailed:
		return 3
	default:
		return 0
	}
}

func (s TaskStatus) Valid() bool {
	return s.Rank() > 0
}

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether the transfer is still waiting or running.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress
}

// CanTransition reports whether a task may move from one status to another.
// Staying in a non-terminal status is allowed; terminal statuses only allow
// themselves.
func CanTransition(from, to TaskStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.IsTerminal() {
		return from == to
	}
	return to.Rank() >= from.Rank()
}
