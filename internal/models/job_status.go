package models

/*
Task and generation state constants. The transition table below is the only place
that decides which status changes are legal; stores apply it as a conditional update.
*/

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusSuccess TaskStatus = "SUCCESS"
	TaskStatusFailed  TaskStatus = "FAILED"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusSuccess, TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources lists the statuses a task may be in to move to the given status.
func TransitionSources(to TaskStatus) []TaskStatus {
	var sources []TaskStatus
	for _, from := range []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusSuccess, TaskStatusFailed} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// IsTerminal reports whether the status can never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSuccess, TaskStatusFailed:
		return true
	}
	return false
}

type GenerationState string

const (
	GenerationBuilding GenerationState = "building"
	GenerationCurrent  GenerationState = "current"
	GenerationRetired  GenerationState = "retired"
)
