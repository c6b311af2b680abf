package maintenance

type Status string

const (
	StatusOpen         Status = "open"
	StatusInProgress   Status = "in_progress"
	StatusWaitingParts Status = "waiting_parts"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// transitions is the complete lifecycle of a ticket. A ticket reaches
// completed only through in_progress.
var transitions = map[Status][]Status{
	StatusOpen:         {StatusInProgress, StatusCancelled},
	StatusInProgress:   {StatusWaitingParts, StatusCompleted, StatusCancelled},
	StatusWaitingParts: {StatusInProgress, StatusCancelled},
	StatusCompleted:    nil,
	StatusCancelled:    nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)
