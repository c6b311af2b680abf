package asset

type Status string

const (
	StatusAvailable        Status = "available"
	StatusInUse            Status = "in_use"
	StatusUnderMaintenance Status = "under_maintenance"
	StatusDisposed         Status = "disposed"
	StatusLost             Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusUnderMaintenance, StatusDisposed, StatusLost:
		return true
	}
	return false
}

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool { return s == StatusDisposed }

type EventType string

const (
	EventCreated              EventType = "created"
	EventUpdated              EventType = "updated"
	EventAssigned             EventType = "assigned"
	EventUnassigned           EventType = "unassigned"
	EventTransferred          EventType = "transferred"
	EventMaintenanceStarted   EventType = "maintenance_started"
	EventMaintenanceCompleted EventType = "maintenance_completed"
	EventDisposed             EventType = "disposed"
	EventLost                 EventType = "lost"
	EventFound                EventType = "found"
)

// transitions lists, per event, the statuses it may start from and the
// status it leads to. Transfer keeps its own rule: it always lands on
// available.
var transitions = map[EventType]struct {
	from []Status
	to   Status
}{
	EventAssigned:             {from: []Status{StatusAvailable}, to: StatusInUse},
	EventUnassigned:           {from: []Status{StatusInUse}, to: StatusAvailable},
	EventTransferred:          {from: []Status{StatusAvailable, StatusInUse}, to: StatusAvailable},
	EventMaintenanceStarted:   {from: []Status{StatusAvailable, StatusInUse}, to: StatusUnderMaintenance},
	EventMaintenanceCompleted: {from: []Status{StatusUnderMaintenance}, to: StatusAvailable},
	EventDisposed:             {from: []Status{StatusAvailable, StatusInUse, StatusUnderMaintenance, StatusLost}, to: StatusDisposed},
	EventLost:                 {from: []Status{StatusAvailable, StatusInUse, StatusUnderMaintenance}, to: StatusLost},
	EventFound:                {from: []Status{StatusLost}, to: StatusAvailable},
}

// next returns the status ev leads to from cur, or false when ev is not
// allowed from cur.
func next(cur Status, ev EventType) (Status, bool) {
	t, ok := transitions[ev]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == cur {
			return t.to, true
		}
	}
	return "", false
}
