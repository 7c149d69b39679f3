package domain

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomScheduled RoomStatus = "scheduled"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
	RoomCancelled RoomStatus = "cancelled"
)

var transitions = map[RoomStatus][]RoomStatus{
	RoomScheduled: {RoomActive, RoomCancelled},
	RoomActive:    {RoomCompleted, RoomCancelled},
}

// CanTransitionTo reports whether next is a legal edge from s.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RoomStatus) Terminal() bool {
	return s == RoomCompleted || s == RoomCancelled
}

// Valid reports whether s is a known status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomScheduled, RoomActive, RoomCompleted, RoomCancelled:
		return true
	}
	return false
}
