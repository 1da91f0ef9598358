package waitlist

// Status represents the lifecycle state of a waitlist entry
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusNotified  Status = "NOTIFIED"
	StatusConfirmed Status = "CONFIRMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{StatusWaiting, StatusNotified, StatusConfirmed, StatusExpired, StatusCancelled}

var validTransitions = map[Status][]Status{
	StatusWaiting:  {StatusNotified, StatusCancelled},
	StatusNotified: {StatusConfirmed, StatusExpired, StatusCancelled},
}

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusNotified, StatusConfirmed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition may leave the status
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusCancelled
}

// IsActive reports whether the entry still holds a place in the waitlist
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusNotified
}

// CanTransitionTo checks if transition to target status is allowed
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
