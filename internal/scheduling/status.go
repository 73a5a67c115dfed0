package scheduling

// transitions is the full appointment lifecycle graph. Completed and
// Cancelled are terminal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s names a known appointment status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a requested status change including the
// cancel-reason requirement. It does not apply the change.
func CheckTransition(from, to Status, cancelReason string) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	if to == StatusCancelled && cancelReason == "" {
		return ErrReasonRequired
	}
	return nil
}
