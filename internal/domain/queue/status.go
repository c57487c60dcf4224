package queue

// MapAppointmentStatus derives the queue status for an appointment status.
// The second result is false when the status is not one the ledger is known
// to produce; such statuses still map to waiting.
func MapAppointmentStatus(s AppointmentStatus) (QueueStatus, bool) {
	switch s {
	case AppointmentCompleted, AppointmentCancelled:
		return StatusCompleted, true
	case AppointmentInProgress, AppointmentCheckedIn:
		return StatusInProgress, true
	case AppointmentScheduled, AppointmentConfirmed:
		return StatusWaiting, true
	default:
		return StatusWaiting, false
	}
}

// bucketRank orders statuses for display: waiting, in progress, completed.
// Anything else sorts last.
func bucketRank(s QueueStatus) int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return 4
	}
}
